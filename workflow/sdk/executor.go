package sdk

import (
	"context"
	"sync"
)

// Executor is the per-kind dispatch contract of §6.1. The engine calls
// Execute with the node's resolved inputs and its opaque kind-specific
// config; Execute returns either a JSON-serializable result or an error,
// which the engine records as an ExecutorError.
type Executor interface {
	Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error)
}

// Registry maps a node kind string to the Executor that handles it
// (§6.1). It plays the role the teacher's StreamRouter plays for
// dispatching stream messages to handlers, generalized from a fixed
// message-type switch to an open, caller-populated kind map.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates a Registry pre-populated with the one kind whose
// contract the core itself fully specifies (§6.1 "noop: returns the
// resolved inputs unchanged"); every other kind is opaque and must be
// registered by the caller. Register("noop", ...) still overrides it.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("noop", NoopExecutor{})
	return r
}

// NoopExecutor implements the "noop" kind's full contract: it returns
// its resolved input unchanged (§6.1).
type NoopExecutor struct{}

func (NoopExecutor) Execute(_ context.Context, input map[string]interface{}, _ map[string]interface{}) (interface{}, error) {
	return input, nil
}

// Register binds kind to ex. A later call with the same kind replaces
// the earlier binding.
func (r *Registry) Register(kind string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = ex
}

// Has reports whether kind has a registered Executor. The Validator and
// Compiler use this to reject an unregistered kind (§4.4 check 9, §6.1).
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[kind]
	return ok
}

// Get returns the Executor bound to kind, if any.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	return ex, ok
}
