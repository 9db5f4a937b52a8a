// Package workflow is the public entry point of the workflow core: it
// wires the Validator, Compiler, and Engine together behind the two
// operations of §6.3 (validate, invoke), the way the teacher's
// cmd/workflow-runner/main.go wires its SDK, Coordinator, and workers
// together, minus the Redis/Postgres/HTTP plumbing that ties the
// teacher's version to a distributed deployment.
package workflow

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-core/internal/logging"
	"github.com/flowforge/workflow-core/workflow/compiler"
	"github.com/flowforge/workflow-core/workflow/condition"
	"github.com/flowforge/workflow-core/workflow/engine"
	"github.com/flowforge/workflow-core/workflow/sdk"
	"github.com/flowforge/workflow-core/workflow/validator"
)

// Re-exported so callers only ever need to import this package for the
// public surface: the document model, the runtime state, the executor
// contract, and the typed errors.
type (
	Document = sdk.Document
	Node     = sdk.Node
	Edge     = sdk.Edge
	State    = sdk.State
	Graph    = sdk.Graph
	Executor = sdk.Executor
	Registry = sdk.Registry

	ValidationError = sdk.ValidationError
	CompileError    = sdk.CompileError
)

// NewRegistry creates an executor Registry (§6.1) with only the built-in
// "noop" executor registered.
func NewRegistry() *Registry { return sdk.NewRegistry() }

// LoadDocument parses a workflow document from YAML or JSON bytes
// (§6.2).
func LoadDocument(data []byte) (*Document, error) { return sdk.LoadDocument(data) }

// Runtime bundles the Validator, the Compiler and the Engine against one
// executor Registry, sharing a single
// condition.Evaluator so a router case's compiled CEL program is
// compiled once and reused across Compile and every Run.
type Runtime struct {
	registry   *Registry
	conditions *condition.Evaluator
	validator  *validator.Validator
	compiler   *compiler.Compiler
	engine     *engine.Engine
}

// NewRuntime creates a Runtime bound to registry. logger may be nil, in
// which case log output is discarded.
func NewRuntime(registry *Registry, logger *logging.Logger) *Runtime {
	conditions := condition.NewEvaluator()
	return &Runtime{
		registry:   registry,
		conditions: conditions,
		validator:  validator.New(registry),
		compiler:   compiler.New(registry, conditions),
		engine:     engine.New(registry, conditions, logger),
	}
}

// Validate runs the Validator only (§6.3 "validate(document)"). A nil
// return means the document is valid.
func (r *Runtime) Validate(doc *Document) *ValidationError {
	return r.validator.Validate(doc)
}

// Compile runs the Compiler (§4.5). Callers can call this directly to
// catch a compile-time-only failure (unknown kind, forbidden condition
// syntax, cycle) without executing anything; Invoke runs the same
// compile step itself.
func (r *Runtime) Compile(doc *Document) (*Graph, error) {
	return r.compiler.Compile(doc)
}

// Result is invoke's observable outcome (§6.3): the final output, if
// the run reached and passed the implicit end node, and the full
// ordered error list.
type Result struct {
	Output map[string]interface{}
	Errors []sdk.ErrorRecord
}

// Invoke validates, compiles, and executes doc against input (§6.3
// "invoke(document, input)"). Validation or compilation failures abort
// before any node runs and are reported through err, not through
// Result.Errors, which is reserved for the per-node/run-level error
// taxonomy of §7 that a structurally valid workflow can still produce.
func (r *Runtime) Invoke(ctx context.Context, doc *Document, input map[string]interface{}) (*Result, error) {
	if verr := r.Validate(doc); verr != nil {
		return nil, verr
	}

	graph, err := r.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	state, err := r.engine.Run(ctx, doc, graph, input)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return &Result{Output: state.Output, Errors: state.Errors()}, nil
}
