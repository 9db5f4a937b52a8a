package sdk

import "sync"

// ErrorRecord is one entry of state.errors (§3.4, §7). ID is a uuid
// stamped by RecordOf, not interpreted by anything in the core.
type ErrorRecord struct {
	ID      string      `json:"id"`
	NodeID  string      `json:"node_id"`
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// State is the single mutable record the engine threads through a run
// (§3.4). Node execution publishes into Data, Errors and RouterLabels
// exactly once per id; the mutex serializes those publishes the way the
// teacher relies on Redis's own atomicity for its distributed
// equivalent — in-process, a plain sync.Mutex is the idiomatic
// replacement (§5 "Shared resources").
type State struct {
	mu sync.Mutex

	// RunID is a uuid stamped once by the engine before any node runs and
	// never written again, so unlike the fields below it needs no lock.
	RunID string

	Input        map[string]interface{}
	data         map[string]interface{}
	errors       []ErrorRecord
	Output       map[string]interface{}
	LastNode     string
	routerLabels map[string]string
}

// NewState creates a fresh runtime state for one invocation.
func NewState(input map[string]interface{}) *State {
	return &State{
		Input:        input,
		data:         make(map[string]interface{}),
		routerLabels: make(map[string]string),
	}
}

// SetData publishes a node's output. Per the invariant in §3.4, this
// must be called at most once per node id; callers (the engine) own
// that guarantee, not this method.
func (s *State) SetData(nodeID string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[nodeID] = value
	s.LastNode = nodeID
}

// GetData returns a node's published output, if any.
func (s *State) GetData(nodeID string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[nodeID]
	return v, ok
}

// HasData reports whether a node has published its output yet.
func (s *State) HasData(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[nodeID]
	return ok
}

// LastNodeSnapshot returns the id of the most recently published node,
// under the same lock SetData writes it with. Used by $state.last_node
// (§5 "reads of shared state go through a synchronization primitive");
// reading the exported LastNode field directly would race against a
// concurrent SetData.
func (s *State) LastNodeSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastNode
}

// DataSnapshot returns a shallow copy of all published node outputs,
// for callers that need a consistent view across several ids.
func (s *State) DataSnapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// AppendError appends to state.errors. Append-only per §3.4.
func (s *State) AppendError(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, rec)
}

// Errors returns a copy of the error list so far.
func (s *State) Errors() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorRecord, len(s.errors))
	copy(out, s.errors)
	return out
}

// HasErrors reports whether any error has been recorded yet.
func (s *State) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors) > 0
}

// SetRouterLabel records a router's selected label. Per §3.4 this is
// set exactly once per router id, before any downstream conditional
// edge of that router is considered; the engine enforces the "once"
// part by only ever calling this from the router's own completion.
func (s *State) SetRouterLabel(routerID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routerLabels[routerID] = label
}

// RouterLabel returns the label a router selected, if it has run yet.
func (s *State) RouterLabel(routerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.routerLabels[routerID]
	return label, ok
}

// RouterLabelsSnapshot returns a copy of every router label set so far,
// keyed by router id. Used by $state.router_labels.
func (s *State) RouterLabelsSnapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.routerLabels))
	for k, v := range s.routerLabels {
		out[k] = v
	}
	return out
}

// SetOutput records the final computed output (written once, by the
// implicit end node).
func (s *State) SetOutput(output map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Output = output
}
