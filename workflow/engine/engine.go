// Package engine implements the scheduler of §4.6: a fan-out/fan-in
// executor over a compiled graph, driven by per-node predecessor
// counters instead of the teacher's Redis-backed coordinator. The
// teacher's coordinator.Coordinator blocks on a Redis stream
// (BLPOP-style) and applies atomic Lua-script deltas to counters kept in
// Redis; this in-process engine keeps the same "counter reaches zero ->
// node is ready" model but holds the counters as sync/atomic values and
// fans work out with goroutines supervised by golang.org/x/sync/errgroup
// instead of a distributed queue.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/workflow-core/internal/logging"
	"github.com/flowforge/workflow-core/workflow/condition"
	"github.com/flowforge/workflow-core/workflow/resolver"
	"github.com/flowforge/workflow-core/workflow/sdk"
)

// inputNodeID labels the error record raised when invocation input fails
// input.schema validation, before any real node has run.
const inputNodeID = "input"

// Engine runs a compiled graph against an invocation input.
type Engine struct {
	registry   *sdk.Registry
	mapping    *resolver.Mapping
	conditions *condition.Evaluator
	logger     *logging.Logger
}

// New creates an Engine. conditions is shared with the Compiler so a
// router case's CEL program, once compiled for the compile-time syntax
// check, is reused rather than recompiled on every evaluation.
func New(registry *sdk.Registry, conditions *condition.Evaluator, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		registry:   registry,
		mapping:    resolver.NewMapping(),
		conditions: conditions,
		logger:     logger,
	}
}

// Run executes graph against input and returns the terminal state. The
// returned error is non-nil only for an unexpected engine-internal
// failure; ordinary run outcomes (missing output, recorded errors) are
// carried in the returned *sdk.State per §6.3's invoke contract.
//
// Invocation input is validated against doc.Input.Schema before any node
// runs (§3.1 "validates invocation input"); a mismatch is recorded as an
// InputSchemaError and the run ends immediately with no node executed,
// the same way a structurally invalid document never reaches the
// scheduler.
func (e *Engine) Run(ctx context.Context, doc *sdk.Document, graph *sdk.Graph, input map[string]interface{}) (*sdk.State, error) {
	state := sdk.NewState(input)
	state.RunID = uuid.New().String()
	runLogger := e.logger.WithRunID(state.RunID)

	if err := validateInputSchema(input, doc.Input.Schema); err != nil {
		state.AppendError(sdk.RecordOf(inputNodeID, err))
		return state, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &scheduler{
		engine:    e,
		doc:       doc,
		graph:     graph,
		state:     state,
		logger:    runLogger,
		failFast:  doc.FailFastOrDefault(),
		cancel:    cancel,
		remaining: make(map[string]*atomic.Int32, len(graph.Nodes)),
		alive:     make(map[string]*atomic.Int32, len(graph.Nodes)),
	}
	for id, gn := range graph.Nodes {
		remaining := &atomic.Int32{}
		remaining.Store(int32(len(gn.Incoming)))
		s.remaining[id] = remaining
		s.alive[id] = &atomic.Int32{}
	}

	var group errgroup.Group
	s.group = &group

	// start is the entry point: no predecessors of its own, never
	// skipped, publishes nothing (§4.5 "Implicit start").
	s.propagate(runCtx, sdk.StartID, false)

	if err := group.Wait(); err != nil {
		return state, err
	}
	return state, nil
}

// scheduler holds the per-run mutable scheduling state: the predecessor
// counters and the goroutine group, alongside the shared *sdk.State the
// node executions publish into.
type scheduler struct {
	engine   *Engine
	doc      *sdk.Document
	graph    *sdk.Graph
	state    *sdk.State
	logger   *logging.Logger
	failFast bool
	cancel   context.CancelFunc
	group    *errgroup.Group

	// remaining[id] counts unsatisfied predecessors of id (§4.6
	// "Model"); alive[id] counts how many of id's incoming edges were
	// satisfied rather than pruned or from a skipped source. A node
	// whose remaining count reaches zero with alive == 0 is skipped.
	remaining map[string]*atomic.Int32
	alive     map[string]*atomic.Int32

	aborted atomic.Bool
}

// propagate is called once a node (fromID) has finished, successfully,
// with an error, or by being skipped. It decrements every downstream
// node's remaining count and, for edges that weren't pruned, its alive
// count, then triggers scheduling for any node that just reached zero.
func (s *scheduler) propagate(ctx context.Context, fromID string, fromSkipped bool) {
	from := s.graph.Nodes[fromID]
	for _, e := range from.Outgoing {
		edgeAlive := !fromSkipped && (!e.IsConditional() || s.routerSelected(fromID, e.WhenLabel))
		if edgeAlive {
			s.alive[e.To].Add(1)
		}
		if s.remaining[e.To].Add(-1) == 0 {
			s.onReady(ctx, e.To)
		}
	}
}

func (s *scheduler) routerSelected(routerID, label string) bool {
	selected, ok := s.state.RouterLabel(routerID)
	return ok && selected == label
}

// onReady decides, for a node whose remaining count just hit zero,
// whether it runs or is skipped, and whether fail-fast has already
// halted scheduling.
func (s *scheduler) onReady(ctx context.Context, id string) {
	if s.aborted.Load() {
		// §4.6 "Fail-fast": cease scheduling new nodes. This node is
		// simply never touched: no data, no error, same as a skip.
		return
	}

	gn := s.graph.Nodes[id]
	skipped := len(gn.Incoming) > 0 && s.alive[id].Load() == 0
	if skipped {
		s.propagate(ctx, id, true)
		return
	}

	s.group.Go(func() error {
		s.execute(ctx, gn)
		s.propagate(ctx, gn.ID, false)
		return nil
	})
}

// execute dispatches a ready node by kind: the two engine-internal kinds
// (router, end) are handled in-process (§6.1, §4.5); everything else
// goes through the registered Executor.
func (s *scheduler) execute(ctx context.Context, gn *sdk.GraphNode) {
	switch gn.Kind {
	case "end":
		s.executeEnd()
	case sdk.KindRouter:
		s.executeRouter(gn)
	default:
		s.executeDispatched(ctx, gn)
	}
}

func (s *scheduler) executeDispatched(ctx context.Context, gn *sdk.GraphNode) {
	n := gn.Node
	resolvedInput, err := s.engine.mapping.ResolveInputMapping(n.InputMapping, s.state, strictForKind(n.Kind))
	if err != nil {
		s.recordError(gn.ID, err)
		return
	}

	executor, ok := s.engine.registry.Get(n.Kind)
	if !ok {
		// The Compiler is expected to have already rejected a document
		// with an unregistered kind; this is a defensive fallback.
		s.recordError(gn.ID, &sdk.ExecutorError{NodeID: gn.ID, Cause: fmt.Errorf("no executor registered for kind %q", n.Kind)})
		return
	}

	nodeCtx := ctx
	if n.TimeoutS != nil {
		var nodeCancel context.CancelFunc
		nodeCtx, nodeCancel = context.WithTimeout(ctx, time.Duration(*n.TimeoutS*float64(time.Second)))
		defer nodeCancel()
	}

	jobID := uuid.New().String()
	s.nodeLogger(gn.ID).Debug("dispatching node", "job_id", jobID, "kind", n.Kind)

	raw, err := executor.Execute(nodeCtx, resolvedInput, n.Config)
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded {
			s.recordError(gn.ID, &sdk.TimeoutError{NodeID: gn.ID})
		} else {
			s.recordError(gn.ID, &sdk.ExecutorError{NodeID: gn.ID, Cause: err})
		}
		return
	}

	published, err := s.engine.mapping.ApplyOutputMapping(n.OutputMapping, raw)
	if err != nil {
		s.recordError(gn.ID, err)
		return
	}
	s.state.SetData(gn.ID, published)
}

// executeRouter evaluates the router's cases in declaration order and
// publishes {"label": L} as its raw result (§6.1, §4.6 "Router
// branching").
func (s *scheduler) executeRouter(gn *sdk.GraphNode) {
	n := gn.Node

	// A router's own input_mapping, if declared, is resolved
	// non-strictly for uniformity with every other node kind, but its
	// branching doesn't consume it: each case condition resolves its
	// own references independently (§4.2's strictness table lists
	// "router (condition refs)" as the thing that's non-strict, not a
	// router's input_mapping result).
	if len(n.InputMapping) > 0 {
		if _, err := s.engine.mapping.ResolveInputMapping(n.InputMapping, s.state, false); err != nil {
			s.recordError(gn.ID, err)
			return
		}
	}

	label, err := s.selectLabel(n)
	if err != nil {
		s.recordError(gn.ID, err)
		return
	}

	raw := map[string]interface{}{"label": label}
	published, err := s.engine.mapping.ApplyOutputMapping(n.OutputMapping, raw)
	if err != nil {
		s.recordError(gn.ID, err)
		return
	}

	s.state.SetRouterLabel(gn.ID, label)
	s.state.SetData(gn.ID, published)
}

// selectLabel evaluates a router's cases top-to-bottom and returns the
// first truthy one, falling back to default (§4.6 "Router condition
// order"). A per-case evaluation error is logged and treated as false
// for that case (§4.3); it does not fail the router.
func (s *scheduler) selectLabel(n *sdk.Node) (string, error) {
	for _, c := range n.Cases {
		matched, err := s.engine.conditions.Evaluate(c.Condition, s.state)
		if err != nil {
			s.nodeLogger(n.ID).Warn("router case evaluation error, treating as false",
				"case", c.Label, "error", err)
			continue
		}
		if matched {
			return c.Label, nil
		}
	}
	if n.Default != "" {
		return n.Default, nil
	}
	return "", &sdk.RouterNoMatchError{NodeID: n.ID}
}

// executeEnd computes the implicit end node's output and validates it
// against output.schema (§4.5 "Implicit end").
func (s *scheduler) executeEnd() {
	output, err := s.engine.mapping.ResolveInputMapping(s.doc.Output.InputMapping, s.state, true)
	if err != nil {
		s.recordError(sdk.EndID, err)
		return
	}
	if err := validateOutputSchema(output, s.doc.Output.Schema); err != nil {
		s.recordError(sdk.EndID, err)
		return
	}
	s.state.SetOutput(output)
}

// nodeLogger tags the run-scoped logger with a node id, falling back to
// the engine's bare logger for a scheduler built without one (one not
// constructed through Run).
func (s *scheduler) nodeLogger(nodeID string) *logging.Logger {
	if s.logger == nil {
		return s.engine.logger.WithNodeID(nodeID)
	}
	return s.logger.WithNodeID(nodeID)
}

// recordError appends a node-level error and, under fail_fast, triggers
// the single best-effort cancellation broadcast (§4.6 "Fail-fast",
// §5 "Cancellation").
func (s *scheduler) recordError(nodeID string, err error) {
	s.state.AppendError(sdk.RecordOf(nodeID, err))
	if s.failFast && !s.aborted.Swap(true) {
		s.cancel()
	}
}

// strictForKind is the table in §4.2: every kind is strict except
// jq_transform and router.
func strictForKind(kind string) bool {
	switch kind {
	case "jq_transform", sdk.KindRouter:
		return false
	default:
		return true
	}
}

// schemaIssues runs data against schema and returns the joined validation
// messages, empty if data is valid or schema == nil (schemas are optional,
// §3.1/§3.2). Shared by the input- and output-schema checks so both go
// through the same gojsonschema.Validate + message-joining logic.
func schemaIssues(data map[string]interface{}, schema map[string]interface{}) string {
	if schema == nil {
		return ""
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return strings.Join(msgs, "; ")
}

func validateOutputSchema(output map[string]interface{}, schema map[string]interface{}) error {
	if reason := schemaIssues(output, schema); reason != "" {
		return &sdk.OutputSchemaError{Reason: reason}
	}
	return nil
}

// validateInputSchema checks invocation input against input.schema before
// any node runs (§3.1 "validates invocation input").
func validateInputSchema(input map[string]interface{}, schema map[string]interface{}) error {
	if reason := schemaIssues(input, schema); reason != "" {
		return &sdk.InputSchemaError{Reason: reason}
	}
	return nil
}
