package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/workflow-core/internal/logging"
	"github.com/flowforge/workflow-core/workflow/compiler"
	"github.com/flowforge/workflow-core/workflow/condition"
	"github.com/flowforge/workflow-core/workflow/sdk"
)

type funcExecutor func(ctx context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error)

func (f funcExecutor) Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	return f(ctx, input, config)
}

func newEngine(t *testing.T, registry *sdk.Registry) (*Engine, *condition.Evaluator, *compiler.Compiler) {
	t.Helper()
	conditions := condition.NewEvaluator()
	return New(registry, conditions, logging.Discard()), conditions, compiler.New(registry, conditions)
}

func TestRun_NoopRoundTrip(t *testing.T) {
	registry := sdk.NewRegistry()
	e, _, c := newEngine(t, registry)

	doc := &sdk.Document{
		ID: "wf",
		Output: sdk.OutputSpec{
			InputMapping: sdk.Mapping{"echoed": "$nodes.pass.x"},
			Schema:       map[string]interface{}{"type": "object"},
		},
		Nodes: []sdk.Node{
			{ID: "pass", Kind: "noop", InputMapping: sdk.Mapping{"x": "$input.x"}},
		},
		Edges: []sdk.Edge{
			{From: sdk.StartID, To: "pass"},
			{From: "pass", To: sdk.EndID},
		},
	}

	graph, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	state, err := e.Run(context.Background(), doc, graph, map[string]interface{}{"x": 42.0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.HasErrors() {
		t.Fatalf("unexpected errors: %+v", state.Errors())
	}
	if state.Output["echoed"] != 42.0 {
		t.Errorf("output = %+v, want echoed=42", state.Output)
	}
}

func TestRun_RouterBranchingWithSkip(t *testing.T) {
	registry := sdk.NewRegistry()
	registry.Register("python_code", funcExecutor(func(_ context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"label": config["label"]}, nil
	}))
	e, _, c := newEngine(t, registry)

	doc := &sdk.Document{
		ID: "wf",
		Output: sdk.OutputSpec{
			InputMapping: sdk.Mapping{"picked": "$nodes.do_add.label"},
			Schema:       map[string]interface{}{"type": "object"},
		},
		Nodes: []sdk.Node{
			{ID: "route", Kind: sdk.KindRouter, Cases: sdk.CaseList{
				{Label: "add", Condition: `$input.op == "add"`},
				{Label: "sub", Condition: `$input.op == "sub"`},
			}},
			{ID: "do_add", Kind: "python_code", Config: map[string]interface{}{"label": "added"}},
			{ID: "do_sub", Kind: "python_code", Config: map[string]interface{}{"label": "subbed"}},
		},
		Edges: []sdk.Edge{
			{From: sdk.StartID, To: "route"},
			{From: "route", Routes: []sdk.Route{
				{To: "do_add", WhenLabel: "add"},
				{To: "do_sub", WhenLabel: "sub"},
			}},
			{From: "do_add", To: sdk.EndID},
			{From: "do_sub", To: sdk.EndID},
		},
	}

	graph, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	state, err := e.Run(context.Background(), doc, graph, map[string]interface{}{"op": "add"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.HasErrors() {
		t.Fatalf("unexpected errors: %+v", state.Errors())
	}
	if _, ok := state.GetData("do_sub"); ok {
		t.Error("do_sub should have been skipped (no data entry), but it published one")
	}
	if state.Output["picked"] != "added" {
		t.Errorf("output = %+v, want picked=added", state.Output)
	}
}

func TestRun_FanOutFanIn(t *testing.T) {
	registry := sdk.NewRegistry()
	registry.Register("python_code", funcExecutor(func(_ context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error) {
		return config["value"], nil
	}))
	e, _, c := newEngine(t, registry)

	doc := &sdk.Document{
		ID: "wf",
		Output: sdk.OutputSpec{
			InputMapping: sdk.Mapping{
				"a": "$nodes.f1", "b": "$nodes.f2", "c": "$nodes.f3",
			},
			Schema: map[string]interface{}{"type": "object"},
		},
		Nodes: []sdk.Node{
			{ID: "f1", Kind: "python_code", Config: map[string]interface{}{"value": 1.0}},
			{ID: "f2", Kind: "python_code", Config: map[string]interface{}{"value": 2.0}},
			{ID: "f3", Kind: "python_code", Config: map[string]interface{}{"value": 3.0}},
			{ID: "join", Kind: "noop", InputMapping: sdk.Mapping{"a": "$nodes.f1", "b": "$nodes.f2", "c": "$nodes.f3"}},
		},
		Edges: []sdk.Edge{
			{From: sdk.StartID, To: "f1"},
			{From: sdk.StartID, To: "f2"},
			{From: sdk.StartID, To: "f3"},
			{From: "f1", To: "join"},
			{From: "f2", To: "join"},
			{From: "f3", To: "join"},
			{From: "join", To: sdk.EndID},
		},
	}

	graph, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	state, err := e.Run(context.Background(), doc, graph, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.HasErrors() {
		t.Fatalf("unexpected errors: %+v", state.Errors())
	}
	if state.Output["a"] != 1.0 || state.Output["b"] != 2.0 || state.Output["c"] != 3.0 {
		t.Errorf("output = %+v, want a=1 b=2 c=3", state.Output)
	}
}

func TestRun_FailFastHaltsBeforeEnd(t *testing.T) {
	registry := sdk.NewRegistry()
	registry.Register("python_code", funcExecutor(func(ctx context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error) {
		if config["fail"] == true {
			return nil, errors.New("boom")
		}
		select {
		case <-time.After(200 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	e, _, c := newEngine(t, registry)

	doc := &sdk.Document{
		ID: "wf",
		Output: sdk.OutputSpec{
			InputMapping: sdk.Mapping{"x": "$input.x"},
			Schema:       map[string]interface{}{"type": "object"},
		},
		FailFast: boolPtr(true),
		Nodes: []sdk.Node{
			{ID: "sleeper", Kind: "python_code"},
			{ID: "raiser", Kind: "python_code", Config: map[string]interface{}{"fail": true}},
		},
		Edges: []sdk.Edge{
			{From: sdk.StartID, To: "sleeper"},
			{From: sdk.StartID, To: "raiser"},
			{From: "sleeper", To: sdk.EndID},
			{From: "raiser", To: sdk.EndID},
		},
	}

	graph, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	state, err := e.Run(context.Background(), doc, graph, map[string]interface{}{"x": 1.0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !state.HasErrors() {
		t.Fatal("expected fail_fast run to record the raiser's error")
	}
	if state.Output != nil {
		t.Errorf("state.Output = %+v, want unset under fail_fast", state.Output)
	}
}

func TestRun_InputSchemaViolationHaltsBeforeAnyNode(t *testing.T) {
	registry := sdk.NewRegistry()
	ran := false
	registry.Register("python_code", funcExecutor(func(_ context.Context, input map[string]interface{}, config map[string]interface{}) (interface{}, error) {
		ran = true
		return nil, nil
	}))
	e, _, c := newEngine(t, registry)

	doc := &sdk.Document{
		ID: "wf",
		Input: sdk.InputSpec{
			Schema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"x"},
				"properties": map[string]interface{}{
					"x": map[string]interface{}{"type": "number"},
				},
			},
		},
		Output: sdk.OutputSpec{
			InputMapping: sdk.Mapping{"x": "$input.x"},
			Schema:       map[string]interface{}{"type": "object"},
		},
		Nodes: []sdk.Node{
			{ID: "step", Kind: "python_code"},
		},
		Edges: []sdk.Edge{
			{From: sdk.StartID, To: "step"},
			{From: "step", To: sdk.EndID},
		},
	}

	graph, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	state, err := e.Run(context.Background(), doc, graph, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran {
		t.Fatal("no node should have run when invocation input fails input.schema validation")
	}
	if !state.HasErrors() {
		t.Fatal("expected an InputSchemaError to be recorded")
	}
	errs := state.Errors()
	if errs[0].Type != "InputSchemaError" {
		t.Errorf("errors[0].Type = %q, want InputSchemaError", errs[0].Type)
	}
	if state.Output != nil {
		t.Errorf("state.Output = %+v, want unset", state.Output)
	}
	if state.RunID == "" {
		t.Error("expected a non-empty RunID to be stamped regardless of input validation outcome")
	}
}

func boolPtr(b bool) *bool { return &b }
