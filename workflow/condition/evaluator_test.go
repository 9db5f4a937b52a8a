package condition

import (
	"testing"

	"github.com/flowforge/workflow-core/workflow/sdk"
)

func TestEvaluate_Basic(t *testing.T) {
	e := NewEvaluator()
	state := sdk.NewState(map[string]interface{}{"op": "add"})

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"equality true", `$input.op == "add"`, true},
		{"equality false", `$input.op == "sub"`, false},
		{"else literal", "else", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, state)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Arithmetic(t *testing.T) {
	e := NewEvaluator()
	state := sdk.NewState(map[string]interface{}{"x": 3.0, "y": 4.0})

	got, err := e.Evaluate("$input.x + $input.y > 5", state)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Errorf("Evaluate(x + y > 5) = false, want true")
	}
}

func TestEvaluate_BooleanLogic(t *testing.T) {
	e := NewEvaluator()
	state := sdk.NewState(map[string]interface{}{"a": true, "b": false})

	got, err := e.Evaluate("$input.a && !$input.b", state)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("Evaluate(a && !b) = false, want true")
	}
}

func TestEvaluate_NonStrictMissingReference(t *testing.T) {
	e := NewEvaluator()
	state := sdk.NewState(map[string]interface{}{})

	got, err := e.Evaluate("$input.missing == null", state)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("missing $input field should resolve to null, not error")
	}
}

func TestCheckSyntax_RejectsForbiddenCall(t *testing.T) {
	e := NewEvaluator()
	if err := e.CheckSyntax("foo(x) == 1"); err == nil {
		t.Fatal("expected CheckSyntax to reject a function call, got nil error")
	}
}

func TestCheckSyntax_RejectsAttributeAccessOutsideReferences(t *testing.T) {
	e := NewEvaluator()
	// "foo.bar" is not a $-reference, so it reaches CEL as a bare
	// identifier-and-select expression, which must be rejected.
	if err := e.CheckSyntax("foo.bar == 1"); err == nil {
		t.Fatal("expected CheckSyntax to reject attribute access, got nil error")
	}
}

func TestCheckSyntax_AllowsRestrictedSubset(t *testing.T) {
	e := NewEvaluator()
	exprs := []string{
		`$input.x == 1`,
		`$input.x != 1 && $input.y < 2`,
		`($input.x + $input.y) * 2 >= 10`,
		"else",
	}
	for _, expr := range exprs {
		if err := e.CheckSyntax(expr); err != nil {
			t.Errorf("CheckSyntax(%q): unexpected error: %v", expr, err)
		}
	}
}
