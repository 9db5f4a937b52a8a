package resolver

import (
	"testing"

	"github.com/flowforge/workflow-core/workflow/sdk"
)

func TestResolveInputMapping(t *testing.T) {
	state := sdk.NewState(map[string]interface{}{"x": 10.0, "y": 20.0})
	m := NewMapping()

	mapping := sdk.Mapping{
		"x":   "$input.x",
		"y":   "$input.y",
		"tag": "constant",
	}

	out, err := m.ResolveInputMapping(mapping, state, true)
	if err != nil {
		t.Fatalf("ResolveInputMapping: %v", err)
	}
	if out["x"] != 10.0 || out["y"] != 20.0 || out["tag"] != "constant" {
		t.Errorf("unexpected mapping result: %+v", out)
	}
}

func TestResolveInputMapping_StrictMissingFails(t *testing.T) {
	state := sdk.NewState(map[string]interface{}{})
	m := NewMapping()

	mapping := sdk.Mapping{"a": "$nodes.missing"}
	if _, err := m.ResolveInputMapping(mapping, state, true); err == nil {
		t.Fatal("expected strict resolution of a missing node to fail")
	}
}

func TestResolveInputMapping_NonStrictMissingIsNull(t *testing.T) {
	state := sdk.NewState(map[string]interface{}{})
	m := NewMapping()

	mapping := sdk.Mapping{"a": "$nodes.do_a", "b": "$nodes.do_b"}
	state.SetData("do_a", map[string]interface{}{"value": 5.0})

	out, err := m.ResolveInputMapping(mapping, state, false)
	if err != nil {
		t.Fatalf("ResolveInputMapping: %v", err)
	}
	if out["b"] != nil {
		t.Errorf("b = %v, want nil", out["b"])
	}
}

func TestApplyOutputMapping_Empty(t *testing.T) {
	m := NewMapping()
	raw := map[string]interface{}{"value": 30.0}

	out, err := m.ApplyOutputMapping(nil, raw)
	if err != nil {
		t.Fatalf("ApplyOutputMapping: %v", err)
	}
	result, ok := out.(map[string]interface{})
	if !ok || result["value"] != 30.0 {
		t.Errorf("ApplyOutputMapping(empty) = %v, want raw result unchanged", out)
	}
}

func TestApplyOutputMapping_FieldSelector(t *testing.T) {
	m := NewMapping()
	raw := map[string]interface{}{"value": 30.0, "meta": map[string]interface{}{"ok": true}}

	mapping := sdk.Mapping{"sum": "$.value", "ok": "$.meta.ok", "missing": "$.meta.nope"}
	out, err := m.ApplyOutputMapping(mapping, raw)
	if err != nil {
		t.Fatalf("ApplyOutputMapping: %v", err)
	}
	result := out.(map[string]interface{})
	if result["sum"] != 30.0 {
		t.Errorf("sum = %v, want 30", result["sum"])
	}
	if result["ok"] != true {
		t.Errorf("ok = %v, want true", result["ok"])
	}
	if result["missing"] != nil {
		t.Errorf("missing = %v, want nil", result["missing"])
	}
}

func TestApplyOutputMapping_RawResultSentinel(t *testing.T) {
	m := NewMapping()
	raw := []interface{}{1.0, 2.0, 3.0}

	mapping := sdk.Mapping{"whole": "$result"}
	out, err := m.ApplyOutputMapping(mapping, raw)
	if err != nil {
		t.Fatalf("ApplyOutputMapping: %v", err)
	}
	result := out.(map[string]interface{})
	items, ok := result["whole"].([]interface{})
	if !ok || len(items) != 3 {
		t.Errorf("whole = %v, want the raw 3-element slice", result["whole"])
	}
}

func TestApplyOutputMapping_FieldSelectorOnNonObject(t *testing.T) {
	m := NewMapping()
	raw := []interface{}{1.0, 2.0}

	mapping := sdk.Mapping{"x": "$.anything"}
	out, err := m.ApplyOutputMapping(mapping, raw)
	if err != nil {
		t.Fatalf("ApplyOutputMapping: %v", err)
	}
	result := out.(map[string]interface{})
	if result["x"] != nil {
		t.Errorf("field selector on non-object raw result = %v, want nil", result["x"])
	}
}
