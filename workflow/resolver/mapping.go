package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/flowforge/workflow-core/workflow/sdk"
	"github.com/tidwall/gjson"
)

// rawResultSentinels are the output-mapping strings that mean "the raw
// executor result" (§3.6).
var rawResultSentinels = map[string]bool{
	"$result": true, "$tool_result": true, "$jq_result": true, "$code_result": true,
}

// fieldSelectorPattern matches the output-mapping JSONPath-lite form
// $.seg(.seg)* (§3.6). Every segment is required to match the same
// Ident grammar as reference paths, which is what keeps this dict-only:
// gjson's own path language would happily treat a numeric segment as an
// array index, so segments that could be read that way are rejected
// here before gjson ever sees them.
var fieldSelectorPattern = regexp.MustCompile(`^\$\.[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Mapping wraps a Resolver with the two mapping-engine operations of
// §4.2.
type Mapping struct {
	resolver *Resolver
}

// NewMapping creates a Mapping engine.
func NewMapping() *Mapping {
	return &Mapping{resolver: New()}
}

// ResolveInputMapping implements resolve_input_mapping (§4.2): build a
// fresh object whose keys are the mapping's keys and whose values are
// the constants or resolved references.
func (m *Mapping) ResolveInputMapping(mapping sdk.Mapping, state *sdk.State, strict bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(mapping))
	for key, value := range mapping {
		resolved, err := m.resolveValue(key, value, state, strict)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func (m *Mapping) resolveValue(key string, value interface{}, state *sdk.State, strict bool) (interface{}, error) {
	str, ok := value.(string)
	if !ok || !IsReference(str) {
		// Constants: any non-string value, or a string not starting
		// with "$" (§3.5).
		return value, nil
	}

	ref, err := ParseReference(str)
	if err != nil {
		// The validator is expected to have already rejected malformed
		// references at compile time (§3.5, §4.4 check 8); surfacing a
		// MappingError here is a defensive fallback, not the primary
		// enforcement path.
		return nil, &sdk.MappingError{Key: key, Reason: err.Error()}
	}

	return m.resolver.Resolve(ref, state, strict)
}

// ApplyOutputMapping implements apply_output_mapping (§4.2, §3.6).
func (m *Mapping) ApplyOutputMapping(mapping sdk.Mapping, rawResult interface{}) (interface{}, error) {
	if len(mapping) == 0 {
		return rawResult, nil
	}

	out := make(map[string]interface{}, len(mapping))
	for key, value := range mapping {
		resolved, err := m.resolveOutputValue(key, value, rawResult)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func (m *Mapping) resolveOutputValue(key string, value interface{}, rawResult interface{}) (interface{}, error) {
	str, ok := value.(string)
	if !ok {
		return value, nil
	}

	if rawResultSentinels[str] {
		return rawResult, nil
	}

	if fieldSelectorPattern.MatchString(str) {
		return fieldSelect(str, rawResult, key)
	}

	// Any other string (including one that merely starts with "$") is
	// a literal constant at the output-mapping layer (§3.6) — this is
	// deliberately a looser rule than the input-mapping reference
	// grammar in §3.5.
	return str, nil
}

// fieldSelect performs the dict-only traversal of §3.6: marshal the raw
// result to JSON and walk it with gjson, the way the teacher's resolver
// marshals node output and walks it with gjson.GetBytes
// (resolver.resolveNodeReference). Missing keys yield null.
func fieldSelect(selector string, rawResult interface{}, key string) (interface{}, error) {
	path := selector[2:] // strip leading "$."

	resultJSON, err := json.Marshal(rawResult)
	if err != nil {
		return nil, &sdk.MappingError{Key: key, Reason: fmt.Sprintf("raw result not JSON-serializable: %v", err)}
	}

	result := gjson.GetBytes(resultJSON, path)
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}
