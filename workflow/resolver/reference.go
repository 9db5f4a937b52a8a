// Package resolver implements the $input / $nodes.<id> / $state.<k>
// reference grammar (§3.5, §4.1) and the mapping engine built on top of
// it (§4.2). It is a hand-written lexer/interpreter over JSON-like
// values rather than reflection or host-language attribute access, per
// the Design Notes in spec §9 — the same shape as the teacher's
// resolver.Resolver.resolveNodeReference, generalized to three roots
// and a strict/non-strict mode the teacher's resolver doesn't have.
package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowforge/workflow-core/workflow/sdk"
)

// Root identifies which part of the workflow state a Reference reads
// from (§3.5).
type Root int

const (
	RootInput Root = iota
	RootNodes
	RootState
)

// Reference is a parsed $... reference string.
type Reference struct {
	Root     Root
	NodeID   string   // set when Root == RootNodes
	StateKey string   // set when Root == RootState
	Path     []string // path segments after the root
	Raw      string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// allowedStateKeys are the only $state.<k> keys the core exposes.
// $state.* is documented as advanced/internal (§4.1) and authors are
// discouraged from using it; this core additionally restricts it to
// the four workflow-state fields an author could plausibly want to
// read, per the Open Question resolution in SPEC_FULL.md §9.
var allowedStateKeys = map[string]bool{
	"input": true, "errors": true, "last_node": true, "router_labels": true,
}

// IsReference reports whether s looks like a reference string at all
// (begins with "$"). A non-reference value is returned unchanged by
// callers (§4.1).
func IsReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// ParseReference parses a reference string against the grammar in
// §3.5. A malformed "$..." string is a syntax error — per §4.1, this is
// caught at compile time by the validator calling this same parser.
func ParseReference(s string) (*Reference, error) {
	if !strings.HasPrefix(s, "$") {
		return nil, fmt.Errorf("not a reference: %q", s)
	}
	rest := s[1:]

	switch {
	case rest == "input":
		return &Reference{Root: RootInput, Raw: s}, nil

	case strings.HasPrefix(rest, "input."):
		path, err := parsePath(rest[len("input"):])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		return &Reference{Root: RootInput, Path: path, Raw: s}, nil

	case rest == "nodes" || strings.HasPrefix(rest, "nodes."):
		remainder := strings.TrimPrefix(rest, "nodes.")
		if remainder == rest { // no trailing dot: "$nodes" with nothing after
			return nil, fmt.Errorf("%s: %s", s, "$nodes must be followed by .<id>")
		}
		nodeID, pathStr, _ := strings.Cut(remainder, ".")
		if !identPattern.MatchString(nodeID) {
			return nil, fmt.Errorf("%s: invalid node id %q", s, nodeID)
		}
		var path []string
		if pathStr != "" || strings.Contains(remainder, ".") {
			var err error
			path, err = parsePath("." + pathStr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s, err)
			}
		}
		return &Reference{Root: RootNodes, NodeID: nodeID, Path: path, Raw: s}, nil

	case rest == "state" || strings.HasPrefix(rest, "state."):
		remainder := strings.TrimPrefix(rest, "state.")
		if remainder == rest {
			return nil, fmt.Errorf("%s: %s", s, "$state must be followed by .<key>")
		}
		key, pathStr, _ := strings.Cut(remainder, ".")
		if !identPattern.MatchString(key) {
			return nil, fmt.Errorf("%s: invalid state key %q", s, key)
		}
		var path []string
		if pathStr != "" || strings.Contains(remainder, ".") {
			var err error
			path, err = parsePath("." + pathStr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s, err)
			}
		}
		return &Reference{Root: RootState, StateKey: key, Path: path, Raw: s}, nil

	default:
		return nil, fmt.Errorf("%s: unrecognized reference root", s)
	}
}

// parsePath parses the ("." Segment)* tail of the grammar. p is either
// empty or begins with ".".
func parsePath(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, ".") {
		return nil, fmt.Errorf("path must start with '.': %q", p)
	}
	segments := strings.Split(p[1:], ".")
	for _, seg := range segments {
		if !identPattern.MatchString(seg) {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
	}
	return segments, nil
}

// Resolver evaluates parsed References against a workflow state.
type Resolver struct{}

// New creates a Resolver. It carries no state of its own; every call is
// pure with respect to the *sdk.State it's given.
func New() *Resolver {
	return &Resolver{}
}

// Resolve evaluates ref against state. strict selects §4.1's strict vs.
// non-strict mode: a miss is a *sdk.ReferenceError in strict mode, or a
// nil result in non-strict mode.
func (r *Resolver) Resolve(ref *Reference, state *sdk.State, strict bool) (interface{}, error) {
	var root interface{}

	switch ref.Root {
	case RootInput:
		root = mapOf(state.Input)

	case RootNodes:
		val, ok := state.GetData(ref.NodeID)
		if !ok {
			if strict {
				return nil, &sdk.ReferenceError{Reference: ref.Raw, Reason: fmt.Sprintf("node %q has not produced output", ref.NodeID)}
			}
			return nil, nil
		}
		root = val

	case RootState:
		if !allowedStateKeys[ref.StateKey] {
			if strict {
				return nil, &sdk.ReferenceError{Reference: ref.Raw, Reason: fmt.Sprintf("unknown state key %q", ref.StateKey)}
			}
			return nil, nil
		}
		switch ref.StateKey {
		case "input":
			root = mapOf(state.Input)
		case "errors":
			root = state.Errors()
		case "last_node":
			root = state.LastNodeSnapshot()
		case "router_labels":
			root = state.RouterLabelsSnapshot()
		}

	default:
		return nil, fmt.Errorf("unknown reference root")
	}

	return traverse(root, ref.Path, ref.Raw, strict)
}

// traverse walks path over value, one object-key lookup per segment
// (§4.1 "Path traversal"). Arrays, scalars and null are dead ends: a
// segment against one of those is a miss, exactly like a missing key.
func traverse(value interface{}, path []string, raw string, strict bool) (interface{}, error) {
	current := value
	for _, seg := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			if strict {
				return nil, &sdk.ReferenceError{Reference: raw, Reason: fmt.Sprintf("cannot traverse into %T at %q", current, seg)}
			}
			return nil, nil
		}
		next, present := obj[seg]
		if !present {
			if strict {
				return nil, &sdk.ReferenceError{Reference: raw, Reason: fmt.Sprintf("missing field %q", seg)}
			}
			return nil, nil
		}
		current = next
	}
	return current, nil
}

func mapOf(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
