// Package validator implements the structural and semantic checks of
// §4.4, run before compilation. It is grounded on the teacher's
// common/compiler tests, which exercise a single "compile (or reject)
// this schema" entry point the way Validate does here, generalized to
// collect every problem instead of stopping at the first one.
package validator

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowforge/workflow-core/workflow/resolver"
	"github.com/flowforge/workflow-core/workflow/sdk"
)

// nodeIDPattern is the identifier regex of §3.2.
var nodeIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// embeddedReferencePattern finds every $... reference occurring inside a
// condition expression, so check 7 ($nodes.<id> existence) and check 8
// (reference syntax) apply there too, not just to mapping values.
var embeddedReferencePattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`)

// Registry is the slice of workflow.Registry the Validator needs for
// check 9 (every node kind has a registered executor). Kept as a small
// local interface so this package doesn't depend on the engine.
type Registry interface {
	Has(kind string) bool
}

// Validator runs the checks of §4.4 against a parsed document.
type Validator struct {
	registry Registry
}

// New creates a Validator. registry may be nil, in which case check 9 is
// skipped (useful for validating a document shape in isolation from any
// concrete executor set, e.g. in unit tests).
func New(registry Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate runs every check in §4.4 and returns every issue found, or nil
// if the document is valid. validate(document) is required to be
// idempotent and side-effect-free (§8); this method reads doc and never
// mutates it.
func (v *Validator) Validate(doc *sdk.Document) *sdk.ValidationError {
	var issues []sdk.Issue
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, sdk.Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for _, key := range doc.UnknownKeys {
		add("$", "unknown top-level key %q", key)
	}

	v.checkTopLevel(doc, add)
	declared := v.checkNodeIDs(doc, add)
	v.checkExecutors(declared, add)

	edges := sdk.FlattenEdges(doc.Edges)
	v.checkEdgeEndpoints(edges, declared, add)
	v.checkRouterEdgesAllConditional(edges, declared, add)
	v.checkStartReachability(edges, add)
	v.checkEndReachability(edges, add)

	v.checkMapping("output.input_mapping", doc.Output.InputMapping, declared, add)
	for id, n := range declared {
		v.checkMapping(fmt.Sprintf("nodes[%s].input_mapping", id), n.InputMapping, declared, add)
		if n.IsRouter() {
			for _, c := range n.Cases {
				v.checkConditionReferences(fmt.Sprintf("nodes[%s].cases[%s]", id, c.Label), c.Condition, declared, add)
			}
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &sdk.ValidationError{Issues: issues}
}

type addFunc func(path, format string, args ...interface{})

// checkTopLevel is check 1: required fields present, output.schema.type
// is "object", and both schemas are themselves well-formed JSON Schema.
func (v *Validator) checkTopLevel(doc *sdk.Document, add addFunc) {
	if doc.ID == "" {
		add("id", "workflow id is required")
	}

	if doc.Output.Schema == nil {
		add("output.schema", "output.schema is required")
	} else if t, _ := doc.Output.Schema["type"].(string); t != "object" {
		add("output.schema.type", "output.schema.type must be \"object\", got %v", doc.Output.Schema["type"])
	}

	if err := schemaWellFormed(doc.Input.Schema); err != nil {
		add("input.schema", "input.schema is not a well-formed JSON Schema: %v", err)
	}
	if err := schemaWellFormed(doc.Output.Schema); err != nil {
		add("output.schema", "output.schema is not a well-formed JSON Schema: %v", err)
	}
}

func schemaWellFormed(schema map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	return err
}

// checkNodeIDs is check 2: ids match the identifier regex, are unique,
// and are not start/end. Returns the declared nodes keyed by id, for the
// later checks that need to look a node up.
func (v *Validator) checkNodeIDs(doc *sdk.Document, add addFunc) map[string]*sdk.Node {
	declared := make(map[string]*sdk.Node, len(doc.Nodes))
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		path := fmt.Sprintf("nodes[%d].id", i)

		if n.ID == sdk.StartID || n.ID == sdk.EndID {
			add(path, "node id %q is reserved", n.ID)
			continue
		}
		if !nodeIDPattern.MatchString(n.ID) {
			add(path, "node id %q does not match ^[a-z][a-z0-9_]*$", n.ID)
			continue
		}
		if _, dup := declared[n.ID]; dup {
			add(path, "duplicate node id %q", n.ID)
			continue
		}
		declared[n.ID] = n
	}
	return declared
}

// checkExecutors is check 9: every node kind has a registered executor.
// Router nodes are exempt: the engine handles them in-process (§6.1), so
// no registry entry is ever expected for "router".
func (v *Validator) checkExecutors(declared map[string]*sdk.Node, add addFunc) {
	if v.registry == nil {
		return
	}
	for id, n := range declared {
		if n.IsRouter() {
			continue
		}
		if !v.registry.Has(n.Kind) {
			add(fmt.Sprintf("nodes[%s].kind", id), "no executor registered for kind %q", n.Kind)
		}
	}
}

// checkEdgeEndpoints is checks 3 and 4: every edge endpoint is start,
// end, or a declared node; every when_label names a case or default of a
// router from-node, and only router nodes may carry conditional edges.
func (v *Validator) checkEdgeEndpoints(edges []sdk.NormalizedEdge, declared map[string]*sdk.Node, add addFunc) {
	validEndpoint := func(id string) bool {
		if id == sdk.StartID || id == sdk.EndID {
			return true
		}
		_, ok := declared[id]
		return ok
	}

	for i, e := range edges {
		path := fmt.Sprintf("edges[%d]", i)
		fromOK := validEndpoint(e.From)
		if !fromOK {
			add(path+".from", "edge references undeclared node %q", e.From)
		}
		if !validEndpoint(e.To) {
			add(path+".to", "edge references undeclared node %q", e.To)
		}

		if e.WhenLabel == "" {
			continue
		}
		if !fromOK {
			continue
		}
		fromNode, ok := declared[e.From]
		if !ok || !fromNode.IsRouter() {
			add(path+".when_label", "conditional edge from %q: from must be a router node", e.From)
			continue
		}
		allowed := map[string]bool{}
		for _, l := range fromNode.Cases.Labels() {
			allowed[l] = true
		}
		if fromNode.Default != "" {
			allowed[fromNode.Default] = true
		}
		if !allowed[e.WhenLabel] {
			add(path+".when_label", "when_label %q is not a declared case or default of router %q", e.WhenLabel, e.From)
		}
	}
}

// checkRouterEdgesAllConditional is the converse of check 4: a router's
// outgoing edges must ALL carry a when_label (§4.5 "outgoing edges from a
// router MUST all carry when_label"). A bare edge out of a router would
// otherwise reach the engine as always-alive regardless of which case
// fired, defeating "exactly one branch runs".
func (v *Validator) checkRouterEdgesAllConditional(edges []sdk.NormalizedEdge, declared map[string]*sdk.Node, add addFunc) {
	for i, e := range edges {
		fromNode, ok := declared[e.From]
		if !ok || !fromNode.IsRouter() {
			continue
		}
		if e.WhenLabel == "" {
			add(fmt.Sprintf("edges[%d].when_label", i), "router %q has an unconditional outgoing edge: every outgoing edge of a router must carry when_label", e.From)
		}
	}
}

// checkStartReachability is check 5.
func (v *Validator) checkStartReachability(edges []sdk.NormalizedEdge, add addFunc) {
	for _, e := range edges {
		if e.From == sdk.StartID {
			return
		}
	}
	add("edges", "no edge originates from %q", sdk.StartID)
}

// checkEndReachability is check 6: some path (ignoring conditions, which
// only prune at runtime, not structurally) reaches end from start.
func (v *Validator) checkEndReachability(edges []sdk.NormalizedEdge, add addFunc) {
	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	visited := map[string]bool{sdk.StartID: true}
	queue := []string{sdk.StartID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == sdk.EndID {
			return
		}
		for _, next := range adjacency[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	add("edges", "no path reaches %q", sdk.EndID)
}

// checkMapping is checks 7 and 8 applied to a Mapping: every reference
// string must parse, and every $nodes.<id> reference must name a
// declared node.
func (v *Validator) checkMapping(path string, mapping sdk.Mapping, declared map[string]*sdk.Node, add addFunc) {
	for key, value := range mapping {
		str, ok := value.(string)
		if !ok || !resolver.IsReference(str) {
			continue
		}
		v.checkReferenceString(fmt.Sprintf("%s.%s", path, key), str, declared, add)
	}
}

// checkConditionReferences applies checks 7 and 8 to every $... reference
// embedded in a router condition expression.
func (v *Validator) checkConditionReferences(path, expr string, declared map[string]*sdk.Node, add addFunc) {
	for _, raw := range embeddedReferencePattern.FindAllString(expr, -1) {
		v.checkReferenceString(path, raw, declared, add)
	}
}

func (v *Validator) checkReferenceString(path, raw string, declared map[string]*sdk.Node, add addFunc) {
	ref, err := resolver.ParseReference(raw)
	if err != nil {
		add(path, "invalid reference %q: %v", raw, err)
		return
	}
	if ref.Root == resolver.RootNodes {
		if _, ok := declared[ref.NodeID]; !ok {
			add(path, "reference %q names undeclared node %q", raw, ref.NodeID)
		}
	}
}
