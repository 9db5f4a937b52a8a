// Package compiler turns a validated document into the DAG representation
// of §4.5: declared nodes plus synthetic start/end, branch edges
// flattened, and a hard rejection of any cycle. It is grounded on the
// teacher's common/compiler.CompileWorkflowSchema, which builds the same
// node-map-plus-dependency-list shape from a WorkflowSchema; this
// version adds the cycle check the teacher's compiler doesn't perform
// and drops the CAS-client indirection the teacher uses to store node
// configs out of process.
package compiler

import (
	"fmt"

	"github.com/flowforge/workflow-core/workflow/condition"
	"github.com/flowforge/workflow-core/workflow/sdk"
)

// Registry is the slice of workflow.Registry the Compiler needs to reject
// an unregistered kind at compile time (§6.1 "A kind with no registered
// executor causes compile-time failure").
type Registry interface {
	Has(kind string) bool
}

// Compiler compiles documents into graphs.
type Compiler struct {
	registry   Registry
	conditions *condition.Evaluator
}

// New creates a Compiler. conditions is shared with the engine so router
// condition programs compiled here are reused at execution time instead
// of being recompiled.
func New(registry Registry, conditions *condition.Evaluator) *Compiler {
	return &Compiler{registry: registry, conditions: conditions}
}

// Compile builds the DAG for doc. doc is expected to have already passed
// Validate; Compile still performs the checks that are its own per the
// error table in §7 (unknown kind, forbidden router condition syntax,
// cycle) rather than the Validator's.
func (c *Compiler) Compile(doc *sdk.Document) (*sdk.Graph, error) {
	nodes := map[string]*sdk.GraphNode{
		sdk.StartID: {ID: sdk.StartID, Kind: "start"},
		sdk.EndID:   {ID: sdk.EndID, Kind: "end"},
	}

	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if _, exists := nodes[n.ID]; exists {
			return nil, &sdk.CompileError{Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		if !n.IsRouter() && c.registry != nil && !c.registry.Has(n.Kind) {
			return nil, &sdk.CompileError{Message: fmt.Sprintf("node %q: no executor registered for kind %q", n.ID, n.Kind)}
		}
		if n.IsRouter() {
			for _, ce := range n.Cases {
				if err := c.conditions.CheckSyntax(ce.Condition); err != nil {
					return nil, &sdk.CompileError{
						Message: fmt.Sprintf("node %q: case %q", n.ID, ce.Label),
						Cause:   err,
					}
				}
			}
		}
		nodes[n.ID] = &sdk.GraphNode{ID: n.ID, Kind: n.Kind, Node: n}
	}

	edges := sdk.FlattenEdges(doc.Edges)
	for i, e := range edges {
		from, ok := nodes[e.From]
		if !ok {
			return nil, &sdk.CompileError{Message: fmt.Sprintf("edges[%d]: unknown from node %q", i, e.From)}
		}
		to, ok := nodes[e.To]
		if !ok {
			return nil, &sdk.CompileError{Message: fmt.Sprintf("edges[%d]: unknown to node %q", i, e.To)}
		}
		from.Outgoing = append(from.Outgoing, e)
		to.Incoming = append(to.Incoming, e)
	}

	graph := &sdk.Graph{Nodes: nodes, Edges: edges}

	if err := detectCycle(graph); err != nil {
		return nil, err
	}

	return graph, nil
}

// detectCycle runs a standard three-color DFS over the graph's outgoing
// edges (§4.5 "Acyclicity").
func detectCycle(g *sdk.Graph) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range g.Nodes[id].Outgoing {
			switch color[e.To] {
			case gray:
				return &sdk.CompileError{Message: fmt.Sprintf("cycle detected: %q is reachable from itself through %q", id, e.To)}
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
