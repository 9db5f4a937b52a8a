package sdk

// NormalizedEdge is an edge after BranchEdge flattening (§3.3): every
// edge, regardless of its source form, ends up in this shape.
type NormalizedEdge struct {
	From      string
	To        string
	WhenLabel string // "" for an unconditional edge
}

// IsConditional reports whether this edge only fires when its From
// router selects WhenLabel.
func (e NormalizedEdge) IsConditional() bool { return e.WhenLabel != "" }

// GraphNode is one node of the compiled DAG: a declared Node, or the
// synthetic start/end (§4.5). Incoming/Outgoing take the place of the
// teacher's dependency/dependent id lists (compiler/ir.go), holding the
// full edges so the engine can resolve router pruning.
type GraphNode struct {
	ID   string
	Kind string // node.Kind, or "start"/"end" for the synthetic nodes
	Node *Node  // nil for start and end

	Incoming []NormalizedEdge
	Outgoing []NormalizedEdge
}

// Graph is the compiled DAG (§4.5): the declared nodes plus the
// synthetic start/end, and the flattened, normalized edge set.
type Graph struct {
	Nodes map[string]*GraphNode
	Edges []NormalizedEdge
}

// FlattenEdges expands every BranchEdge into one NormalizedEdge per route,
// preserving declaration order (§4.5 "Branch-edge flattening"). A
// SimpleEdge passes through unchanged. Both the Validator and the Compiler
// need this same flattening, so it lives here rather than being
// duplicated in each package.
func FlattenEdges(edges []Edge) []NormalizedEdge {
	var out []NormalizedEdge
	for _, e := range edges {
		if e.IsBranch() {
			for _, route := range e.Routes {
				out = append(out, NormalizedEdge{From: e.From, To: route.To, WhenLabel: route.WhenLabel})
			}
			continue
		}
		out = append(out, NormalizedEdge{From: e.From, To: e.To, WhenLabel: e.WhenLabel})
	}
	return out
}

// EntryNodes returns the nodes start points to directly.
func (g *Graph) EntryNodes() []string {
	start := g.Nodes[StartID]
	if start == nil {
		return nil
	}
	targets := make([]string, len(start.Outgoing))
	for i, e := range start.Outgoing {
		targets[i] = e.To
	}
	return targets
}
