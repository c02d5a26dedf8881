package rewrite

import (
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// pruneConstants removes the Const nodes among candidates that nothing reads
// any more. It returns the names removed.
func pruneConstants(g *graph.Graph, candidates []string, protected map[string]bool) []string {
	var removed []string
	for _, name := range candidates {
		n, err := g.Get(name)
		if err != nil || n.Op != graph.OpConst || protected[name] {
			continue
		}
		if len(g.Consumers(name)) != 0 {
			continue
		}
		if err := g.Remove(name); err == nil {
			removed = append(removed, name)
		}
	}
	return removed
}

// producers returns the node names n reads from.
func producers(n *graph.Node) []string {
	names := make([]string, 0, len(n.Inputs))
	for _, in := range n.Inputs {
		names = append(names, in.Node)
	}
	return names
}
