package engine

import (
	"fmt"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// BuildDAG returns the names of the nodes of g in an order where every node
// comes after the producers of its inputs. Nodes on a cycle, or downstream of
// one, are left out; it is an error if any of wantNodes is among them.
func BuildDAG(g *graph.Graph, wantNodes []string) ([]string, error) {
	allNodes := g.Nodes()

	evaluationOrder := make([]string, 0, len(allNodes))
	done := make(map[string]bool, len(allNodes))

	for {
		progress := false
		for _, node := range allNodes {
			if done[node.Name] {
				continue
			}

			ready := true
			for _, dep := range node.Inputs {
				if !done[dep.Node] {
					ready = false
					break
				}
			}
			if ready {
				done[node.Name] = true
				evaluationOrder = append(evaluationOrder, node.Name)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, name := range wantNodes {
		if !done[name] {
			return nil, fmt.Errorf("node %q could not be ordered (missing input or cycle in graph)", name)
		}
	}

	return evaluationOrder, nil
}

// Ancestors returns the names of roots and of every node they transitively
// read from. Roots that are not in g are ignored.
func Ancestors(g *graph.Graph, roots []string) map[string]bool {
	live := make(map[string]bool)
	var stack []string
	for _, root := range roots {
		if g.Contains(root) && !live[root] {
			live[root] = true
			stack = append(stack, root)
		}
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := g.Get(name)
		if err != nil {
			continue
		}
		for _, in := range node.Inputs {
			if !live[in.Node] && g.Contains(in.Node) {
				live[in.Node] = true
				stack = append(stack, in.Node)
			}
		}
	}
	return live
}
