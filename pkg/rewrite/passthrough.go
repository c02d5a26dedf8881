package rewrite

import (
	"context"
	"fmt"
	"slices"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// DefaultPassthroughOps are the ops RemovePassthrough bypasses by default.
var DefaultPassthroughOps = []string{graph.OpIdentity, graph.OpCheckNumerics}

// RemovePassthrough bypasses single-input nodes of the given ops, wiring
// their consumers straight to their input. Boundary nodes are kept.
type RemovePassthrough struct {
	Ops []string
}

var _ Pass = RemovePassthrough{}

func (RemovePassthrough) Name() string {
	return "remove_nodes"
}

func (p RemovePassthrough) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	log := klog.FromContext(ctx)

	ops := p.Ops
	if ops == nil {
		ops = DefaultPassthroughOps
	}
	protected := b.Protected()

	var result Result
	for _, n := range g.Nodes() {
		if !slices.Contains(ops, n.Op) || protected[n.Name] {
			continue
		}
		if len(n.Inputs) != 1 || n.NumOutputs() != 1 {
			continue
		}
		rerouted := g.Reroute(n.Output(0), n.Inputs[0])
		if err := g.Remove(n.Name); err != nil {
			return result, fmt.Errorf("%s: %w", p.Name(), err)
		}
		log.V(2).Info("bypassed node", "pass", p.Name(), "node", n.Name, "op", n.Op, "rerouted", rerouted)
		result.Rewrites++
	}
	return result, nil
}
