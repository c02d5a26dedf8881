package rewrite

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/engine"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// StripUnused removes every node that no output or initializer depends on.
// Declared inputs are not kept alive on their own account.
type StripUnused struct{}

var _ Pass = StripUnused{}

func (StripUnused) Name() string {
	return "strip_unused_nodes"
}

func (p StripUnused) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	log := klog.FromContext(ctx)

	live := engine.Ancestors(g, b.Roots())

	var dead []string
	for _, name := range g.Names() {
		if !live[name] {
			dead = append(dead, name)
		}
	}
	if len(dead) == 0 {
		return Result{}, nil
	}
	if err := g.RemoveNodes(dead...); err != nil {
		return Result{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	log.V(2).Info("removed unreachable nodes", "pass", p.Name(), "nodes", dead)
	return Result{Rewrites: len(dead)}, nil
}
