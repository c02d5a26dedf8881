package rewrite

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/engine"
	"k8s.io/examples/AI/modelgraft/pkg/engine/fallback"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// FoldConstants replaces every node whose inputs are all constant with a
// Const node of the same name holding the computed value. Nodes that cannot
// be evaluated are left as they are and reported as fold errors.
type FoldConstants struct{}

var _ Pass = FoldConstants{}

func (FoldConstants) Name() string {
	return "fold_constants"
}

func (p FoldConstants) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	log := klog.FromContext(ctx)

	scope, err := fallback.NewCalculationScope()
	if err != nil {
		return Result{}, fmt.Errorf("creating calculation scope: %w", err)
	}
	defer scope.Close()

	// Nodes on a cycle are left out of the order and never folded.
	evaluationOrder, err := engine.BuildDAG(g, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", p.Name(), err)
	}

	var result Result
	var candidates []string
	for _, name := range evaluationOrder {
		n, err := g.Get(name)
		if err != nil {
			continue
		}
		if !foldable(g, n) {
			continue
		}

		value, err := engine.EvaluateNode(scope, g, n)
		if err != nil {
			foldErr := &graph.FoldError{Pass: p.Name(), Node: n.Name, Err: err}
			log.V(2).Info("leaving node unfolded", "pass", p.Name(), "node", n.Name, "op", n.Op, "err", err)
			result.FoldErrors = append(result.FoldErrors, foldErr)
			continue
		}

		candidates = append(candidates, producers(n)...)
		log.V(2).Info("folded node", "pass", p.Name(), "node", n.Name, "op", n.Op, "shape", value.Shape)
		n.Op = graph.OpConst
		n.Inputs = nil
		n.Attrs = nil
		n.Value = value
		result.Rewrites++
	}

	pruned := pruneConstants(g, candidates, b.Protected())
	if len(pruned) != 0 {
		log.V(2).Info("removed folded inputs", "pass", p.Name(), "nodes", pruned)
	}
	return result, nil
}

// foldable reports whether n is a computation reading only constants.
func foldable(g *graph.Graph, n *graph.Node) bool {
	if n.Op == graph.OpConst || n.Op == graph.OpPlaceholder {
		return false
	}
	if len(n.Inputs) == 0 || n.NumOutputs() != 1 {
		return false
	}
	for _, in := range n.Inputs {
		producer, err := g.Resolve(in)
		if err != nil || !producer.IsConst() {
			return false
		}
	}
	return true
}
