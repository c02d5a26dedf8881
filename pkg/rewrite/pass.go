// Package rewrite runs semantics-preserving rewrite passes over a spliced
// graph: dead-code elimination, pass-through removal, constant folding and
// normalization folding.
//
// Every pass is total on a well-formed graph and idempotent. Declared output
// names, and input names that survive dead-code elimination, are never
// renamed or removed by a pass.
package rewrite

import (
	"context"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Boundaries are the externally visible names of a graph.
type Boundaries struct {
	Inputs  []string
	Outputs []string
	// Initializers are nodes that must survive regardless of reachability,
	// such as lookup table initializers.
	Initializers []string
}

// Roots returns the names dead-code elimination starts from.
func (b Boundaries) Roots() []string {
	roots := make([]string, 0, len(b.Outputs)+len(b.Initializers))
	roots = append(roots, b.Outputs...)
	roots = append(roots, b.Initializers...)
	return roots
}

// Protected returns the names passes must not rename or remove.
func (b Boundaries) Protected() map[string]bool {
	protected := make(map[string]bool)
	for _, names := range [][]string{b.Inputs, b.Outputs, b.Initializers} {
		for _, name := range names {
			protected[name] = true
		}
	}
	return protected
}

// Result describes what a single application of a pass did.
type Result struct {
	// Rewrites counts the structural changes made; zero means the pass was a
	// no-op on this graph.
	Rewrites   int
	FoldErrors []*graph.FoldError
}

// Pass is one rewrite over a graph. Apply mutates g in place and only
// returns an error for structural failures; failed folds go in the Result.
type Pass interface {
	Name() string
	Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error)
}
