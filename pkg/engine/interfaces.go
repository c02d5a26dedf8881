package engine

import (
	"io"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Scope evaluates single operations on constant inputs.
type Scope interface {
	io.Closer

	// Supports reports whether the scope has a kernel for op.
	Supports(op string) bool

	// Evaluate computes the single output of node from its input values.
	// Inputs are never modified.
	Evaluate(node *graph.Node, inputs []*graph.Tensor) (*graph.Tensor, error)
}
