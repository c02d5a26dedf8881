package engine

import (
	"errors"
	"fmt"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// ErrUnsupportedOperation is returned when the scope has no kernel for a
// node's op.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// ErrNotConstant is returned when a node reads a value that is not known
// ahead of time.
var ErrNotConstant = errors.New("input is not constant")

// EvaluateNode computes the value of a single-output node whose inputs are
// all Const nodes.
func EvaluateNode(scope Scope, g *graph.Graph, node *graph.Node) (*graph.Tensor, error) {
	if node.NumOutputs() != 1 {
		return nil, fmt.Errorf("node %q has %d outputs: %w", node.Name, node.NumOutputs(), ErrUnsupportedOperation)
	}
	if !scope.Supports(node.Op) {
		return nil, fmt.Errorf("op %q: %w", node.Op, ErrUnsupportedOperation)
	}
	inputs := make([]*graph.Tensor, len(node.Inputs))
	for i, ref := range node.Inputs {
		producer, err := g.Resolve(ref)
		if err != nil {
			return nil, err
		}
		if !producer.IsConst() {
			return nil, fmt.Errorf("input %d (%s): %w", i, ref, ErrNotConstant)
		}
		inputs[i] = producer.Value
	}
	return scope.Evaluate(node, inputs)
}

// Evaluate computes the values of wantNodes, evaluating whatever they depend
// on in dependency order. Const nodes supply their payload; every other
// ancestor must be computable by scope. The graph is not modified.
func Evaluate(scope Scope, g *graph.Graph, wantNodes []string) (map[string]*graph.Tensor, error) {
	needed := Ancestors(g, wantNodes)
	evaluationOrder, err := BuildDAG(g, wantNodes)
	if err != nil {
		return nil, err
	}

	values := make(map[string]*graph.Tensor, len(needed))
	for _, name := range evaluationOrder {
		if !needed[name] {
			continue
		}
		node, err := g.Get(name)
		if err != nil {
			return nil, err
		}
		if node.IsConst() {
			values[name] = node.Value
			continue
		}
		if node.NumOutputs() != 1 || !scope.Supports(node.Op) {
			return nil, fmt.Errorf("node %q (op %q): %w", name, node.Op, ErrUnsupportedOperation)
		}
		inputs := make([]*graph.Tensor, len(node.Inputs))
		for i, ref := range node.Inputs {
			v, ok := values[ref.Node]
			if !ok || ref.Slot != 0 {
				return nil, fmt.Errorf("node %q input %d (%s): %w", name, i, ref, ErrNotConstant)
			}
			inputs[i] = v
		}
		result, err := scope.Evaluate(node, inputs)
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", name, err)
		}
		values[name] = result
	}

	results := make(map[string]*graph.Tensor, len(wantNodes))
	for _, name := range wantNodes {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("node %q was not evaluated", name)
		}
		results[name] = v
	}
	return results, nil
}
