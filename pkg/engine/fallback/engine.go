package fallback

import (
	"fmt"
	"math"

	"k8s.io/examples/AI/modelgraft/pkg/engine"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

type kernel func(node *graph.Node, inputs []*tensor) (*tensor, error)

// CalculationScope evaluates operations on the CPU, one node at a time.
type CalculationScope struct {
	kernels map[string]kernel
}

var _ engine.Scope = &CalculationScope{}

func NewCalculationScope() (*CalculationScope, error) {
	c := &CalculationScope{}
	c.kernels = map[string]kernel{
		graph.OpIdentity:      unary(func(v float32) float32 { return v }),
		graph.OpCheckNumerics: checkNumerics,
		"Neg":                 unary(func(v float32) float32 { return -v }),
		"Square":              unary(func(v float32) float32 { return v * v }),
		"Relu":                unary(func(v float32) float32 { return max(v, 0) }),
		"Relu6":               unary(func(v float32) float32 { return min(max(v, 0), 6) }),
		"Sqrt":                sqrt,
		"Rsqrt":               rsqrt,
		"Add":                 binary(func(a, b float32) (float32, error) { return a + b, nil }),
		"Sub":                 binary(func(a, b float32) (float32, error) { return a - b, nil }),
		graph.OpMul:           binary(func(a, b float32) (float32, error) { return a * b, nil }),
		"RealDiv":             binary(divide),
		graph.OpBiasAdd:       biasAdd,
		graph.OpMatMul:        matMul,
		"Maximum":             binary(func(a, b float32) (float32, error) { return max(a, b), nil }),
		"Minimum":             binary(func(a, b float32) (float32, error) { return min(a, b), nil }),
	}
	return c, nil
}

func (c *CalculationScope) Close() error {
	return nil
}

func (c *CalculationScope) Supports(op string) bool {
	_, ok := c.kernels[op]
	return ok
}

func (c *CalculationScope) Evaluate(node *graph.Node, inputs []*graph.Tensor) (*graph.Tensor, error) {
	k, ok := c.kernels[node.Op]
	if !ok {
		return nil, fmt.Errorf("op %q: %w", node.Op, engine.ErrUnsupportedOperation)
	}
	args := make([]*tensor, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("input %d of %q has no value", i, node.Name)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("input %d of %q: %w", i, node.Name, err)
		}
		args[i] = newTensor(in)
	}
	result, err := k(node, args)
	if err != nil {
		return nil, err
	}
	return result.toGraph(), nil
}

func unary(fn func(v float32) float32) kernel {
	return func(node *graph.Node, inputs []*tensor) (*tensor, error) {
		if err := wantInputs(node, inputs, 1); err != nil {
			return nil, err
		}
		result := inputs[0].clone()
		for i, v := range result.values {
			result.values[i] = fn(v)
		}
		return result, nil
	}
}

func binary(fn func(a, b float32) (float32, error)) kernel {
	return func(node *graph.Node, inputs []*tensor) (*tensor, error) {
		if err := wantInputs(node, inputs, 2); err != nil {
			return nil, err
		}
		return broadcast(inputs[0], inputs[1], fn)
	}
}

func divide(a, b float32) (float32, error) {
	if b == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	return a / b, nil
}

func sqrt(node *graph.Node, inputs []*tensor) (*tensor, error) {
	if err := wantInputs(node, inputs, 1); err != nil {
		return nil, err
	}
	result := inputs[0].clone()
	for i, v := range result.values {
		if v < 0 {
			return nil, fmt.Errorf("square root of negative value %v", v)
		}
		result.values[i] = float32(math.Sqrt(float64(v)))
	}
	return result, nil
}

func rsqrt(node *graph.Node, inputs []*tensor) (*tensor, error) {
	if err := wantInputs(node, inputs, 1); err != nil {
		return nil, err
	}
	result := inputs[0].clone()
	for i, v := range result.values {
		if v <= 0 {
			return nil, fmt.Errorf("reciprocal square root of non-positive value %v", v)
		}
		result.values[i] = float32(1 / math.Sqrt(float64(v)))
	}
	return result, nil
}

func checkNumerics(node *graph.Node, inputs []*tensor) (*tensor, error) {
	if err := wantInputs(node, inputs, 1); err != nil {
		return nil, err
	}
	for i, v := range inputs[0].values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value %d is %v", i, v)
		}
	}
	return inputs[0].clone(), nil
}

// biasAdd adds a vector along the last axis.
func biasAdd(node *graph.Node, inputs []*tensor) (*tensor, error) {
	if err := wantInputs(node, inputs, 2); err != nil {
		return nil, err
	}
	value, bias := inputs[0], inputs[1]
	if bias.rank() != 1 || value.rank() == 0 || value.lastDim() != bias.dimensions[0] {
		return nil, fmt.Errorf("bias shape %v does not match value shape %v", bias.dimensions, value.dimensions)
	}
	result := value.clone()
	n := bias.dimensions[0]
	for i := range result.values {
		result.values[i] += bias.values[i%n]
	}
	return result, nil
}

// matMul multiplies two matrices, honouring the transpose_a and transpose_b
// attributes.
func matMul(node *graph.Node, inputs []*tensor) (*tensor, error) {
	if err := wantInputs(node, inputs, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.rank() != 2 || b.rank() != 2 {
		return nil, fmt.Errorf("matmul needs rank 2 inputs, got %v and %v", a.dimensions, b.dimensions)
	}
	if node.BoolAttr("transpose_a", false) {
		a = a.transpose()
	}
	if node.BoolAttr("transpose_b", false) {
		b = b.transpose()
	}
	rows, inner, cols := a.dimensions[0], a.dimensions[1], b.dimensions[1]
	if b.dimensions[0] != inner {
		return nil, fmt.Errorf("matmul inner dimensions differ: %v x %v", a.dimensions, b.dimensions)
	}

	result := &tensor{dimensions: []int{rows, cols}, values: make([]float32, rows*cols)}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sum := float32(0)
			for k := 0; k < inner; k++ {
				sum += a.values[i*inner+k] * b.values[k*cols+j]
			}
			result.values[i*cols+j] = sum
		}
	}
	return result, nil
}

func wantInputs(node *graph.Node, inputs []*tensor, n int) error {
	if len(inputs) != n {
		return fmt.Errorf("%s %q expects %d inputs, got %d", node.Op, node.Name, n, len(inputs))
	}
	return nil
}
