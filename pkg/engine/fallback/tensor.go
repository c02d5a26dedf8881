package fallback

import (
	"fmt"
	"slices"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

type tensor struct {
	dimensions []int
	values     []float32
}

// newTensor wraps a graph tensor; kernels must clone before writing.
func newTensor(t *graph.Tensor) *tensor {
	return &tensor{
		dimensions: t.Shape,
		values:     t.Values,
	}
}

func (t *tensor) toGraph() *graph.Tensor {
	return &graph.Tensor{Shape: t.dimensions, Values: t.values}
}

func (t *tensor) clone() *tensor {
	return &tensor{
		dimensions: slices.Clone(t.dimensions),
		values:     slices.Clone(t.values),
	}
}

func (t *tensor) rank() int {
	return len(t.dimensions)
}

func (t *tensor) lastDim() int {
	return t.dimensions[len(t.dimensions)-1]
}

func (t *tensor) isScalar() bool {
	return len(t.values) == 1 && t.rank() <= 1
}

func (t *tensor) transpose() *tensor {
	rows, cols := t.dimensions[0], t.dimensions[1]
	result := &tensor{dimensions: []int{cols, rows}, values: make([]float32, len(t.values))}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.values[j*rows+i] = t.values[i*cols+j]
		}
	}
	return result
}

func sameSize(t1 *tensor, t2 *tensor) bool {
	return slices.Equal(t1.dimensions, t2.dimensions)
}

// broadcast applies fn elementwise. Shapes must match, or one side must be a
// scalar, or b must be a vector matching the last dimension of a.
func broadcast(a, b *tensor, fn func(a, b float32) (float32, error)) (*tensor, error) {
	var result *tensor
	var index func(i int) (int, int)
	switch {
	case sameSize(a, b):
		result = a.clone()
		index = func(i int) (int, int) { return i, i }
	case b.isScalar():
		result = a.clone()
		index = func(i int) (int, int) { return i, 0 }
	case a.isScalar():
		result = b.clone()
		index = func(i int) (int, int) { return 0, i }
	case b.rank() == 1 && a.rank() > 1 && a.lastDim() == b.dimensions[0]:
		n := b.dimensions[0]
		result = a.clone()
		index = func(i int) (int, int) { return i, i % n }
	default:
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v", a.dimensions, b.dimensions)
	}
	for i := range result.values {
		ia, ib := index(i)
		v, err := fn(a.values[ia], b.values[ib])
		if err != nil {
			return nil, err
		}
		result.values[i] = v
	}
	return result, nil
}
