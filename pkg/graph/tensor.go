package graph

import (
	"fmt"
	"slices"
)

// Tensor is the dense float payload carried by a Const node.
type Tensor struct {
	// Shape is the list of dimensions; an empty shape is a scalar.
	Shape  []int
	Values []float32
}

// NewTensor builds a tensor, checking that the values fill the shape.
func NewTensor(shape []int, values []float32) (*Tensor, error) {
	t := &Tensor{Shape: shape, Values: values}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Scalar returns a rank-0 tensor.
func Scalar(v float32) *Tensor {
	return &Tensor{Values: []float32{v}}
}

// Vector returns a rank-1 tensor.
func Vector(values ...float32) *Tensor {
	return &Tensor{Shape: []int{len(values)}, Values: values}
}

// NumElements is the product of the dimensions.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Rank is the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns dimension i, counting from the end when i is negative.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

func (t *Tensor) Validate() error {
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("invalid shape %v: negative dimension", t.Shape)
		}
	}
	if n := t.NumElements(); n != len(t.Values) {
		return fmt.Errorf("shape %v needs %d values, got %d", t.Shape, n, len(t.Values))
	}
	return nil
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape:  slices.Clone(t.Shape),
		Values: slices.Clone(t.Values),
	}
}
