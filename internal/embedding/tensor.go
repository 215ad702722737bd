// Package embedding provides the dense tensor type used for speaker conditioning
// latents and speaker embeddings, and the routines that combine several of them
// into one synthetic voice.
package embedding

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShapeMismatch indicates that tensor data does not fit its shape, or that
	// tensors combined together do not share a shape.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrEmptyTensor indicates a tensor without any elements.
	ErrEmptyTensor = errors.New("tensor is empty")
)

// Tensor is a dense, row-major float32 tensor.
//
// The store never interprets the shape beyond checking that tensors combined
// together agree on it; the model server decides what the dimensions mean.
type Tensor struct {
	Shape []int     `msgpack:"shape" json:"shape"`
	Data  []float32 `msgpack:"data"  json:"data"`
}

// NewTensor builds a tensor and checks that data holds exactly as many elements
// as the shape describes.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	tensor := Tensor{Shape: append([]int(nil), shape...), Data: data}

	err := tensor.Validate()
	if err != nil {
		return Tensor{}, err
	}

	return tensor, nil
}

// Vector builds a one-dimensional tensor over values.
func Vector(values ...float32) Tensor {
	return Tensor{Shape: []int{len(values)}, Data: values}
}

// Filled builds a tensor of the given shape with every element set to value.
func Filled(value float32, shape ...int) Tensor {
	size := elementCount(shape)
	data := make([]float32, size)

	for i := range data {
		data[i] = value
	}

	return Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Validate reports whether the tensor is non-empty and its data matches its shape.
func (t Tensor) Validate() error {
	if len(t.Data) == 0 {
		return ErrEmptyTensor
	}

	want := elementCount(t.Shape)
	if want != len(t.Data) {
		return fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrShapeMismatch, t.Shape, want, len(t.Data))
	}

	return nil
}

// Len returns the number of elements.
func (t Tensor) Len() int {
	return len(t.Data)
}

// IsZero reports whether the tensor holds no data at all.
func (t Tensor) IsZero() bool {
	return len(t.Data) == 0 && len(t.Shape) == 0
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Scale returns a new tensor with every element multiplied by weight.
func (t Tensor) Scale(weight float64) Tensor {
	out := make([]float32, len(t.Data))
	for i, v := range t.Data {
		out[i] = float32(float64(v) * weight)
	}

	return Tensor{Shape: append([]int(nil), t.Shape...), Data: out}
}

// Norm returns the Euclidean (L2) norm over all elements.
func (t Tensor) Norm() float64 {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v) * float64(v)
	}

	return math.Sqrt(sum)
}

// SameShape reports whether both tensors have identical shapes.
func (t Tensor) SameShape(other Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}

	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}

	return len(t.Data) == len(other.Data)
}

// Equal reports exact equality of shape and data.
func (t Tensor) Equal(other Tensor) bool {
	return t.AllClose(other, 0)
}

// AllClose reports whether both tensors share a shape and every pair of
// elements differs by at most tolerance.
func (t Tensor) AllClose(other Tensor, tolerance float64) bool {
	if !t.SameShape(other) {
		return false
	}

	for i := range t.Data {
		if math.Abs(float64(t.Data[i])-float64(other.Data[i])) > tolerance {
			return false
		}
	}

	return true
}

func elementCount(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	count := 1
	for _, dim := range shape {
		count *= dim
	}

	return count
}
