// Package engine pins the Born execution backend used by every trainkit component.
//
// All layers, batches and compiled models share one autodiff-decorated CPU backend
// so that a forward pass recorded on the gradient tape can be differentiated
// back into the parameters created by the layer resolver.
package engine

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
)

// Backend is the autodiff-decorated CPU backend.
type Backend = *autodiff.Backend[*cpu.Backend]

// Tensor is a float32 tensor living on Backend.
type Tensor = tensor.Tensor[float32, Backend]

// Labels is an int32 tensor of class indices living on Backend.
type Labels = tensor.Tensor[int32, Backend]

// New creates a fresh CPU backend wrapped with a gradient tape.
func New() Backend {
	return autodiff.New(cpu.New())
}

// FromSlice copies data into a new tensor with the given shape.
func FromSlice(b Backend, data []float32, shape ...int) (*Tensor, error) {
	t, err := tensor.FromSlice(data, tensor.Shape(shape), b)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return t, nil
}

// LabelsFromSlice copies class indices into a new int32 tensor of shape [len(data)].
func LabelsFromSlice(b Backend, data []int32) (*Labels, error) {
	t, err := tensor.FromSlice(data, tensor.Shape{len(data)}, b)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return t, nil
}

// Release hands the storage of t back to the runtime.
// A nil tensor is ignored.
func Release(t *Tensor) {
	if t == nil {
		return
	}
	t.Raw().Release()
}

// Dims returns the shape of t as a plain int slice.
func Dims(t *Tensor) []int {
	shape := t.Shape()
	dims := make([]int, len(shape))
	copy(dims, shape)
	return dims
}
