// Package batch assembles pulled samples into stacked input/target tensors.
package batch

import (
	"errors"
	"fmt"

	"github.com/born-ml/trainkit/internal/engine"
)

// Unbounded requests every remaining sample of a source.
const Unbounded = -1

// ErrEmptyBatch is returned when a source yields no sample for a batch.
var ErrEmptyBatch = errors.New("batch: no data returned from source for batch, check sample length")

// Sample is one labeled example. X and Y are either *engine.Tensor values or
// plain numbers and (nested) numeric slices.
type Sample struct {
	X any
	Y any
}

// Empty reports whether s is the exhaustion sentinel.
func (s Sample) Empty() bool {
	return s.X == nil && s.Y == nil
}

// Source is a resumable pull source of samples. Next returns false, or an
// empty Sample, once the source is exhausted.
type Source interface {
	Next() (Sample, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Sample, bool)

// Next implements Source.
func (f SourceFunc) Next() (Sample, bool) {
	return f()
}

// Factory produces a fresh Source, once per epoch.
type Factory func() Source

// Batch is one stacked group of inputs and targets.
//
// A Batch owns its tensors: call Release once the fit or evaluate step that
// consumed it is done.
type Batch struct {
	Inputs  *engine.Tensor
	Targets *engine.Tensor

	size     int
	released bool
}

// New wraps already stacked tensors in a Batch. The leading dimension of
// inputs is the batch size.
func New(inputs, targets *engine.Tensor) *Batch {
	size := 0
	if inputs != nil && len(inputs.Shape()) > 0 {
		size = inputs.Shape()[0]
	}
	return &Batch{Inputs: inputs, Targets: targets, size: size}
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.size
}

// Release returns the tensor storage. Releasing twice is a no-op.
func (b *Batch) Release() {
	if b == nil || b.released {
		return
	}
	engine.Release(b.Inputs)
	engine.Release(b.Targets)
	b.released = true
}

// Released reports whether Release has been called.
func (b *Batch) Released() bool {
	return b.released
}

// Assemble pulls up to size samples from src and stacks them.
//
// Parameters:
//   - src: resumable sample source; pulling stops early when it is exhausted
//   - size: maximum number of samples, or Unbounded for all remaining ones
//   - backend: backend the stacked tensors are allocated on
//
// Returns ErrEmptyBatch when no sample could be pulled.
func Assemble(src Source, size int, backend engine.Backend) (*Batch, error) {
	var xs, ys []any
	for size < 0 || len(xs) < size {
		s, ok := src.Next()
		if !ok || s.Empty() {
			break
		}
		xs = append(xs, s.X)
		ys = append(ys, s.Y)
	}

	if len(xs) == 0 {
		return nil, ErrEmptyBatch
	}

	inputs, err := Stack(xs, backend)
	if err != nil {
		return nil, fmt.Errorf("batch: stack inputs: %w", err)
	}
	targets, err := Stack(ys, backend)
	if err != nil {
		engine.Release(inputs)
		return nil, fmt.Errorf("batch: stack targets: %w", err)
	}

	return &Batch{Inputs: inputs, Targets: targets, size: len(xs)}, nil
}
