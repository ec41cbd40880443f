// Package dataset loads labeled samples and exposes them as per-epoch
// sample sources for the training loop.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/born-ml/trainkit/internal/batch"
)

// ErrNoSamples is returned when a loader finds no usable rows.
var ErrNoSamples = errors.New("dataset: no samples")

// Targets selects how labels are encoded in sample targets.
type Targets int

const (
	// OneHot encodes label c as a Classes-long vector with a 1 at c, for
	// categorical cross-entropy.
	OneHot Targets = iota
	// Index encodes the label as a single class index, for sparse
	// categorical cross-entropy.
	Index
)

// ParseTargets maps "onehot" and "index" to Targets.
func ParseTargets(s string) (Targets, error) {
	switch s {
	case "", "onehot", "oneHot", "categorical":
		return OneHot, nil
	case "index", "sparse":
		return Index, nil
	default:
		return 0, fmt.Errorf("dataset: unknown target encoding %q", s)
	}
}

// Dataset holds flat inputs with class labels.
type Dataset struct {
	Inputs  [][]float32 // [samples][features], row-major per sample
	Labels  []int32     // [samples]
	Shape   []int       // per-sample input shape; product equals len(Inputs[i])
	Classes int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Inputs)
}

// Validate checks that inputs, labels and shape agree.
func (d *Dataset) Validate() error {
	if d.Len() == 0 {
		return ErrNoSamples
	}
	if len(d.Labels) != len(d.Inputs) {
		return fmt.Errorf("dataset: %d inputs but %d labels", len(d.Inputs), len(d.Labels))
	}
	features := 1
	for _, dim := range d.Shape {
		features *= dim
	}
	for i, in := range d.Inputs {
		if len(in) != features {
			return fmt.Errorf("dataset: sample %d has %d features, shape %v needs %d", i, len(in), d.Shape, features)
		}
	}
	for i, l := range d.Labels {
		if l < 0 || int(l) >= d.Classes {
			return fmt.Errorf("dataset: sample %d label %d out of range [0, %d)", i, l, d.Classes)
		}
	}
	return nil
}

// Take returns the first n samples, or all of them when n <= 0 or n
// exceeds the size.
func (d *Dataset) Take(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return &Dataset{Inputs: d.Inputs[:n], Labels: d.Labels[:n], Shape: d.Shape, Classes: d.Classes}
}

// Split divides the dataset into train and validation parts. The last
// validationRatio share of samples goes to validation.
func (d *Dataset) Split(validationRatio float64) (train, validation *Dataset) {
	n := d.Len()
	splitIdx := int(float64(n) * (1 - validationRatio))
	splitIdx = max(0, min(n, splitIdx))

	return &Dataset{
			Inputs:  d.Inputs[:splitIdx],
			Labels:  d.Labels[:splitIdx],
			Shape:   d.Shape,
			Classes: d.Classes,
		}, &Dataset{
			Inputs:  d.Inputs[splitIdx:],
			Labels:  d.Labels[splitIdx:],
			Shape:   d.Shape,
			Classes: d.Classes,
		}
}

// Shuffle permutes the samples in place with a seeded generator.
func (d *Dataset) Shuffle(seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r.Shuffle(d.Len(), func(i, j int) {
		d.Inputs[i], d.Inputs[j] = d.Inputs[j], d.Inputs[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// Samples converts the dataset into batchable samples. Inputs keep the
// per-sample shape; targets follow enc.
func (d *Dataset) Samples(enc Targets) []batch.Sample {
	out := make([]batch.Sample, d.Len())
	for i, in := range d.Inputs {
		out[i] = batch.Sample{
			X: batch.Shaped{Data: in, Shape: slices.Clone(d.Shape)},
			Y: d.target(d.Labels[i], enc),
		}
	}
	return out
}

func (d *Dataset) target(label int32, enc Targets) any {
	if enc == Index {
		return float32(label)
	}
	y := make([]float32, d.Classes)
	y[label] = 1
	return y
}

// Factory returns a factory yielding the dataset's samples in order.
func (d *Dataset) Factory(enc Targets) batch.Factory {
	return FromSlice(d.Samples(enc))
}

// FromSlice returns a factory whose sources replay samples from the start.
func FromSlice(samples []batch.Sample) batch.Factory {
	return func() batch.Source {
		i := 0
		return batch.SourceFunc(func() (batch.Sample, bool) {
			if i >= len(samples) {
				return batch.Sample{}, false
			}
			s := samples[i]
			i++
			return s, true
		})
	}
}

// FromFunc returns a factory whose sources yield fn(0) .. fn(n-1).
func FromFunc(n int, fn func(i int) batch.Sample) batch.Factory {
	return func() batch.Source {
		i := 0
		return batch.SourceFunc(func() (batch.Sample, bool) {
			if i >= n {
				return batch.Sample{}, false
			}
			s := fn(i)
			i++
			return s, true
		})
	}
}
