package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Synthetic generates n samples of classes distinguishable patterns, for
// exercising a pipeline without real data.
//
// Each class lights a horizontal band whose position depends on the class;
// 1D shapes light a contiguous run of features instead. Noise of the given
// amplitude is added from a seeded generator, so equal arguments give equal
// datasets.
func Synthetic(n, classes int, shape []int, noise float32, seed uint64) (*Dataset, error) {
	if n <= 0 || classes <= 0 || len(shape) == 0 {
		return nil, fmt.Errorf("dataset: synthetic needs samples, classes and a shape, got %d, %d, %v", n, classes, shape)
	}
	features := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("dataset: synthetic shape %v has a non-positive dimension", shape)
		}
		features *= dim
	}

	rows, cols := 1, shape[len(shape)-1]
	if len(shape) >= 2 {
		rows = shape[len(shape)-2]
	}
	planes := features / (rows * cols)

	r := rand.New(rand.NewPCG(seed, seed+1))
	d := &Dataset{
		Inputs:  make([][]float32, n),
		Labels:  make([]int32, n),
		Shape:   append([]int(nil), shape...),
		Classes: classes,
	}

	for i := 0; i < n; i++ {
		class := i % classes
		pixels := make([]float32, features)

		if rows > 1 {
			band := max(1, rows/classes)
			start := class * rows / classes
			for p := 0; p < planes; p++ {
				for row := start; row < start+band && row < rows; row++ {
					for col := 0; col < cols; col++ {
						pixels[p*rows*cols+row*cols+col] = 0.8
					}
				}
			}
		} else {
			width := max(1, features/classes)
			start := class * features / classes
			for j := start; j < start+width && j < features; j++ {
				pixels[j] = 0.8
			}
		}

		if noise > 0 {
			for j := range pixels {
				pixels[j] += noise * (r.Float32()*2 - 1)
			}
		}
		d.Inputs[i] = pixels
		d.Labels[i] = int32(class)
	}
	return d, nil
}
