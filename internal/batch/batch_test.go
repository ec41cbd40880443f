package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/internal/engine"
)

// countingSource yields n samples x=[i, i+1], y=i and counts pulls.
type countingSource struct {
	n, next, pulls int
}

func (s *countingSource) Next() (Sample, bool) {
	s.pulls++
	if s.next >= s.n {
		return Sample{}, false
	}
	i := s.next
	s.next++
	return Sample{X: []float32{float32(i), float32(i + 1)}, Y: float32(i)}, true
}

func TestAssemble_BoundedSizes(t *testing.T) {
	b := engine.New()
	tests := []struct {
		name      string
		available int
		requested int
		want      int
	}{
		{"exact", 4, 4, 4},
		{"fewer available", 3, 5, 3},
		{"more available", 10, 2, 2},
		{"unbounded", 7, Unbounded, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &countingSource{n: tt.available}
			got, err := Assemble(src, tt.requested, b)
			require.NoError(t, err)
			defer got.Release()

			assert.Equal(t, tt.want, got.Size())
			assert.Equal(t, []int{tt.want, 2}, engine.Dims(got.Inputs))
			assert.Equal(t, []int{tt.want}, engine.Dims(got.Targets))
		})
	}
}

func TestAssemble_PreservesPullOrder(t *testing.T) {
	b := engine.New()
	src := &countingSource{n: 5}

	first, err := Assemble(src, 2, b)
	require.NoError(t, err)
	second, err := Assemble(src, 2, b)
	require.NoError(t, err)
	third, err := Assemble(src, 2, b)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 1}, first.Targets.Data())
	assert.Equal(t, []float32{2, 3}, second.Targets.Data())
	assert.Equal(t, []float32{4}, third.Targets.Data())
	assert.Equal(t, []float32{2, 3, 3, 4}, second.Inputs.Data())
}

func TestAssemble_DoesNotOverPull(t *testing.T) {
	src := &countingSource{n: 10}
	got, err := Assemble(src, 3, engine.New())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Size())
	assert.Equal(t, 3, src.pulls)
}

func TestAssemble_Exhausted(t *testing.T) {
	src := &countingSource{n: 2}
	_, err := Assemble(src, 2, engine.New())
	require.NoError(t, err)

	_, err = Assemble(src, 2, engine.New())
	assert.True(t, errors.Is(err, ErrEmptyBatch))
}

func TestAssemble_EmptySampleStops(t *testing.T) {
	calls := 0
	src := SourceFunc(func() (Sample, bool) {
		calls++
		if calls > 2 {
			return Sample{}, true
		}
		return Sample{X: 1.0, Y: 0}, true
	})

	got, err := Assemble(src, 10, engine.New())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Size())
	assert.Equal(t, []int{2}, engine.Dims(got.Inputs))
}

func TestAssemble_StacksTensors(t *testing.T) {
	b := engine.New()
	var samples []Sample
	for i := 0; i < 3; i++ {
		x, err := engine.FromSlice(b, []float32{float32(i), float32(i), float32(i), float32(i)}, 1, 2, 2)
		require.NoError(t, err)
		y, err := engine.FromSlice(b, []float32{1, 0}, 2)
		require.NoError(t, err)
		samples = append(samples, Sample{X: x, Y: y})
	}
	i := 0
	src := SourceFunc(func() (Sample, bool) {
		if i >= len(samples) {
			return Sample{}, false
		}
		i++
		return samples[i-1], true
	})

	got, err := Assemble(src, Unbounded, b)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2, 2}, engine.Dims(got.Inputs))
	assert.Equal(t, []int{3, 2}, engine.Dims(got.Targets))
	assert.Equal(t, float32(2), got.Inputs.Data()[8])
}

func TestStack_NestedSlices(t *testing.T) {
	values := []any{
		[][]float64{{1, 2, 3}, {4, 5, 6}},
		[][]float64{{7, 8, 9}, {10, 11, 12}},
	}
	got, err := Stack(values, engine.New())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, engine.Dims(got))
	assert.Equal(t, float32(12), got.Data()[11])
}

func TestStack_ShapeMismatch(t *testing.T) {
	_, err := Stack([]any{[]float32{1, 2}, []float32{1, 2, 3}}, engine.New())
	var shapeErr *ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, 1, shapeErr.Index)
	assert.Equal(t, []int{2}, shapeErr.Want)
	assert.Equal(t, []int{3}, shapeErr.Got)
}

func TestStack_Ragged(t *testing.T) {
	_, err := Stack([]any{[][]int{{1, 2}, {3}}}, engine.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestStack_Unsupported(t *testing.T) {
	_, err := Stack([]any{"seven"}, engine.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestBatch_Release(t *testing.T) {
	got, err := Assemble(&countingSource{n: 1}, 1, engine.New())
	require.NoError(t, err)
	assert.False(t, got.Released())
	got.Release()
	assert.True(t, got.Released())
	got.Release()
}

func TestStack_Shaped(t *testing.T) {
	got, err := Stack([]any{
		Shaped{Data: []float32{1, 2, 3, 4}, Shape: []int{1, 2, 2}},
		Shaped{Data: []float32{5, 6, 7, 8}, Shape: []int{1, 2, 2}},
	}, engine.New())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 2, 2}, engine.Dims(got))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, got.Data())

	_, err = Stack([]any{Shaped{Data: []float32{1, 2, 3}, Shape: []int{2, 2}}}, engine.New())
	assert.ErrorContains(t, err, "needs 4")
}

func TestAssemble_NilTarget(t *testing.T) {
	src := SourceFunc(func() (Sample, bool) {
		return Sample{X: []float32{1, 2}}, true
	})

	var err error
	require.NotPanics(t, func() { _, err = Assemble(src, 2, engine.New()) })
	assert.ErrorIs(t, err, ErrNilValue)
	assert.ErrorContains(t, err, "stack targets")
}

func TestStack_NilTensor(t *testing.T) {
	b := engine.New()
	x, err := engine.FromSlice(b, []float32{1, 2}, 2)
	require.NoError(t, err)

	var missing *engine.Tensor
	tests := []struct {
		name   string
		values []any
	}{
		{"first", []any{missing, x}},
		{"later", []any{x, missing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Stack(tt.values, b) })
			assert.ErrorIs(t, err, ErrNilValue)
		})
	}
}

func TestStack_NilPointer(t *testing.T) {
	var row *[]float32
	_, err := Stack([]any{row}, engine.New())
	assert.ErrorIs(t, err, ErrNilValue)
}
