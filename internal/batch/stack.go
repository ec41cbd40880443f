package batch

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/born-ml/trainkit/internal/engine"
)

// ErrNilValue is returned when a sample's input or target is nil.
var ErrNilValue = errors.New("nil value")

// ShapeError reports a sample whose shape differs from the first sample.
type ShapeError struct {
	Index int
	Want  []int
	Got   []int
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("sample %d: shape %v does not match %v", e.Index, e.Got, e.Want)
}

// Shaped is a flat row-major value with an explicit per-sample shape, for
// sources that keep images as flat pixel slices.
type Shaped struct {
	Data  []float32
	Shape []int
}

// Stack combines per-sample values into one tensor with a new leading
// dimension.
//
// Tensor-valued elements are stacked element-wise; any other element is
// converted in bulk from numbers or nested numeric slices.
func Stack(values []any, backend engine.Backend) (*engine.Tensor, error) {
	if len(values) == 0 {
		return nil, ErrEmptyBatch
	}
	if _, ok := values[0].(*engine.Tensor); ok {
		return stackTensors(values, backend)
	}
	return convert(values, backend)
}

func stackTensors(values []any, backend engine.Backend) (*engine.Tensor, error) {
	var (
		shape []int
		data  []float32
	)
	for i, v := range values {
		t, ok := v.(*engine.Tensor)
		if !ok {
			return nil, fmt.Errorf("sample %d: expected tensor, got %T", i, v)
		}
		if t == nil {
			return nil, fmt.Errorf("sample %d: %w", i, ErrNilValue)
		}
		if i == 0 {
			shape = engine.Dims(t)
			data = make([]float32, 0, len(values)*t.NumElements())
		}
		if got := engine.Dims(t); !slices.Equal(got, shape) {
			return nil, &ShapeError{Index: i, Want: shape, Got: got}
		}
		data = append(data, t.Data()...)
	}

	return engine.FromSlice(backend, data, append([]int{len(values)}, shape...)...)
}

func convert(values []any, backend engine.Backend) (*engine.Tensor, error) {
	var (
		shape []int
		data  []float32
	)
	for i, v := range values {
		flat, s, err := flatten(reflect.ValueOf(v))
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if i == 0 {
			shape = s
			data = make([]float32, 0, len(values)*len(flat))
		} else if !slices.Equal(s, shape) {
			return nil, &ShapeError{Index: i, Want: shape, Got: s}
		}
		data = append(data, flat...)
	}

	return engine.FromSlice(backend, data, append([]int{len(values)}, shape...)...)
}

// flatten walks a number or a rectangular nest of slices/arrays in row-major
// order, returning the values and the nesting shape.
func flatten(v reflect.Value) ([]float32, []int, error) {
	if !v.IsValid() {
		return nil, nil, ErrNilValue
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil, ErrNilValue
		}
		v = v.Elem()
	}

	if v.Kind() == reflect.Struct && v.CanInterface() {
		if s, ok := v.Interface().(Shaped); ok {
			n := 1
			for _, dim := range s.Shape {
				n *= dim
			}
			if n != len(s.Data) {
				return nil, nil, fmt.Errorf("shaped value has %d elements, shape %v needs %d", len(s.Data), s.Shape, n)
			}
			return slices.Clone(s.Data), slices.Clone(s.Shape), nil
		}
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return []float32{float32(v.Float())}, []int{}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []float32{float32(v.Int())}, []int{}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []float32{float32(v.Uint())}, []int{}, nil
	case reflect.Bool:
		if v.Bool() {
			return []float32{1}, []int{}, nil
		}
		return []float32{0}, []int{}, nil
	case reflect.Slice, reflect.Array:
		n := v.Len()
		if n == 0 {
			return nil, []int{0}, nil
		}
		// Fast path for the common flat case.
		if fs, ok := v.Interface().([]float32); ok {
			return slices.Clone(fs), []int{n}, nil
		}
		var (
			inner []int
			out   []float32
		)
		for i := 0; i < n; i++ {
			data, s, err := flatten(v.Index(i))
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				inner = s
				out = make([]float32, 0, n*len(data))
			} else if !slices.Equal(s, inner) {
				return nil, nil, fmt.Errorf("ragged nesting: element %d has shape %v, want %v", i, s, inner)
			}
			out = append(out, data...)
		}
		return out, append([]int{n}, inner...), nil
	default:
		return nil, nil, fmt.Errorf("unsupported element type %s", v.Type())
	}
}
