package layer

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Declaration is a raw layer declaration as written in a network description:
// a kind name plus a flat mapping of construction parameters.
//
// In YAML the kind and the parameters share one mapping:
//
//	layers:
//	  - kind: conv2d
//	    inputShape: [1, 28, 28]
//	    filters: 8
//	    kernelSize: 5
//	    activation: relu
type Declaration struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Declaration) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	kind, _ := m["kind"].(string)
	delete(m, "kind")
	d.Kind = kind
	d.Params = m
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Declaration) MarshalYAML() (any, error) {
	m := make(map[string]any, len(d.Params)+1)
	for k, v := range d.Params {
		m[k] = v
	}
	m["kind"] = d.Kind
	return m, nil
}

// Parse converts a raw declaration into a typed Descriptor.
//
// Unknown kinds fail with *InvalidLayerKindError. Unknown or mistyped
// parameters, and parameter values the layer cannot be built with, fail
// with *ParamError.
func Parse(decl Declaration) (Descriptor, error) {
	kind, ok := ParseKind(decl.Kind)
	if !ok {
		return nil, &InvalidLayerKindError{Index: -1, Declaration: decl}
	}

	var (
		d   Descriptor
		err error
	)
	switch kind {
	case Conv2DKind:
		var c Conv2D
		err = decodeParams(decl.Params, &c)
		d = c
	case DenseKind:
		var c Dense
		err = decodeParams(decl.Params, &c)
		d = c
	case FlattenKind:
		var c Flatten
		err = decodeParams(decl.Params, &c)
		d = c
	case MaxPooling2DKind:
		var c MaxPooling2D
		err = decodeParams(decl.Params, &c)
		d = c
	}
	if err != nil {
		return nil, &ParamError{Index: -1, Kind: kind, Reason: "decode parameters", Err: err}
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseAll parses an ordered network description. The first failing
// declaration aborts parsing; its error carries the declaration index.
func ParseAll(decls []Declaration) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(decls))
	for i, decl := range decls {
		d, err := Parse(decl)
		if err != nil {
			return nil, WithIndex(err, i)
		}
		out = append(out, d)
	}
	return out, nil
}

// Declare converts a Descriptor back into its raw declaration form.
func Declare(d Descriptor) (Declaration, error) {
	d, err := normalize(d)
	if err != nil {
		return Declaration{}, err
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return Declaration{}, fmt.Errorf("layer: encode %s: %w", d.Kind(), err)
	}
	params := map[string]any{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return Declaration{}, fmt.Errorf("layer: encode %s: %w", d.Kind(), err)
	}
	return Declaration{Kind: d.Kind().String(), Params: params}, nil
}

// decodeParams round-trips the flat mapping through YAML into the typed
// record, rejecting fields the record does not declare.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WithIndex records the position of the failing declaration on layer errors.
func WithIndex(err error, i int) error {
	var kindErr *InvalidLayerKindError
	if errors.As(err, &kindErr) {
		kindErr.Index = i
		return kindErr
	}
	var pErr *ParamError
	if errors.As(err, &pErr) {
		pErr.Index = i
		return pErr
	}
	return fmt.Errorf("layer %d: %w", i, err)
}

// Validate checks that a descriptor carries parameters a layer can be built from.
func Validate(d Descriptor) error {
	d, err := normalize(d)
	if err != nil {
		return err
	}
	if err := validateShape(d.Kind(), d.DeclaredInputShape()); err != nil {
		return err
	}

	switch d := d.(type) {
	case Conv2D:
		if d.Filters <= 0 {
			return paramErr(Conv2DKind, "filters", "must be > 0 (got %d)", d.Filters)
		}
		if d.KernelSize[0] <= 0 || d.KernelSize[1] <= 0 {
			return paramErr(Conv2DKind, "kernelSize", "must be > 0 (got %v)", d.KernelSize)
		}
		if d.Strides < 0 {
			return paramErr(Conv2DKind, "strides", "must be > 0 (got %d)", d.Strides)
		}
		switch d.Padding {
		case "", Valid:
		case Same:
			if d.KernelSize[0] != d.KernelSize[1] || d.KernelSize[0]%2 == 0 {
				return paramErr(Conv2DKind, "padding", "same padding needs a square odd kernel (got %v)", d.KernelSize)
			}
		default:
			return paramErr(Conv2DKind, "padding", "unknown mode %q", d.Padding)
		}
		if !d.Activation.valid() {
			return paramErr(Conv2DKind, "activation", "unknown activation %q", d.Activation)
		}
	case Dense:
		if d.Units <= 0 {
			return paramErr(DenseKind, "units", "must be > 0 (got %d)", d.Units)
		}
		if !d.Activation.valid() {
			return paramErr(DenseKind, "activation", "unknown activation %q", d.Activation)
		}
	case Flatten:
	case MaxPooling2D:
		if d.PoolSize <= 0 {
			return paramErr(MaxPooling2DKind, "poolSize", "must be > 0 (got %d)", d.PoolSize)
		}
		if d.Strides < 0 {
			return paramErr(MaxPooling2DKind, "strides", "must be > 0 (got %d)", d.Strides)
		}
	}
	return nil
}

func validateShape(kind Kind, shape []int) error {
	for _, dim := range shape {
		if dim <= 0 {
			return paramErr(kind, "inputShape", "dimensions must be > 0 (got %v)", shape)
		}
	}
	return nil
}

// normalize dereferences pointer descriptors and rejects anything outside
// the closed set.
func normalize(d Descriptor) (Descriptor, error) {
	switch v := d.(type) {
	case Conv2D, Dense, Flatten, MaxPooling2D:
		return v, nil
	case *Conv2D:
		if v != nil {
			return *v, nil
		}
	case *Dense:
		if v != nil {
			return *v, nil
		}
	case *Flatten:
		if v != nil {
			return *v, nil
		}
	case *MaxPooling2D:
		if v != nil {
			return *v, nil
		}
	}
	return nil, &InvalidLayerKindError{Index: -1, Declaration: d}
}
