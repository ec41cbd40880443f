// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layer declares the layers a network is built from.
//
// A network is an ordered list of descriptors. Descriptors are plain values
// and can be written in Go or decoded from YAML or JSON declarations:
//
//	layers, err := layer.ParseAll([]layer.Declaration{
//	    {Kind: "dense", Params: map[string]any{"units": 16, "inputShape": []int{4}, "activation": "relu"}},
//	    {Kind: "dense", Params: map[string]any{"units": 3, "activation": "softmax"}},
//	})
package layer

import "github.com/born-ml/trainkit/internal/layer"

// Descriptor is one declared layer.
type Descriptor = layer.Descriptor

// Declaration is the serialized form of a Descriptor.
type Declaration = layer.Declaration

// Layer descriptors.
type (
	Conv2D       = layer.Conv2D
	Dense        = layer.Dense
	Flatten      = layer.Flatten
	MaxPooling2D = layer.MaxPooling2D
)

// Kind identifies a layer type.
type Kind = layer.Kind

// Supported layer kinds.
const (
	Conv2DKind       = layer.Conv2DKind
	DenseKind        = layer.DenseKind
	FlattenKind      = layer.FlattenKind
	MaxPooling2DKind = layer.MaxPooling2DKind
)

// Activation names an element-wise function applied after a layer.
type Activation = layer.Activation

// Supported activations.
const (
	Linear  = layer.Linear
	ReLU    = layer.ReLU
	Sigmoid = layer.Sigmoid
	Tanh    = layer.Tanh
	Softmax = layer.Softmax
)

// Padding is the convolution padding mode.
type Padding = layer.Padding

// Padding modes.
const (
	Valid = layer.Valid
	Same  = layer.Same
)

// Pair is a two-dimensional size.
type Pair = layer.Pair

// Errors.
type (
	InvalidLayerKindError = layer.InvalidLayerKindError
	ParamError            = layer.ParamError
)

// ErrInvalidLayerKind matches every *InvalidLayerKindError.
var ErrInvalidLayerKind = layer.ErrInvalidLayerKind

// Square returns a Pair with both dimensions set to n.
func Square(n int) Pair {
	return layer.Square(n)
}

// ParseKind maps a declared kind name to a Kind.
func ParseKind(name string) (Kind, bool) {
	return layer.ParseKind(name)
}

// Parse converts one declaration into its descriptor.
func Parse(decl Declaration) (Descriptor, error) {
	return layer.Parse(decl)
}

// ParseAll converts declarations in order. Errors carry the failing index.
func ParseAll(decls []Declaration) ([]Descriptor, error) {
	return layer.ParseAll(decls)
}

// Declare converts a descriptor back into its declaration.
func Declare(d Descriptor) (Declaration, error) {
	return layer.Declare(d)
}

// Validate checks a descriptor's parameters.
func Validate(d Descriptor) error {
	return layer.Validate(d)
}

// String formats a descriptor for display.
func String(d Descriptor) string {
	return layer.String(d)
}
