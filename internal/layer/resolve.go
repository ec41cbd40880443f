package layer

import (
	"fmt"
	"slices"

	"github.com/born-ml/born/nn"

	"github.com/born-ml/trainkit/internal/engine"
)

// Module is the part of a Born module the trainkit stack relies on.
type Module interface {
	Forward(input *engine.Tensor) *engine.Tensor
	Parameters() []*nn.Parameter[engine.Backend]
}

// Built is a constructed layer: the Born module for the descriptor, its
// activation, and the per-sample shapes it maps between.
type Built struct {
	desc     Descriptor
	core     Module
	act      Module
	softmax  bool
	inShape  []int
	outShape []int
}

// Descriptor returns the descriptor the layer was built from.
func (b *Built) Descriptor() Descriptor { return b.desc }

// InputShape returns the per-sample input shape.
func (b *Built) InputShape() []int { return slices.Clone(b.inShape) }

// OutputShape returns the per-sample output shape.
func (b *Built) OutputShape() []int { return slices.Clone(b.outShape) }

// Softmax reports whether the declared activation is softmax. Softmax is not
// applied by Forward: cross-entropy losses consume logits, and prediction
// applies it explicitly.
func (b *Built) Softmax() bool { return b.softmax }

// Forward runs the layer and its activation on a batch.
func (b *Built) Forward(input *engine.Tensor) *engine.Tensor {
	out := b.core.Forward(input)
	if b.act != nil {
		out = b.act.Forward(out)
	}
	return out
}

// Parameters returns the trainable parameters of the layer.
func (b *Built) Parameters() []*nn.Parameter[engine.Backend] {
	return b.core.Parameters()
}

// NumParams counts the scalar parameters of the layer.
func (b *Built) NumParams() int {
	total := 0
	for _, p := range b.Parameters() {
		count := 1
		for _, dim := range p.Tensor().Shape() {
			count *= dim
		}
		total += count
	}
	return total
}

// Resolver constructs Born layers from descriptors.
type Resolver struct {
	backend engine.Backend
}

// NewResolver returns a Resolver that allocates parameters on backend.
func NewResolver(backend engine.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Resolve builds the layer described by d.
//
// Parameters:
//   - d: the layer descriptor; its parameters are used verbatim
//   - in: per-sample input shape produced by the previous layer, or nil for
//     the first layer, which must then declare inputShape
//
// Returns the built layer, whose OutputShape feeds the next layer.
func (r *Resolver) Resolve(d Descriptor, in []int) (*Built, error) {
	d, err := normalize(d)
	if err != nil {
		return nil, err
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	declared := d.DeclaredInputShape()
	switch {
	case in == nil && declared == nil:
		return nil, paramErr(d.Kind(), "inputShape", "required on the first layer")
	case in == nil:
		in = slices.Clone(declared)
	case declared != nil && !slices.Equal(in, declared):
		return nil, paramErr(d.Kind(), "inputShape", "declared %v but previous layer produces %v", declared, in)
	}

	built := &Built{desc: d, inShape: slices.Clone(in)}

	switch d := d.(type) {
	case Conv2D:
		if len(in) != 3 {
			return nil, paramErr(Conv2DKind, "inputShape", "expected [channels, height, width], got %v", in)
		}
		pad, stride := d.padding(), d.stride()
		outH := (in[1]+2*pad-d.KernelSize[0])/stride + 1
		outW := (in[2]+2*pad-d.KernelSize[1])/stride + 1
		if outH <= 0 || outW <= 0 {
			return nil, paramErr(Conv2DKind, "kernelSize", "%v does not fit input %v", d.KernelSize, in)
		}
		built.core = nn.NewConv2D(in[0], d.Filters, d.KernelSize[0], d.KernelSize[1], stride, pad, d.bias(), r.backend)
		built.outShape = []int{d.Filters, outH, outW}
		built.act, built.softmax = activation(d.Activation)

	case Dense:
		if len(in) != 1 {
			return nil, paramErr(DenseKind, "inputShape", "expected [features], got %v (add a flatten layer)", in)
		}
		built.core = nn.NewLinear(in[0], d.Units, r.backend)
		built.outShape = []int{d.Units}
		built.act, built.softmax = activation(d.Activation)

	case Flatten:
		built.core = flatten{}
		built.outShape = []int{product(in)}

	case MaxPooling2D:
		if len(in) != 3 {
			return nil, paramErr(MaxPooling2DKind, "inputShape", "expected [channels, height, width], got %v", in)
		}
		stride := d.stride()
		outH := (in[1]-d.PoolSize)/stride + 1
		outW := (in[2]-d.PoolSize)/stride + 1
		if outH <= 0 || outW <= 0 {
			return nil, paramErr(MaxPooling2DKind, "poolSize", "%d does not fit input %v", d.PoolSize, in)
		}
		built.core = nn.NewMaxPool2D(d.PoolSize, stride, r.backend)
		built.outShape = []int{in[0], outH, outW}

	default:
		return nil, &InvalidLayerKindError{Index: -1, Declaration: d}
	}

	return built, nil
}

func activation(a Activation) (Module, bool) {
	switch a {
	case ReLU:
		return nn.NewReLU[engine.Backend](), false
	case Sigmoid:
		return nn.NewSigmoid[engine.Backend](), false
	case Tanh:
		return nn.NewTanh[engine.Backend](), false
	case Softmax:
		return nil, true
	default:
		return nil, false
	}
}

// flatten reshapes [batch, ...] into [batch, features]. The reshape is
// recorded on the tape by the autodiff backend.
type flatten struct{}

func (flatten) Forward(input *engine.Tensor) *engine.Tensor {
	shape := input.Shape()
	if len(shape) == 0 {
		panic(fmt.Sprintf("flatten: expected batched input, got shape %v", shape))
	}
	n := shape[0]
	features := 1
	for _, dim := range shape[1:] {
		features *= dim
	}
	return input.Reshape(n, features)
}

func (flatten) Parameters() []*nn.Parameter[engine.Backend] {
	return nil
}

func product(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}
