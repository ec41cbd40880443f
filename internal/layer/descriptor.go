package layer

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is the declarative description of one network layer.
//
// The set of implementations is closed: Conv2D, Dense, Flatten and MaxPooling2D.
// Each variant carries its own parameter record.
type Descriptor interface {
	// Kind reports the layer kind.
	Kind() Kind

	// DeclaredInputShape returns the per-sample input shape declared on the
	// layer, or nil. Only the first layer of a network needs one.
	DeclaredInputShape() []int

	sealed()
}

// Activation names an element-wise function applied after a layer.
type Activation string

// Supported activations. The empty string means linear.
const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
)

func (a Activation) valid() bool {
	switch a {
	case "", Linear, ReLU, Sigmoid, Tanh, Softmax:
		return true
	}
	return false
}

// Pair is a two-dimensional size. It decodes from a single integer (square)
// or a two-element sequence [height, width].
type Pair [2]int

// Square returns a Pair with both dimensions set to n.
func Square(n int) Pair {
	return Pair{n, n}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Pair) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		*p = Square(n)
		return nil
	case yaml.SequenceNode:
		var dims []int
		if err := node.Decode(&dims); err != nil {
			return err
		}
		if len(dims) != 2 {
			return fmt.Errorf("expected 2 dimensions, got %d", len(dims))
		}
		*p = Pair{dims[0], dims[1]}
		return nil
	default:
		return fmt.Errorf("expected integer or [h, w], got %s", node.Tag)
	}
}

// Padding is the convolution padding mode.
type Padding string

// Padding modes.
const (
	Valid Padding = "valid"
	Same  Padding = "same"
)

// Conv2D declares a 2D convolution over NCHW input.
type Conv2D struct {
	Filters    int        `yaml:"filters"`
	KernelSize Pair       `yaml:"kernelSize"`
	Strides    int        `yaml:"strides,omitempty"`
	Padding    Padding    `yaml:"padding,omitempty"`
	UseBias    *bool      `yaml:"useBias,omitempty"`
	Activation Activation `yaml:"activation,omitempty"`
	InputShape []int      `yaml:"inputShape,omitempty"`
}

// Dense declares a fully connected layer over [batch, features] input.
type Dense struct {
	Units      int        `yaml:"units"`
	Activation Activation `yaml:"activation,omitempty"`
	InputShape []int      `yaml:"inputShape,omitempty"`
}

// Flatten declares a reshape of every sample to one dimension.
type Flatten struct {
	InputShape []int `yaml:"inputShape,omitempty"`
}

// MaxPooling2D declares 2D max pooling over NCHW input.
// Strides defaults to PoolSize.
type MaxPooling2D struct {
	PoolSize   int   `yaml:"poolSize"`
	Strides    int   `yaml:"strides,omitempty"`
	InputShape []int `yaml:"inputShape,omitempty"`
}

func (Conv2D) Kind() Kind       { return Conv2DKind }
func (Dense) Kind() Kind        { return DenseKind }
func (Flatten) Kind() Kind      { return FlattenKind }
func (MaxPooling2D) Kind() Kind { return MaxPooling2DKind }

func (d Conv2D) DeclaredInputShape() []int       { return d.InputShape }
func (d Dense) DeclaredInputShape() []int        { return d.InputShape }
func (d Flatten) DeclaredInputShape() []int      { return d.InputShape }
func (d MaxPooling2D) DeclaredInputShape() []int { return d.InputShape }

func (Conv2D) sealed()       {}
func (Dense) sealed()        {}
func (Flatten) sealed()      {}
func (MaxPooling2D) sealed() {}

// stride returns the effective convolution stride.
func (d Conv2D) stride() int {
	if d.Strides == 0 {
		return 1
	}
	return d.Strides
}

// bias reports whether a bias term is used. Defaults to true.
func (d Conv2D) bias() bool {
	return d.UseBias == nil || *d.UseBias
}

// padding returns the symmetric zero padding for the declared mode.
// "same" keeps the spatial size for stride 1; Validate only admits it with a
// square odd kernel, so one side's padding serves both.
func (d Conv2D) padding() int {
	if d.Padding == Same {
		return (d.KernelSize[0] - 1) / 2
	}
	return 0
}

func (d MaxPooling2D) stride() int {
	if d.Strides == 0 {
		return d.PoolSize
	}
	return d.Strides
}

// String renders a compact human-readable form.
func String(d Descriptor) string {
	switch d := d.(type) {
	case Conv2D:
		return fmt.Sprintf("Conv2D(filters=%d, kernel=%dx%d, stride=%d, padding=%s%s)",
			d.Filters, d.KernelSize[0], d.KernelSize[1], d.stride(), orDefault(string(d.Padding), "valid"), activationSuffix(d.Activation))
	case Dense:
		return fmt.Sprintf("Dense(units=%d%s)", d.Units, activationSuffix(d.Activation))
	case Flatten:
		return "Flatten()"
	case MaxPooling2D:
		return fmt.Sprintf("MaxPooling2D(pool=%d, stride=%d)", d.PoolSize, d.stride())
	default:
		return fmt.Sprintf("%T", d)
	}
}

func activationSuffix(a Activation) string {
	if a == "" || a == Linear {
		return ""
	}
	return ", activation=" + strings.ToLower(string(a))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
