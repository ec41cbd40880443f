package layer

import "strings"

// Kind identifies one of the supported layer types.
type Kind int

// Supported layer kinds. The zero value is not a valid kind.
const (
	Conv2DKind Kind = iota + 1
	DenseKind
	FlattenKind
	MaxPooling2DKind
)

func (k Kind) String() string {
	switch k {
	case Conv2DKind:
		return "Conv2D"
	case DenseKind:
		return "Dense"
	case FlattenKind:
		return "Flatten"
	case MaxPooling2DKind:
		return "MaxPooling2D"
	default:
		return "Unknown"
	}
}

// ParseKind maps a declared kind name to a Kind.
//
// Both the builder spelling (conv2d, dense, flatten, maxPooling2d) and the
// component spelling (Conv2D, Dense, Flatten, MaxPooling2D) are accepted,
// case-insensitively. "maxpool2d" is accepted as well.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "conv2d":
		return Conv2DKind, true
	case "dense":
		return DenseKind, true
	case "flatten":
		return FlattenKind, true
	case "maxpooling2d", "maxpool2d":
		return MaxPooling2DKind, true
	default:
		return 0, false
	}
}
