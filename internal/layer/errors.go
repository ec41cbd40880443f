package layer

import (
	"errors"
	"fmt"
)

// ErrInvalidLayerKind is matched by every *InvalidLayerKindError via errors.Is.
var ErrInvalidLayerKind = errors.New("invalid layer kind")

// InvalidLayerKindError reports a declaration whose kind is not one of the
// supported layer kinds. Declaration holds the offending value for diagnostics:
// a Declaration when parsing, a Descriptor (possibly nil) when resolving.
type InvalidLayerKindError struct {
	Index       int // Position in the network, -1 if unknown
	Declaration any
}

// Error implements the error interface.
func (e *InvalidLayerKindError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("layer %d: invalid layer kind: %s", e.Index, describe(e.Declaration))
	}
	return fmt.Sprintf("invalid layer kind: %s", describe(e.Declaration))
}

// Is reports whether target is ErrInvalidLayerKind.
func (e *InvalidLayerKindError) Is(target error) bool {
	return target == ErrInvalidLayerKind
}

func describe(v any) string {
	switch d := v.(type) {
	case nil:
		return "<nil>"
	case Declaration:
		return fmt.Sprintf("%q %v", d.Kind, d.Params)
	case *Declaration:
		if d == nil {
			return "<nil>"
		}
		return fmt.Sprintf("%q %v", d.Kind, d.Params)
	default:
		return fmt.Sprintf("%T %+v", v, v)
	}
}

// ParamError reports an invalid construction parameter of a known layer kind.
type ParamError struct {
	Index  int // Position in the network, -1 if unknown
	Kind   Kind
	Field  string
	Reason string
	Err    error // Underlying decode error, if any
}

// Error implements the error interface.
func (e *ParamError) Error() string {
	msg := e.Kind.String()
	if e.Index >= 0 {
		msg = fmt.Sprintf("layer %d (%s)", e.Index, e.Kind)
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decode error.
func (e *ParamError) Unwrap() error {
	return e.Err
}

func paramErr(kind Kind, field, format string, args ...any) *ParamError {
	return &ParamError{Index: -1, Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}
