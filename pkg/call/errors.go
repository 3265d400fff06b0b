package call

import (
	"errors"

	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// ErrorLowerer is the callee-side counterpart of ErrorLifter. It reports
// false for errors that are not of the declared type.
type ErrorLowerer interface {
	LowerError(err error) (ffi.Buffer, bool)
}

// TypedErrors converts a declared error type E in both directions.
type TypedErrors[E error] struct {
	conv convert.Converter[E, ffi.Buffer]
}

// Errors returns the converter for error type E encoded with codec.
func Errors[E error](m *ffi.Manager, codec wire.Codec[E]) *TypedErrors[E] {
	return &TypedErrors[E]{conv: convert.Buffered(m, codec)}
}

// LiftError decodes buf into E. A buffer that does not decode is an
// *ffi.InternalError, never a value of E.
func (t *TypedErrors[E]) LiftError(buf ffi.Buffer) error {
	e, err := t.conv.Lift(buf)
	if err != nil {
		return err
	}
	return e
}

// LowerError encodes err when it is, or wraps, an E.
func (t *TypedErrors[E]) LowerError(err error) (ffi.Buffer, bool) {
	var e E
	if !errors.As(err, &e) {
		return ffi.Buffer{}, false
	}
	return t.conv.Lower(e), true
}
