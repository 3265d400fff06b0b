// Package call implements the call-result protocol: every foreign call takes a
// trailing status record that the caller checks before touching the return
// value.
package call

import (
	"fmt"

	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

// ErrorLifter turns the error buffer of a CALL_ERROR into the function's
// declared Go error. It takes ownership of the buffer.
type ErrorLifter interface {
	LiftError(buf ffi.Buffer) error
}

// PanicError reports that the callee panicked. Message is the callee's panic
// message, or "unknown panic" when none could be recovered.
type PanicError struct {
	Message string
}

func (e *PanicError) Error() string {
	return "foreign call panicked: " + e.Message
}

const unknownPanic = "unknown panic"

// Invoke runs fn with a fresh status record and checks the status before the
// return value is used. On any non-OK status the return value is discarded
// and the zero F is returned with the error.
func Invoke[F any](m *ffi.Manager, errs ErrorLifter, fn func(status *ffi.Status) F) (F, error) {
	var status ffi.Status
	ret := fn(&status)
	if err := Check(m, errs, status); err != nil {
		var zero F
		return zero, err
	}
	return ret, nil
}

// InvokeAndLift is Invoke followed by lifting the return value with conv.
// The return value is lifted only when the status is OK.
func InvokeAndLift[T, F any](m *ffi.Manager, errs ErrorLifter, conv convert.Converter[T, F], fn func(status *ffi.Status) F) (T, error) {
	ret, err := Invoke(m, errs, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return conv.Lift(ret)
}

// Check interprets a status record, taking ownership of its error buffer.
//
//   - OK: nil
//   - CALL_ERROR: the error lifted by errs; without errs, an *ffi.InternalError
//   - PANIC: a *PanicError carrying the decoded message
//   - any other code: an *ffi.InternalError
func Check(m *ffi.Manager, errs ErrorLifter, status ffi.Status) error {
	switch status.Code {
	case ffi.StatusOK:
		return nil

	case ffi.StatusCallError:
		if errs == nil {
			m.Release(status.ErrorBuf)
			return &ffi.InternalError{Op: "CALL_ERROR returned by a function that declares no error type"}
		}
		return errs.LiftError(status.ErrorBuf)

	case ffi.StatusPanic:
		if status.ErrorBuf.Len == 0 {
			m.Release(status.ErrorBuf)
			return &PanicError{Message: unknownPanic}
		}
		msg, err := convert.String(m).Lift(status.ErrorBuf)
		if err != nil {
			return &PanicError{Message: fmt.Sprintf("%s (undecodable message: %v)", unknownPanic, err)}
		}
		return &PanicError{Message: msg}

	default:
		m.Release(status.ErrorBuf)
		return &ffi.InternalError{Op: fmt.Sprintf("unexpected status code %d", int8(status.Code))}
	}
}
