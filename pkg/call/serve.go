package call

import (
	"fmt"
	"strings"

	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

// Serve runs the body of an exported function and fills in status for the
// caller. A returned error that errs recognises becomes CALL_ERROR with the
// encoded error; any other error, or a panic, becomes PANIC with the message
// in the error buffer. On every non-OK outcome the zero F is returned.
func Serve[F any](m *ffi.Manager, status *ffi.Status, errs ErrorLowerer, fn func() (F, error)) (ret F) {
	*status = ffi.Status{Code: ffi.StatusOK}

	defer func() {
		if r := recover(); r != nil {
			var zero F
			ret = zero
			setPanic(m, status, fmt.Sprint(r))
		}
	}()

	v, err := fn()
	if err == nil {
		return v
	}

	var zero F
	if errs != nil {
		if buf, ok := errs.LowerError(err); ok {
			*status = ffi.Status{Code: ffi.StatusCallError, ErrorBuf: buf}
			return zero
		}
	}
	setPanic(m, status, "unexpected error: "+err.Error())
	return zero
}

// setPanic records a panic. Invalid UTF-8 in msg is replaced. If the message
// still cannot be lowered the error buffer is left empty.
func setPanic(m *ffi.Manager, status *ffi.Status, msg string) {
	*status = ffi.Status{Code: ffi.StatusPanic}
	defer func() {
		_ = recover()
	}()
	status.ErrorBuf = convert.String(m).Lower(strings.ToValidUTF8(msg, "\uFFFD"))
}
