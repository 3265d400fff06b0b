package ffi

import "fmt"

// InternalError is a protocol violation between the two sides of the
// boundary: undecodable buffers, unknown status codes, a CALL_ERROR from a
// function that declares no error type. It indicates a bug, not a failure the
// callee meant to report.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("internal FFI error: %s", e.Op)
	}
	return fmt.Sprintf("internal FFI error: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
