// Package ffi holds the values that cross the C-compatible boundary: byte
// buffers, call status records and their struct layouts, together with the
// buffer lifecycle manager.
package ffi

import "fmt"

// Pointer is an address in the owning allocator's address space: a heap
// slab address for in-process libraries or a linear-memory offset for wasm
// guests. Zero is the null pointer.
type Pointer uint64

// Buffer is a region of foreign-visible memory. Len <= Capacity, and Data is
// non-zero whenever Capacity > 0. Whoever holds a Buffer owns it and must
// either free it or pass it on.
type Buffer struct {
	Capacity int32
	Len      int32
	Data     Pointer
}

// IsEmpty reports whether the buffer has no backing allocation.
func (b Buffer) IsEmpty() bool {
	return b.Data == 0
}

// Validate checks the structural invariants of the buffer.
func (b Buffer) Validate() error {
	if b.Capacity < 0 || b.Len < 0 || b.Len > b.Capacity {
		return fmt.Errorf("invalid buffer: len=%d capacity=%d", b.Len, b.Capacity)
	}
	if b.Capacity > 0 && b.Data == 0 {
		return fmt.Errorf("invalid buffer: null data with capacity %d", b.Capacity)
	}
	return nil
}

func (b Buffer) String() string {
	return fmt.Sprintf("Buffer{cap=%d len=%d data=%#x}", b.Capacity, b.Len, uint64(b.Data))
}

// StatusCode is the outcome of a foreign call.
type StatusCode int8

const (
	StatusOK        StatusCode = 0
	StatusCallError StatusCode = 1
	StatusPanic     StatusCode = 2
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusCallError:
		return "call_error"
	case StatusPanic:
		return "panic"
	default:
		return fmt.Sprintf("unknown(%d)", int8(c))
	}
}

// Status is the out-of-band result record passed by pointer to every call.
// ErrorBuf is meaningful only when Code is not StatusOK.
type Status struct {
	Code     StatusCode
	ErrorBuf Buffer
}
