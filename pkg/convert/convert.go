// Package convert implements lift and lower between native Go values and the
// flat values that cross the FFI boundary.
package convert

import (
	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/handle"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// Converter moves values of type T across the boundary as F.
//
// Lower never fails for a valid T. Lift consumes its argument: when F is a
// buffer, the buffer is freed whether or not lifting succeeds.
type Converter[T, F any] interface {
	Lower(v T) F
	Lift(v F) (T, error)
}

type identity[T any] struct{}

func (identity[T]) Lower(v T) T         { return v }
func (identity[T]) Lift(v T) (T, error) { return v, nil }

// Primitive converters pass values through unchanged.
var (
	U8  Converter[uint8, uint8]     = identity[uint8]{}
	I8  Converter[int8, int8]       = identity[int8]{}
	U16 Converter[uint16, uint16]   = identity[uint16]{}
	I16 Converter[int16, int16]     = identity[int16]{}
	U32 Converter[uint32, uint32]   = identity[uint32]{}
	I32 Converter[int32, int32]     = identity[int32]{}
	U64 Converter[uint64, uint64]   = identity[uint64]{}
	I64 Converter[int64, int64]     = identity[int64]{}
	F32 Converter[float32, float32] = identity[float32]{}
	F64 Converter[float64, float64] = identity[float64]{}

	Bool Converter[bool, int8] = boolConverter{}
)

type boolConverter struct{}

func (boolConverter) Lower(v bool) int8 {
	if v {
		return 1
	}
	return 0
}

func (boolConverter) Lift(v int8) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, ffierrors.New(ffierrors.PhaseLift, ffierrors.KindInvalidBool).
		WireType("bool").
		Value(v).
		Detail("unexpected value %d; should be 0 or 1", v).
		Build()
}

// buffered lowers through a codec into an owned buffer.
type buffered[T any] struct {
	m     *ffi.Manager
	codec wire.Codec[T]
}

// Buffered returns a converter that passes T in a buffer managed by m.
func Buffered[T any](m *ffi.Manager, codec wire.Codec[T]) Converter[T, ffi.Buffer] {
	return buffered[T]{m: m, codec: codec}
}

// Lower panics when v has no encoding (a negative duration, an enum out of
// range). The partly written buffer is freed first.
func (c buffered[T]) Lower(v T) ffi.Buffer {
	w := c.m.NewWriterSize(c.codec.Size(v))
	defer func() {
		if r := recover(); r != nil {
			w.Discard()
			panic(r)
		}
	}()
	c.codec.Write(w.Writer, v)
	return w.Finalize()
}

func (c buffered[T]) Lift(buf ffi.Buffer) (T, error) {
	var v T
	err := c.m.Consume(buf, func(r *wire.Reader) error {
		var err error
		v, err = c.codec.Read(r)
		return err
	})
	if err != nil {
		var zero T
		return zero, &ffi.InternalError{Op: "lift " + c.codec.Name(), Err: err}
	}
	return v, nil
}

// String passes strings in buffers.
func String(m *ffi.Manager) Converter[string, ffi.Buffer] {
	return Buffered(m, wire.String)
}

// Optional passes an optional value in a buffer.
func Optional[T any](m *ffi.Manager, c wire.Codec[T]) Converter[wire.Option[T], ffi.Buffer] {
	return Buffered(m, wire.Optional(c))
}

// NullableVia passes a nullable host value through an explicit presence tag.
// Both sides of a field must agree on using it.
func NullableVia[T any](m *ffi.Manager, c wire.Codec[T]) Converter[wire.Nullable[T], ffi.Buffer] {
	return Buffered(m, wire.NullableOf(c))
}

// UTF16Text passes UTF-16 host text, transcoded to UTF-8 on the wire.
func UTF16Text(m *ffi.Manager) Converter[wire.UTF16, ffi.Buffer] {
	return Buffered(m, wire.UTF16Text)
}

// object passes Go values as handles into a handle map.
type object[T any] struct {
	handles *handle.Map[T]
}

// Object returns a converter that lowers values to fresh handles in handles
// and lifts handles by borrowing the stored value.
func Object[T any](handles *handle.Map[T]) Converter[T, uint64] {
	return object[T]{handles: handles}
}

func (c object[T]) Lower(v T) uint64 {
	h, err := c.handles.Insert(v)
	if err != nil {
		panic(ffierrors.Wrap(ffierrors.PhaseLower, ffierrors.KindAllocation, err, "insert object handle"))
	}
	return uint64(h)
}

func (c object[T]) Lift(v uint64) (T, error) {
	obj, err := c.handles.Get(handle.Handle(v))
	if err != nil {
		var zero T
		return zero, &ffi.InternalError{Op: "lift object handle", Err: err}
	}
	return obj, nil
}
