package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// ReserveFunc grows buf so that at least additional more bytes fit after
// len(buf). The returned slice must keep len(buf) and the existing contents,
// and its capacity must strictly exceed cap(buf).
type ReserveFunc func(buf []byte, additional int) []byte

// Writer appends encoded values to a growable region. Writes never fail;
// a reservation that does not make room panics.
type Writer struct {
	buf     []byte
	reserve ReserveFunc
}

// NewWriter creates a writer over a Go heap slice with the given starting capacity.
func NewWriter(capacity int) *Writer {
	if capacity < 0 {
		capacity = 0
	}
	return &Writer{buf: make([]byte, 0, capacity), reserve: HeapReserve}
}

// NewWriterOn creates a writer over an existing region. Appends fill
// buf[len(buf):cap(buf)] and call reserve when the region is exhausted.
func NewWriterOn(buf []byte, reserve ReserveFunc) *Writer {
	if reserve == nil {
		reserve = HeapReserve
	}
	return &Writer{buf: buf, reserve: reserve}
}

// HeapReserve grows a slice on the Go heap by amortized doubling.
func HeapReserve(buf []byte, additional int) []byte {
	need := len(buf) + additional
	newCap := cap(buf) * 2
	if newCap < 16 {
		newCap = 16
	}
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, len(buf), newCap)
	copy(grown, buf)
	return grown
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Cap returns the capacity of the current region.
func (w *Writer) Cap() int {
	return cap(w.buf)
}

// Bytes returns the written bytes. The slice aliases the writer's region.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// ensure makes room for n more bytes.
func (w *Writer) ensure(n int) {
	if len(w.buf)+n <= cap(w.buf) {
		return
	}
	before := cap(w.buf)
	grown := w.reserve(w.buf, n)
	if cap(grown) <= before || cap(grown)-len(grown) < n || len(grown) != len(w.buf) {
		panic(fmt.Sprintf("wire: reservation of %d bytes did not grow the region (cap %d -> %d)",
			n, before, cap(grown)))
	}
	w.buf = grown
}

func (w *Writer) grow(n int) []byte {
	w.ensure(n)
	start := len(w.buf)
	w.buf = w.buf[:start+n]
	return w.buf[start:]
}

func (w *Writer) WriteU8(v uint8) {
	w.grow(1)[0] = v
}

func (w *Writer) WriteI8(v int8) {
	w.WriteU8(uint8(v))
}

func (w *Writer) WriteU16(v uint16) {
	binary.BigEndian.PutUint16(w.grow(2), v)
}

func (w *Writer) WriteI16(v int16) {
	w.WriteU16(uint16(v))
}

func (w *Writer) WriteU32(v uint32) {
	binary.BigEndian.PutUint32(w.grow(4), v)
}

func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

func (w *Writer) WriteU64(v uint64) {
	binary.BigEndian.PutUint64(w.grow(8), v)
}

func (w *Writer) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
		return
	}
	w.WriteU8(0)
}

// WriteTag writes a presence tag.
func (w *Writer) WriteTag(present bool) {
	w.WriteBool(present)
}

// WriteLength writes an i32 length or count prefix. Lengths that do not fit
// an i32 cannot be represented and panic with an overflow error.
func (w *Writer) WriteLength(n int) {
	if n < 0 || n > math.MaxInt32 {
		panic(ffierrors.Overflow(ffierrors.PhaseEncode, n, "i32 length prefix"))
	}
	w.WriteI32(int32(n))
}

// WriteRaw appends b without a prefix.
func (w *Writer) WriteRaw(b []byte) {
	copy(w.grow(len(b)), b)
}

// WriteBytes writes a length-prefixed byte string.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteLength(len(b))
	w.WriteRaw(b)
}

// WriteString writes a length-prefixed UTF-8 string. A string that is not
// valid UTF-8 panics, the same as any other value with no wire form.
func (w *Writer) WriteString(s string) {
	if !utf8.ValidString(s) {
		panic(ffierrors.InvalidUTF8(ffierrors.PhaseEncode, []byte(s)))
	}
	w.WriteLength(len(s))
	copy(w.grow(len(s)), s)
}
