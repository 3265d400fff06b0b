// Package wire implements the big-endian byte-buffer format used to move
// compound values across the FFI boundary.
package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// Reader is a cursor over an immutable byte slice. The offset never exceeds
// the slice length; a read that would cross the end fails without advancing.
type Reader struct {
	data   []byte
	offset int
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.offset
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// HasRemaining reports whether any bytes are left.
func (r *Reader) HasRemaining() bool {
	return r.offset < len(r.data)
}

// Finish returns a trailing-bytes error if the reader was not fully consumed.
func (r *Reader) Finish() error {
	if n := r.Remaining(); n > 0 {
		return ffierrors.TrailingBytes(ffierrors.PhaseDecode, n)
	}
	return nil
}

// next returns the following n bytes and advances past them.
func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ffierrors.InvalidData(ffierrors.PhaseDecode, "negative read width")
	}
	end := r.offset + n
	if end < r.offset || end > len(r.data) {
		return nil, ffierrors.OutOfBounds(ffierrors.PhaseDecode, r.offset, n, r.Remaining())
	}
	b := r.data[r.offset:end]
	r.offset = end
	return b, nil
}

// ReadU8 reads one unsigned byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadI8 reads one signed byte.
func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// ReadF32 reads an IEEE-754 single from its big-endian bit pattern.
func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

// ReadF64 reads an IEEE-754 double from its big-endian bit pattern.
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadBool reads a single byte that must be 0 or 1.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ffierrors.New(ffierrors.PhaseDecode, ffierrors.KindInvalidBool).
			WireType("bool").
			Value(v).
			Detail("unexpected byte %d; should be 0 or 1", v).
			Build()
	}
}

// ReadTag reads a presence tag for an optional or nullable value.
func (r *Reader) ReadTag(wireType string) (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ffierrors.InvalidTag(ffierrors.PhaseDecode, wireType, v)
	}
}

// ReadLength reads an i32 length or count prefix and rejects negative values.
func (r *Reader) ReadLength(wireType string) (int, error) {
	n, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ffierrors.InvalidLength(ffierrors.PhaseDecode, wireType, n)
	}
	return int(n), nil
}

// ReadRaw returns a view of the next n bytes. The view aliases the reader's
// backing slice and must be copied if it outlives the buffer.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.next(n)
}

// ReadBytes reads a length-prefixed byte string and returns a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadLength("bytes")
	if err != nil {
		return nil, err
	}
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadLength("string")
	if err != nil {
		return "", err
	}
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ffierrors.InvalidUTF8(ffierrors.PhaseDecode, b)
	}
	return string(b), nil
}
