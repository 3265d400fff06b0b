package ffi

import (
	"encoding/binary"
	"math"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// Layout describes how Buffer and Status are laid out as C structs on a
// target:
//
//	struct Buffer { int32_t capacity; int32_t len; uint8_t *data; };
//	struct Status { int8_t code; struct Buffer error_buf; };
type Layout struct {
	Name        string
	PointerSize int
	Order       binary.ByteOrder
}

var (
	// Wasm32 is the layout used for wasm32 guests.
	Wasm32 = Layout{Name: "wasm32", PointerSize: 4, Order: binary.LittleEndian}

	// Native64 is the layout of a 64-bit little-endian native target.
	Native64 = Layout{Name: "native64", PointerSize: 8, Order: binary.LittleEndian}
)

// BufferSize is sizeof(struct Buffer).
func (l Layout) BufferSize() int {
	return 8 + l.PointerSize
}

// statusBufferOffset is offsetof(struct Status, error_buf). The buffer is
// aligned to the pointer size, which is its largest member.
func (l Layout) statusBufferOffset() int {
	return l.PointerSize
}

// StatusSize is sizeof(struct Status).
func (l Layout) StatusSize() int {
	return l.statusBufferOffset() + l.BufferSize()
}

// PutBuffer writes b into dst, which must hold BufferSize bytes.
func (l Layout) PutBuffer(dst []byte, b Buffer) error {
	if len(dst) < l.BufferSize() {
		return ffierrors.OutOfBounds(ffierrors.PhaseLayout, 0, l.BufferSize(), len(dst))
	}
	l.Order.PutUint32(dst[0:], uint32(b.Capacity))
	l.Order.PutUint32(dst[4:], uint32(b.Len))
	return l.putPointer(dst[8:], b.Data)
}

// Buffer reads a struct Buffer from src.
func (l Layout) Buffer(src []byte) (Buffer, error) {
	if len(src) < l.BufferSize() {
		return Buffer{}, ffierrors.OutOfBounds(ffierrors.PhaseLayout, 0, l.BufferSize(), len(src))
	}
	b := Buffer{
		Capacity: int32(l.Order.Uint32(src[0:])),
		Len:      int32(l.Order.Uint32(src[4:])),
		Data:     l.pointer(src[8:]),
	}
	if err := b.Validate(); err != nil {
		return Buffer{}, ffierrors.Wrap(ffierrors.PhaseLayout, ffierrors.KindInvalidData, err, l.Name)
	}
	return b, nil
}

// PutStatus writes s into dst, which must hold StatusSize bytes. Padding
// bytes are zeroed.
func (l Layout) PutStatus(dst []byte, s Status) error {
	if len(dst) < l.StatusSize() {
		return ffierrors.OutOfBounds(ffierrors.PhaseLayout, 0, l.StatusSize(), len(dst))
	}
	off := l.statusBufferOffset()
	dst[0] = byte(s.Code)
	clear(dst[1:off])
	return l.PutBuffer(dst[off:], s.ErrorBuf)
}

// Status reads a struct Status from src.
func (l Layout) Status(src []byte) (Status, error) {
	if len(src) < l.StatusSize() {
		return Status{}, ffierrors.OutOfBounds(ffierrors.PhaseLayout, 0, l.StatusSize(), len(src))
	}
	buf, err := l.Buffer(src[l.statusBufferOffset():])
	if err != nil {
		return Status{}, ffierrors.WithPath(err, "error_buf")
	}
	return Status{Code: StatusCode(int8(src[0])), ErrorBuf: buf}, nil
}

func (l Layout) putPointer(dst []byte, p Pointer) error {
	switch l.PointerSize {
	case 4:
		if uint64(p) > math.MaxUint32 {
			return ffierrors.Overflow(ffierrors.PhaseLayout, uint64(p), l.Name+" pointer")
		}
		l.Order.PutUint32(dst, uint32(p))
	case 8:
		l.Order.PutUint64(dst, uint64(p))
	default:
		return ffierrors.InvalidData(ffierrors.PhaseLayout, "unsupported pointer size")
	}
	return nil
}

func (l Layout) pointer(src []byte) Pointer {
	if l.PointerSize == 4 {
		return Pointer(l.Order.Uint32(src))
	}
	return Pointer(l.Order.Uint64(src))
}
