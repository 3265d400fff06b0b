package ffi

import (
	"math"

	"go.uber.org/zap"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// Options tunes buffer growth.
type Options struct {
	// InitialCapacity is the capacity of buffers created by NewWriter.
	InitialCapacity int32
	// MaxCapacity bounds growth. Requests beyond it fail as allocation errors.
	MaxCapacity int32
}

// DefaultOptions returns the default growth options.
func DefaultOptions() Options {
	return Options{
		InitialCapacity: 16,
		MaxCapacity:     math.MaxInt32,
	}
}

// Manager enforces buffer ownership on top of an Allocator. Allocation
// failure is not recoverable at this level and panics with an allocation
// *errors.Error.
type Manager struct {
	alloc  Allocator
	logger *zap.Logger
	opts   Options
}

// NewManager creates a manager over alloc.
func NewManager(alloc Allocator, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialCapacity < 0 {
		opts.InitialCapacity = 0
	}
	if opts.MaxCapacity <= 0 {
		opts.MaxCapacity = math.MaxInt32
	}
	return &Manager{
		alloc:  alloc,
		logger: logger.With(zap.String("component", "buffer-manager")),
		opts:   opts,
	}
}

// Allocator returns the underlying allocator.
func (m *Manager) Allocator() Allocator {
	return m.alloc
}

// Alloc returns an empty buffer with at least the given capacity.
func (m *Manager) Alloc(capacity int) Buffer {
	if capacity < 0 || capacity > int(m.opts.MaxCapacity) {
		panic(ffierrors.AllocationFailed(int64(capacity), ffierrors.Overflow(ffierrors.PhaseAlloc, capacity, "buffer capacity")))
	}
	buf, err := m.alloc.Alloc(int32(capacity))
	if err != nil {
		panic(ffierrors.AllocationFailed(int64(capacity), err))
	}
	return buf
}

// Reserve makes room for additional bytes after buf.Len. The data may move;
// callers must continue with the returned buffer.
func (m *Manager) Reserve(buf Buffer, additional int) Buffer {
	if additional < 0 {
		panic(ffierrors.AllocationFailed(int64(additional), ffierrors.InvalidData(ffierrors.PhaseAlloc, "negative reservation")))
	}
	need := int64(buf.Len) + int64(additional)
	if need <= int64(buf.Capacity) {
		return buf
	}
	if need > int64(m.opts.MaxCapacity) {
		panic(ffierrors.AllocationFailed(need, ffierrors.Overflow(ffierrors.PhaseAlloc, need, "buffer capacity")))
	}

	newCap := int64(buf.Capacity) * 2
	if newCap < int64(m.opts.InitialCapacity) {
		newCap = int64(m.opts.InitialCapacity)
	}
	if newCap < need {
		newCap = need
	}
	if newCap > int64(m.opts.MaxCapacity) {
		newCap = int64(m.opts.MaxCapacity)
	}

	grown, err := m.alloc.Realloc(buf, int32(newCap))
	if err != nil {
		panic(ffierrors.AllocationFailed(newCap, err))
	}
	m.logger.Debug("buffer grown",
		zap.Int32("from", buf.Capacity),
		zap.Int64("to", newCap),
		zap.Int32("len", buf.Len))
	return grown
}

// Free destroys buf. Empty buffers are a no-op. Freeing a buffer twice is an
// ownership violation and panics.
func (m *Manager) Free(buf Buffer) {
	if buf.Data == 0 {
		return
	}
	if err := m.alloc.Free(buf); err != nil {
		m.logger.Error("buffer free failed", zap.Stringer("buffer", buf), zap.Error(err))
		panic(ffierrors.New(ffierrors.PhaseAlloc, ffierrors.KindUnknownBuffer).
			Value(buf).
			Cause(err).
			Detail("free of %s", buf).
			Build())
	}
}

// Release frees a buffer whose contents are not needed, such as one of
// unknown provenance. Unlike Free, a buffer the allocator rejects is logged
// and left alone.
func (m *Manager) Release(buf Buffer) {
	if buf.Data == 0 {
		return
	}
	if err := m.alloc.Free(buf); err != nil {
		m.logger.Warn("could not release buffer", zap.Stringer("buffer", buf), zap.Error(err))
	}
}

// FromBytes copies foreign bytes into a newly owned buffer.
func (m *Manager) FromBytes(b []byte) Buffer {
	buf := m.Alloc(len(b))
	if len(b) == 0 {
		return buf
	}
	view := m.view(buf)
	copy(view, b)
	buf.Len = int32(len(b))
	return buf
}

// Bytes returns a copy of the first buf.Len bytes. buf stays owned by the caller.
func (m *Manager) Bytes(buf Buffer) ([]byte, error) {
	view, err := m.contents(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// contents returns a view of the first buf.Len bytes.
func (m *Manager) contents(buf Buffer) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, ffierrors.Wrap(ffierrors.PhaseLift, ffierrors.KindInvalidData, err, "malformed buffer")
	}
	if buf.Data == 0 {
		return nil, nil
	}
	region, err := m.alloc.Bytes(buf)
	if err != nil {
		return nil, ffierrors.Wrap(ffierrors.PhaseLift, ffierrors.KindUnknownBuffer, err, buf.String())
	}
	return region[:buf.Len], nil
}

// view returns the full-capacity region of a buffer this manager just
// allocated. Failure is an allocator fault.
func (m *Manager) view(buf Buffer) []byte {
	if buf.Data == 0 {
		return nil
	}
	region, err := m.alloc.Bytes(buf)
	if err != nil {
		panic(ffierrors.AllocationFailed(int64(buf.Capacity), err))
	}
	return region
}

// Consume hands the contents of buf to fn and frees buf on every path. The
// reader must be fully consumed by fn, otherwise Consume fails with a
// trailing-bytes error. Slices obtained from Reader.ReadRaw are invalid once
// fn returns.
func (m *Manager) Consume(buf Buffer, fn func(r *wire.Reader) error) error {
	data, err := m.contents(buf)
	if err != nil {
		// The buffer is malformed or unknown; release what the allocator
		// recognises and report the original fault.
		m.Release(buf)
		return err
	}
	defer m.Free(buf)

	r := wire.NewReader(data)
	if err := fn(r); err != nil {
		return err
	}
	return r.Finish()
}

// BufferWriter encodes directly into an owned buffer. Exactly one of Finalize
// or Discard must be called.
type BufferWriter struct {
	*wire.Writer
	m   *Manager
	buf Buffer
}

// NewWriter allocates a buffer of InitialCapacity and returns a writer over it.
func (m *Manager) NewWriter() *BufferWriter {
	return m.NewWriterSize(int(m.opts.InitialCapacity))
}

// NewWriterSize is NewWriter with an explicit starting capacity, typically
// the exact encoded size.
func (m *Manager) NewWriterSize(capacity int) *BufferWriter {
	bw := &BufferWriter{m: m, buf: m.Alloc(capacity)}
	region := m.view(bw.buf)
	bw.Writer = wire.NewWriterOn(region[:0:len(region)], bw.reserve)
	return bw
}

func (bw *BufferWriter) reserve(written []byte, additional int) []byte {
	bw.buf.Len = int32(len(written))
	bw.buf = bw.m.Reserve(bw.buf, additional)
	region := bw.m.view(bw.buf)
	return region[:len(written):len(region)]
}

// Finalize transfers ownership of the written buffer to the caller.
func (bw *BufferWriter) Finalize() Buffer {
	buf := bw.buf
	buf.Len = int32(bw.Len())
	bw.buf = Buffer{}
	bw.Writer = nil
	return buf
}

// Discard frees the buffer without returning it.
func (bw *BufferWriter) Discard() {
	bw.m.Free(bw.buf)
	bw.buf = Buffer{}
	bw.Writer = nil
}
