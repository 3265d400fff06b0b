package wasm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

const arenaAlign = 8

type block struct {
	off  uint32
	size uint32
}

func (b block) end() uint32 { return b.off + b.size }

// Arena allocates buffers inside a guest's linear memory. It owns only pages
// it obtained with memory.grow, so it never overlaps the guest's own heap.
// Arena implements ffi.Allocator.
type Arena struct {
	mu        sync.Mutex
	mem       api.Memory
	free      []block // sorted by offset, coalesced
	used      map[uint32]uint32
	growPages uint32
	logger    *zap.Logger
}

var _ ffi.Allocator = (*Arena)(nil)

// NewArena reserves pages of guest memory for host-managed buffers. The
// arena grows by at least pages at a time when it runs out of room.
func NewArena(mem api.Memory, pages uint32, logger *zap.Logger) (*Arena, error) {
	if mem == nil {
		return nil, &MemoryAccessError{Operation: "arena", Err: fmt.Errorf("module does not export %q", abi.ExportMemory)}
	}
	if pages == 0 {
		pages = 1
	}
	a := &Arena{
		mem:       mem,
		used:      make(map[uint32]uint32),
		growPages: pages,
		logger:    logger.With(zap.String("component", "wasm-arena")),
	}
	if err := a.grow(pages); err != nil {
		return nil, err
	}
	return a, nil
}

// grow adds pages of fresh guest memory to the free list.
func (a *Arena) grow(pages uint32) error {
	prev, ok := a.mem.Grow(pages)
	if !ok {
		return &MemoryAccessError{
			Operation: "grow",
			Length:    pages * abi.PageSize,
			Err:       fmt.Errorf("guest memory limit reached (%d pages in use)", a.mem.Size()/abi.PageSize),
		}
	}
	region := block{off: prev * abi.PageSize, size: pages * abi.PageSize}
	if region.off == 0 {
		// Offset 0 is the null pointer.
		region.off += arenaAlign
		region.size -= arenaAlign
	}
	a.insertFree(region)
	a.logger.Debug("arena grown",
		zap.Uint32("pages", pages),
		zap.Uint32("offset", region.off))
	return nil
}

func (a *Arena) insertFree(b block) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off > b.off })
	a.free = append(a.free, block{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = b

	// Coalesce with the following block, then with the preceding one.
	if i+1 < len(a.free) && a.free[i].end() == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end() == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func alignUp(n uint32) uint32 {
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}

// allocRaw returns a zeroed block of at least size bytes.
func (a *Arena) allocRaw(size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if size > 1<<31 {
		return 0, &MemoryAccessError{Operation: "alloc", Length: size, Err: fmt.Errorf("request too large")}
	}
	size = alignUp(size)

	i := a.findFit(size)
	if i < 0 {
		pages := (size + abi.PageSize - 1) / abi.PageSize
		if pages < a.growPages {
			pages = a.growPages
		}
		if err := a.grow(pages); err != nil {
			return 0, err
		}
		if i = a.findFit(size); i < 0 {
			return 0, &MemoryAccessError{Operation: "alloc", Length: size, Err: fmt.Errorf("no fit after grow")}
		}
	}

	b := a.free[i]
	if b.size == size {
		a.free = append(a.free[:i], a.free[i+1:]...)
	} else {
		a.free[i] = block{off: b.off + size, size: b.size - size}
	}
	a.used[b.off] = size

	view, ok := a.mem.Read(b.off, size)
	if !ok {
		return 0, &MemoryAccessError{Operation: "alloc", Address: b.off, Length: size, Err: fmt.Errorf("out of range")}
	}
	clear(view)
	return b.off, nil
}

func (a *Arena) findFit(size uint32) int {
	for i, b := range a.free {
		if b.size >= size {
			return i
		}
	}
	return -1
}

func (a *Arena) freeRaw(ptr uint32) error {
	size, ok := a.used[ptr]
	if !ok {
		return &ffi.UnknownBufferError{Data: ffi.Pointer(ptr)}
	}
	delete(a.used, ptr)
	a.insertFree(block{off: ptr, size: size})
	return nil
}

// growInPlace extends the block at ptr to size if the following free block
// is adjacent and large enough.
func (a *Arena) growInPlace(ptr, oldSize, size uint32) bool {
	end := ptr + oldSize
	for i, b := range a.free {
		if b.off != end {
			continue
		}
		extra := size - oldSize
		if b.size < extra {
			return false
		}
		if b.size == extra {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = block{off: b.off + extra, size: b.size - extra}
		}
		if view, ok := a.mem.Read(end, extra); ok {
			clear(view)
		}
		a.used[ptr] = size
		return true
	}
	return false
}

func toPtr(p ffi.Pointer) (uint32, error) {
	if uint64(p) > 0xFFFF_FFFF {
		return 0, &ffi.UnknownBufferError{Data: p}
	}
	return uint32(p), nil
}

func (a *Arena) Alloc(capacity int32) (ffi.Buffer, error) {
	if capacity < 0 {
		return ffi.Buffer{}, fmt.Errorf("negative capacity %d", capacity)
	}
	if capacity == 0 {
		return ffi.Buffer{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ptr, err := a.allocRaw(uint32(capacity))
	if err != nil {
		return ffi.Buffer{}, err
	}
	return ffi.Buffer{Capacity: capacity, Data: ffi.Pointer(ptr)}, nil
}

func (a *Arena) Realloc(buf ffi.Buffer, capacity int32) (ffi.Buffer, error) {
	if buf.Data == 0 {
		return a.Alloc(capacity)
	}
	if capacity < buf.Len {
		return ffi.Buffer{}, fmt.Errorf("capacity %d smaller than length %d", capacity, buf.Len)
	}
	ptr, err := toPtr(buf.Data)
	if err != nil {
		return ffi.Buffer{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	oldSize, ok := a.used[ptr]
	if !ok {
		return ffi.Buffer{}, &ffi.UnknownBufferError{Data: buf.Data}
	}
	size := alignUp(uint32(capacity))
	if size <= oldSize || a.growInPlace(ptr, oldSize, size) {
		return ffi.Buffer{Capacity: capacity, Len: buf.Len, Data: buf.Data}, nil
	}

	next, err := a.allocRaw(size)
	if err != nil {
		return ffi.Buffer{}, err
	}
	if buf.Len > 0 {
		src, ok := a.mem.Read(ptr, uint32(buf.Len))
		if !ok || !a.mem.Write(next, src) {
			_ = a.freeRaw(next)
			return ffi.Buffer{}, &MemoryAccessError{Operation: "realloc", Address: ptr, Length: uint32(buf.Len), Err: fmt.Errorf("copy failed")}
		}
	}
	if err := a.freeRaw(ptr); err != nil {
		return ffi.Buffer{}, err
	}
	return ffi.Buffer{Capacity: capacity, Len: buf.Len, Data: ffi.Pointer(next)}, nil
}

func (a *Arena) Free(buf ffi.Buffer) error {
	if buf.Data == 0 {
		return nil
	}
	ptr, err := toPtr(buf.Data)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeRaw(ptr)
}

func (a *Arena) Bytes(buf ffi.Buffer) ([]byte, error) {
	if buf.Data == 0 {
		return nil, nil
	}
	ptr, err := toPtr(buf.Data)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.used[ptr]
	if !ok {
		return nil, &ffi.UnknownBufferError{Data: buf.Data}
	}
	if uint32(buf.Capacity) > size {
		return nil, fmt.Errorf("buffer capacity %d exceeds allocation of %d bytes", buf.Capacity, size)
	}
	view, ok := a.mem.Read(ptr, uint32(buf.Capacity))
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: uint32(buf.Capacity), Err: fmt.Errorf("out of range")}
	}
	return view[:buf.Capacity:buf.Capacity], nil
}

// Live returns the number of blocks currently allocated.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// scratch allocates a raw block for ABI structs passed by pointer.
func (a *Arena) scratch(size int) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocRaw(uint32(size))
}

func (a *Arena) release(ptr uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.freeRaw(ptr); err != nil {
		a.logger.Warn("scratch release failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}
