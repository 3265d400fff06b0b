package ffi

import (
	"fmt"
	"sync"
)

// Allocator owns the memory that buffers point into. Implementations must be
// safe for concurrent use.
type Allocator interface {
	// Alloc returns a buffer with the given capacity and length 0.
	Alloc(capacity int32) (Buffer, error)

	// Realloc resizes buf to capacity, preserving its first buf.Len bytes.
	// The returned buffer replaces buf, which must not be used again.
	Realloc(buf Buffer, capacity int32) (Buffer, error)

	// Free releases buf. Freeing an unknown or already freed buffer is an error.
	Free(buf Buffer) error

	// Bytes returns a view of the whole capacity of buf. The view is only
	// valid until the buffer is resized or freed.
	Bytes(buf Buffer) ([]byte, error)
}

// UnknownBufferError is returned for a buffer the allocator did not hand out,
// including one that was already freed.
type UnknownBufferError struct {
	Data Pointer
}

func (e *UnknownBufferError) Error() string {
	return fmt.Sprintf("unknown buffer data pointer %#x (double free or foreign buffer)", uint64(e.Data))
}

// HeapAllocator serves buffers from the Go heap. It backs in-process
// libraries whose memory the host manages directly.
type HeapAllocator struct {
	mu     sync.Mutex
	blocks map[Pointer][]byte
	next   Pointer
}

// heapAlign keeps synthetic addresses aligned and non-overlapping.
const heapAlign = 16

// NewHeapAllocator creates an empty heap allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{
		blocks: make(map[Pointer][]byte),
		next:   heapAlign,
	}
}

func (a *HeapAllocator) Alloc(capacity int32) (Buffer, error) {
	if capacity < 0 {
		return Buffer{}, fmt.Errorf("negative capacity %d", capacity)
	}
	if capacity == 0 {
		return Buffer{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.next
	a.next += Pointer((int64(capacity) + heapAlign - 1) / heapAlign * heapAlign)
	a.blocks[p] = make([]byte, capacity)
	return Buffer{Capacity: capacity, Data: p}, nil
}

func (a *HeapAllocator) Realloc(buf Buffer, capacity int32) (Buffer, error) {
	if buf.Data == 0 {
		return a.Alloc(capacity)
	}
	if capacity < buf.Len {
		return Buffer{}, fmt.Errorf("capacity %d smaller than length %d", capacity, buf.Len)
	}

	next, err := a.Alloc(capacity)
	if err != nil {
		return Buffer{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	old, ok := a.blocks[buf.Data]
	if !ok {
		delete(a.blocks, next.Data)
		return Buffer{}, &UnknownBufferError{Data: buf.Data}
	}
	copy(a.blocks[next.Data], old[:buf.Len])
	delete(a.blocks, buf.Data)
	next.Len = buf.Len
	return next, nil
}

func (a *HeapAllocator) Free(buf Buffer) error {
	if buf.Data == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.blocks[buf.Data]; !ok {
		return &UnknownBufferError{Data: buf.Data}
	}
	delete(a.blocks, buf.Data)
	return nil
}

func (a *HeapAllocator) Bytes(buf Buffer) ([]byte, error) {
	if buf.Data == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.blocks[buf.Data]
	if !ok {
		return nil, &UnknownBufferError{Data: buf.Data}
	}
	if int(buf.Capacity) > len(b) {
		return nil, fmt.Errorf("buffer capacity %d exceeds allocation of %d bytes", buf.Capacity, len(b))
	}
	return b[:buf.Capacity:buf.Capacity], nil
}

// Live returns the number of buffers currently allocated.
func (a *HeapAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}
