// Package handle maps Go objects to opaque 64-bit handles that can cross the
// FFI boundary in place of pointers.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

// Handle is an opaque object reference. Only the low 48 bits are used:
//
//	bits  0-31  slot index
//	bits 32-39  map id; bit 32 marks handles minted by a foreign map
//	bits 40-47  slot generation
type Handle uint64

const (
	indexMask  = 0xFFFF_FFFF
	foreignBit = 1 << 32
	endOfList  = ^uint32(0)

	// refCountLimit bounds Clone so a leaking caller fails loudly.
	refCountLimit = 200
)

func newHandle(mapID, generation uint8, index uint32) Handle {
	return Handle(uint64(generation)<<40 | uint64(mapID)<<32 | uint64(index))
}

func (h Handle) index() uint32     { return uint32(h & indexMask) }
func (h Handle) mapID() uint8      { return uint8(h >> 32) }
func (h Handle) generation() uint8 { return uint8(h >> 40) }

// IsForeign reports whether the handle was minted by a foreign map.
func (h Handle) IsForeign() bool {
	return h&foreignBit != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("handle-%d#%d", h.index(), h.generation())
}

var (
	ErrMapIDMismatch = errors.New("handle belongs to a different map")
	ErrForeignHandle = errors.New("handle was minted by a foreign map")
	ErrLocalHandle   = errors.New("handle was minted by a local map")
	ErrUseAfterFree  = errors.New("stale handle (was it used after Remove?)")
	ErrOutOfBounds   = errors.New("handle index out of bounds")
	ErrRefCountLimit = errors.New("handle reference count limit exceeded")
	ErrOverCapacity  = errors.New("handle map capacity exceeded")
)

type entry[T any] struct {
	value      T
	generation uint8
	refs       uint8
	occupied   bool
	nextFree   uint32
}

// Map stores values addressed by generation-checked handles. It is safe for
// concurrent use.
type Map[T any] struct {
	mu       sync.RWMutex
	entries  []entry[T]
	freeHead uint32
	id       uint8
	live     int
}

// New creates a map. id distinguishes maps so a handle from one is rejected
// by another; foreign maps hold objects owned by the other side of the
// boundary and get the foreign bit set in their id.
func New[T any](id uint8, foreign bool) *Map[T] {
	id &^= 1
	if foreign {
		id |= 1
	}
	return &Map[T]{id: id, freeHead: endOfList}
}

// Insert stores v and returns a fresh handle with a reference count of one.
func (m *Map[T]) Insert(v T) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx uint32
	if m.freeHead != endOfList {
		idx = m.freeHead
		m.freeHead = m.entries[idx].nextFree
	} else {
		if uint64(len(m.entries)) >= uint64(endOfList) {
			return 0, ErrOverCapacity
		}
		idx = uint32(len(m.entries))
		m.entries = append(m.entries, entry[T]{})
	}

	e := &m.entries[idx]
	e.value = v
	e.occupied = true
	e.refs = 1
	m.live++
	return newHandle(m.id, e.generation, idx), nil
}

func (m *Map[T]) lookup(h Handle) (*entry[T], error) {
	if h.mapID() != m.id {
		if h.IsForeign() && m.id&1 == 0 {
			return nil, ErrForeignHandle
		}
		if !h.IsForeign() && m.id&1 == 1 {
			return nil, ErrLocalHandle
		}
		return nil, ErrMapIDMismatch
	}
	idx := h.index()
	if int(idx) >= len(m.entries) {
		return nil, ErrOutOfBounds
	}
	e := &m.entries[idx]
	if !e.occupied || e.generation != h.generation() {
		return nil, ErrUseAfterFree
	}
	return e, nil
}

// Get returns the value for h without changing its reference count.
func (m *Map[T]) Get(h Handle) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.lookup(h)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", h, err)
	}
	return e.value, nil
}

// Clone adds a reference to h. Each reference needs its own Remove.
func (m *Map[T]) Clone(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(h)
	if err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}
	if e.refs >= refCountLimit {
		return fmt.Errorf("%s: %w", h, ErrRefCountLimit)
	}
	e.refs++
	return nil
}

// Remove drops one reference to h and returns the value. last reports whether
// that was the final reference, after which h is stale.
func (m *Map[T]) Remove(h Handle) (v T, last bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(h)
	if err != nil {
		return v, false, fmt.Errorf("%s: %w", h, err)
	}
	v = e.value
	e.refs--
	if e.refs > 0 {
		return v, false, nil
	}

	var zero T
	e.value = zero
	e.occupied = false
	e.generation++
	e.nextFree = m.freeHead
	m.freeHead = h.index()
	m.live--
	return v, true, nil
}

// Len returns the number of live entries.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}
