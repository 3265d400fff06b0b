package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLifecycle(t *testing.T) {
	m := New[string](2, false)

	h, err := m.Insert("a")
	require.NoError(t, err)
	assert.False(t, h.IsForeign())
	assert.Less(t, uint64(h), uint64(1)<<48)

	v, err := m.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, last, err := m.Remove(h)
	require.NoError(t, err)
	assert.True(t, last)
	assert.Equal(t, "a", v)
	assert.Zero(t, m.Len())

	_, err = m.Get(h)
	assert.ErrorIs(t, err, ErrUseAfterFree)

	h2, err := m.Insert("b")
	require.NoError(t, err)
	assert.Equal(t, h.index(), h2.index(), "slot reused")
	assert.NotEqual(t, h, h2, "generation bumped")
	_, err = m.Get(h)
	assert.ErrorIs(t, err, ErrUseAfterFree)
}

func TestMapClone(t *testing.T) {
	m := New[int](0, false)
	h, err := m.Insert(7)
	require.NoError(t, err)
	require.NoError(t, m.Clone(h))

	_, last, err := m.Remove(h)
	require.NoError(t, err)
	assert.False(t, last)

	v, err := m.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, last, err = m.Remove(h)
	require.NoError(t, err)
	assert.True(t, last)

	h, err = m.Insert(1)
	require.NoError(t, err)
	for i := 1; i < refCountLimit; i++ {
		require.NoError(t, m.Clone(h))
	}
	assert.ErrorIs(t, m.Clone(h), ErrRefCountLimit)
}

func TestMapRejectsOtherMaps(t *testing.T) {
	local := New[int](2, false)
	other := New[int](4, false)
	foreign := New[int](2, true)

	h, err := local.Insert(1)
	require.NoError(t, err)
	fh, err := foreign.Insert(1)
	require.NoError(t, err)
	assert.True(t, fh.IsForeign())

	_, err = other.Get(h)
	assert.ErrorIs(t, err, ErrMapIDMismatch)
	_, err = local.Get(fh)
	assert.ErrorIs(t, err, ErrForeignHandle)
	_, err = foreign.Get(h)
	assert.ErrorIs(t, err, ErrLocalHandle)

	_, err = local.Get(newHandle(2, 0, 99))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMapConcurrent(t *testing.T) {
	m := New[int](0, false)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h, err := m.Insert(g*1000 + i)
				if !assert.NoError(t, err) {
					return
				}
				v, err := m.Get(h)
				assert.NoError(t, err)
				assert.Equal(t, g*1000+i, v)
				_, _, err = m.Remove(h)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()
	assert.Zero(t, m.Len())
}
