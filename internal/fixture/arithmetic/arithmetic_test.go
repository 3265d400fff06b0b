package arithmetic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/unified-ffi/pkg/call"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

func newClient(t *testing.T) (*Client, *ffi.HeapAllocator) {
	t.Helper()
	heap := ffi.NewHeapAllocator()
	logger := zaptest.NewLogger(t)
	lib := NewLibrary(ffi.NewManager(heap, logger, ffi.DefaultOptions()), logger)
	t.Cleanup(func() {
		assert.Zero(t, heap.Live(), "buffers leaked")
	})
	return NewClient(lib), heap
}

func TestAdd(t *testing.T) {
	c, _ := newClient(t)

	got, err := c.Add(40, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	got, err = c.Add(math.MinInt32, math.MaxInt32)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got)
}

func TestDeclaredErrors(t *testing.T) {
	c, _ := newClient(t)

	tests := []struct {
		name string
		call func() (int32, error)
		want ArithmeticError
	}{
		{"add overflow", func() (int32, error) { return c.Add(math.MaxInt32, 1) }, ArithmeticError{Overflow, "add"}},
		{"add underflow", func() (int32, error) { return c.Add(math.MinInt32, -1) }, ArithmeticError{Overflow, "add"}},
		{"divide by zero", func() (int32, error) { return c.Divide(1, 0) }, ArithmeticError{DivisionByZero, "divide"}},
		{"divide overflow", func() (int32, error) { return c.Divide(math.MinInt32, -1) }, ArithmeticError{Overflow, "divide"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.call()
			assert.Zero(t, got)

			var ae *ArithmeticError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.want, *ae)
		})
	}
}

func TestDivide(t *testing.T) {
	c, _ := newClient(t)

	got, err := c.Divide(-7, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), got)
}

func TestBufferArguments(t *testing.T) {
	c, _ := newClient(t)

	sum, err := c.Sum([]int32{math.MaxInt32, math.MaxInt32, -4})
	require.NoError(t, err)
	assert.Equal(t, int64(2*math.MaxInt32-4), sum)

	sum, err = c.Sum(nil)
	require.NoError(t, err)
	assert.Zero(t, sum)

	mean, err := c.Mean([]int32{1, 2, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, wire.Some(3.0), mean)

	mean, err = c.Mean([]int32{})
	require.NoError(t, err)
	assert.False(t, mean.IsSome())
}

func TestAbort(t *testing.T) {
	c, _ := newClient(t)

	err := c.Abort("out of cheese")
	var pe *call.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "out of cheese", pe.Message)

	// An empty message still travels in a length-prefixed buffer.
	err = c.Abort("")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "", pe.Message)
}

func TestAccumulator(t *testing.T) {
	c, _ := newClient(t)

	acc, err := c.NewAccumulator()
	require.NoError(t, err)
	other, err := c.NewAccumulator()
	require.NoError(t, err)
	assert.Equal(t, 2, c.lib.Accumulators())

	for _, v := range []int32{5, 10} {
		_, err := acc.Add(v)
		require.NoError(t, err)
	}
	total, err := acc.Add(-1)
	require.NoError(t, err)
	assert.Equal(t, int64(14), total)

	total, err = other.Add(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, acc.Close())
	require.NoError(t, other.Close())
	assert.Zero(t, c.lib.Accumulators())

	// Undeclared failures surface as panics on the caller side.
	_, err = acc.Add(1)
	var pe *call.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "stale handle")

	err = acc.Close()
	require.ErrorAs(t, err, &pe)
}

func TestErrorCodec(t *testing.T) {
	b := wire.Encode(ErrorCodec, &ArithmeticError{Kind: DivisionByZero, Op: "divide"})
	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x06, 'd', 'i', 'v', 'i', 'd', 'e',
	}, b)

	_, err := wire.Decode(ErrorCodec, []byte{0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00})
	assert.Error(t, err)
}
