package ffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutSizes(t *testing.T) {
	assert.Equal(t, 12, Wasm32.BufferSize())
	assert.Equal(t, 16, Wasm32.StatusSize())
	assert.Equal(t, 16, Native64.BufferSize())
	assert.Equal(t, 24, Native64.StatusSize())
}

func TestLayoutStatusRoundTrip(t *testing.T) {
	for _, l := range []Layout{Wasm32, Native64} {
		t.Run(l.Name, func(t *testing.T) {
			want := Status{Code: StatusCallError, ErrorBuf: Buffer{Capacity: 32, Len: 5, Data: 0x1000}}
			raw := make([]byte, l.StatusSize())
			for i := range raw {
				raw[i] = 0xAA
			}
			require.NoError(t, l.PutStatus(raw, want))
			for _, b := range raw[1:l.PointerSize] {
				assert.Zero(t, b, "padding")
			}

			got, err := l.Status(raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLayoutWasm32Bytes(t *testing.T) {
	raw := make([]byte, 12)
	require.NoError(t, Wasm32.PutBuffer(raw, Buffer{Capacity: 16, Len: 3, Data: 0x10020}))
	assert.Equal(t, []byte{16, 0, 0, 0, 3, 0, 0, 0, 0x20, 0x00, 0x01, 0x00}, raw)
}

func TestLayoutErrors(t *testing.T) {
	assert.Error(t, Wasm32.PutBuffer(make([]byte, 11), Buffer{}))
	assert.Error(t, Wasm32.PutBuffer(make([]byte, 12), Buffer{Capacity: 1, Data: 1 << 33}))

	_, err := Wasm32.Status(make([]byte, 15))
	assert.Error(t, err)

	raw := make([]byte, 12)
	require.NoError(t, Wasm32.PutBuffer(raw, Buffer{Capacity: 4, Len: 1}))
	_, err = Wasm32.Buffer(raw)
	assert.Error(t, err, "capacity without data")
}

func TestStatusCodeString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "call_error", StatusCallError.String())
	assert.Equal(t, "panic", StatusPanic.String())
	assert.Equal(t, "unknown(7)", StatusCode(7).String())
}
