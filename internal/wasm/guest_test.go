package wasm

import (
	"context"
	"encoding/hex"
	"testing"

	"go.uber.org/zap/zaptest"
)

// testGuestHex is a hand-assembled guest that imports ffi.ffi_buffer_alloc
// and exports:
//
//	memory                            1 page
//	add_u32(a, b, status) i32         a + b
//	always_panics(status)             status.code = 2
//	ffi_contract_version() i32        1
//	echo(ret, arg, status)            *ret = *arg
//	fail_with(arg, status)            status = {1, *arg}
//	new_empty_string(ret, status)     ffi_buffer_alloc(4, ret); ret.len = 4
const testGuestHex = "0061736d01000000011b0560037f7f7f017f60017f006000017f60037f7f7f0060027f7f00" +
	"02180103666669106666695f6275666665725f616c6c6f6300040307060001020304040503010001" +
	"076107066d656d6f72790200076164645f75333200010d616c776179735f70616e69637300021466" +
	"66695f636f6e74726163745f76657273696f6e0003046563686f0004096661696c5f776974680005" +
	"106e65775f656d7074795f737472696e6700060a5d060700200020016a0b0900200041023a00000b" +
	"040041010b160020002001290200370200200020012802083602080b1d00200141013a0000200120" +
	"002902003702042001200028020836020c0b0f00410420001000200041043602040b"

// memoryOnlyHex exports one page of memory and nothing else.
const memoryOnlyHex = "0061736d010000000503010001070a01066d656d6f72790200"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad test module hex: %v", err)
	}
	return b
}

// newTestInstance compiles the test guest under name and instantiates it.
func newTestInstance(t *testing.T, config *RuntimeConfig) (*Runtime, *Instance) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "guest", mustHex(t, testGuestHex)); err != nil {
		t.Fatalf("Failed to load test guest: %v", err)
	}

	inst, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "guest"})
	if err != nil {
		t.Fatalf("Failed to instantiate test guest: %v", err)
	}
	return runtime, inst
}
