package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/unified-ffi/internal/config"
)

var libraryPath = filepath.Join("..", "..", "internal", "library", "testdata", "libraries")

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LibraryPaths = []string{libraryPath}

	var out bytes.Buffer
	cmd := &command{cfg: cfg, logger: zaptest.NewLogger(t), out: &out}
	err = cmd.run(context.Background(), args[0], args[1:])
	return out.String(), err
}

func TestEncode(t *testing.T) {
	tests := []struct {
		typ   string
		input string
		want  string
	}{
		{"string", `"hello"`, "0000000568656c6c6f"},
		{"sequence<u8>", `[1, 2, 3]`, "00000003010203"},
		{"optional<i32>", `null`, "00"},
		{"optional<i32>", `7`, "0100000007"},
	}

	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.input, func(t *testing.T) {
			out, err := runCommand(t, "encode", "-type", tt.typ, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestDecode(t *testing.T) {
	out, err := runCommand(t, "decode", "-type", "record{code: i32, reason: string}", "0000002a 00000002 6f6b")
	require.NoError(t, err)
	assert.Equal(t, `{"code":42,"reason":"ok"}`+"\n", out)

	_, err = runCommand(t, "decode", "-type", "string", "00000005 6865")
	assert.Error(t, err, "truncated input")

	_, err = runCommand(t, "decode", "-type", "u8", "0102")
	assert.Error(t, err, "trailing bytes")
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"frobnicate"},
		{"encode", `"x"`},
		{"decode", "-type", "u8"},
		{"inspect"},
		{"call", "guest"},
	} {
		_, err := runCommand(t, args...)
		assert.ErrorIs(t, err, errUsage, strings.Join(args, " "))
	}
}

func TestInspect(t *testing.T) {
	out, err := runCommand(t, "inspect", filepath.Join(libraryPath, "guest"))
	require.NoError(t, err)

	assert.Contains(t, out, "guest 0.1.0 (namespace demo, contract v1)")
	assert.Contains(t, out, "  add(a: u32, b: u32) -> u32  [add_u32]")
	assert.Contains(t, out, "  ffi.ffi_buffer_alloc")
}

func TestCall(t *testing.T) {
	out, err := runCommand(t, "call", "guest", "add", "40", "2")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, err = runCommand(t, "call", "guest", "echo_counts", `{"a": [1, 2]}`)
	require.NoError(t, err)
	assert.Equal(t, `[{"key":"a","value":[1,2]}]`+"\n", out)

	out, err = runCommand(t, "call", "guest", "boom")
	assert.Error(t, err)
	assert.Empty(t, out)

	_, err = runCommand(t, "call", "guest", "add", "1")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCommand(t, "call", "guest", "add", `"x"`, "1")
	assert.Error(t, err)
}
