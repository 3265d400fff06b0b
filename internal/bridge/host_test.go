package bridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/unified-ffi/internal/config"
)

var libraryPath = filepath.Join("..", "library", "testdata", "libraries")

func newHost(t *testing.T, paths ...string) *Host {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LibraryPaths = paths

	host, err := NewHost(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close(context.Background()) })
	return host
}

func TestRuntimeConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Wasm.CacheDir = "/var/cache/ffi"
	cfg.Buffer.InitialCapacity = 64

	rc := RuntimeConfig(cfg)
	assert.Equal(t, uint32(256), rc.MemoryPages)
	assert.Equal(t, uint32(1), rc.ArenaPages)
	assert.Equal(t, "/var/cache/ffi", rc.CacheDir)
	assert.Equal(t, 100, rc.MaxInstances)
	assert.Equal(t, int32(64), rc.Buffer.InitialCapacity)
}

func TestHost_Call(t *testing.T) {
	host := newHost(t, libraryPath)
	ctx := context.Background()

	assert.Equal(t, 2, host.Libraries().Registry().Count())

	got, err := host.Call(ctx, "guest", "add", uint32(2), uint32(3))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got)

	got, err = host.Call(ctx, "guest-toml", "echo_flags", []any{false})
	require.NoError(t, err)
	assert.Equal(t, []any{false}, got)

	_, err = host.Call(ctx, "missing", "add")
	assert.Error(t, err)
}

func TestHost_NoLibraries(t *testing.T) {
	host := newHost(t, t.TempDir())
	assert.Zero(t, host.Libraries().Registry().Count())
}

func TestHost_InvalidRuntimeConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Wasm.ArenaPages = cfg.Wasm.MemoryPages + 1

	_, err = NewHost(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
