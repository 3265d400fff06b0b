// Package bridge wires configuration, the wasm runtime and the library
// manager into one host process.
package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/internal/config"
	"github.com/woxQAQ/unified-ffi/internal/library"
	"github.com/woxQAQ/unified-ffi/internal/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

type Host struct {
	cfg       *config.Config
	logger    *zap.Logger
	runtime   *wasm.Runtime
	libraries *library.Manager
}

// RuntimeConfig translates the wasm and buffer sections of cfg.
func RuntimeConfig(cfg *config.Config) *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		ArenaPages:   cfg.Wasm.ArenaPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
		Buffer: ffi.Options{
			InitialCapacity: cfg.Buffer.InitialCapacity,
			MaxCapacity:     cfg.Buffer.MaxCapacity,
		},
	}
}

// NewHost starts the runtime and loads every library under the configured
// paths.
func NewHost(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Host, error) {
	runtime, err := wasm.NewRuntime(ctx, logger, RuntimeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	libraries := library.NewManager(cfg.LibraryPaths, runtime, logger)
	if err := libraries.LoadAll(ctx); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}

	logger.Info("FFI host initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.Int("libraries", libraries.Registry().Count()),
	)

	return &Host{
		cfg:       cfg,
		logger:    logger,
		runtime:   runtime,
		libraries: libraries,
	}, nil
}

// Libraries returns the library manager.
func (h *Host) Libraries() *library.Manager {
	return h.libraries
}

// Open instantiates the named library.
func (h *Host) Open(ctx context.Context, name string) (*library.Binding, error) {
	return h.libraries.Open(ctx, name)
}

// Call opens name, invokes function once and closes the instance again.
func (h *Host) Call(ctx context.Context, name, function string, args ...any) (any, error) {
	b, err := h.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := b.Close(ctx); err != nil {
			h.logger.Warn("Failed to close library instance",
				zap.String("library", name),
				zap.Error(err),
			)
		}
	}()
	return b.Call(ctx, function, args...)
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Info("Shutting down FFI host")

	if err := h.libraries.Shutdown(ctx); err != nil {
		h.logger.Error("Failed to shutdown libraries", zap.Error(err))
		return err
	}

	h.logger.Info("FFI host shutdown complete")
	return nil
}
