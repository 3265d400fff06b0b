package wasm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime hosts every library instance of the process.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// Compiled module cache (key: module name/path -> value: compiled module)
	modules sync.Map // map[string]*CompiledModule

	// Active instances, keyed by instance ID. Host functions find the
	// calling instance through the guest module name, which is the ID.
	instances sync.Map // map[string]*Instance
	live      atomic.Int32

	config *RuntimeConfig
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit for each guest (in pages, 64KB each).
	// Default: 256 pages = 16MB
	MemoryPages uint32

	// Pages the host reserves in each guest for buffers, and the step by
	// which that reservation grows.
	ArenaPages uint32

	// Keep DWARF info so traps carry source positions.
	DebugEnabled bool

	// Compilation cache directory. If empty, compiled code is kept in memory
	// only.
	CacheDir string

	// Maximum number of concurrent instances.
	MaxInstances int

	// Growth policy of buffers allocated in guest memory.
	Buffer ffi.Options
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name      string
	Source    string // File path or identifier
	SizeBytes int64

	CompiledAt int64
}

// Functions lists the names of the functions the module exports, sorted.
func (c *CompiledModule) Functions() []string {
	defs := c.Module.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Imports lists the module.name pairs of the functions the module imports.
func (c *CompiledModule) Imports() []string {
	defs := c.Module.ImportedFunctions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		module, name, _ := def.Import()
		names = append(names, module+"."+name)
	}
	sort.Strings(names)
	return names
}

// NewRuntime creates and initializes a new wazero runtime with WASI and the
// ffi host module available to guests.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.MemoryPages == 0 || config.MemoryPages > 65536 {
		return nil, fmt.Errorf("memory pages must be in [1, 65536], got %d", config.MemoryPages)
	}
	if config.ArenaPages == 0 || config.ArenaPages > config.MemoryPages {
		return nil, fmt.Errorf("arena pages must be in [1, %d], got %d", config.MemoryPages, config.ArenaPages)
	}

	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(config.MemoryPages).
		WithDebugInfoEnabled(config.DebugEnabled)
	if config.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)

	runtime := &Runtime{
		runtime: r,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := newHostFunctions(runtime, logger).instantiate(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Uint32("arena_pages", config.ArenaPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  256, // 16MB
		ArenaPages:   1,
		DebugEnabled: false,
		CacheDir:     "",
		MaxInstances: 100,
		Buffer:       ffi.DefaultOptions(),
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		r.instances.Range(func(key, value any) bool {
			if closeErr := value.(*Instance).Close(ctx); closeErr != nil {
				r.logger.Warn("Failed to close instance",
					zap.String("instance_id", key.(string)),
					zap.Error(closeErr),
				)
			}
			return true
		})

		err = r.runtime.Close(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (*Instance, bool) {
	val, ok := r.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	return val.(*Instance), true
}

// acquireSlot reserves room for one more instance.
func (r *Runtime) acquireSlot() error {
	for {
		n := r.live.Load()
		if r.config.MaxInstances > 0 && int(n) >= r.config.MaxInstances {
			return &InstanceLimitError{Limit: r.config.MaxInstances}
		}
		if r.live.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (r *Runtime) releaseSlot() {
	r.live.Add(-1)
}

func (r *Runtime) storeInstance(inst *Instance) {
	r.instances.Store(inst.ID, inst)
}

func (r *Runtime) deleteInstance(instanceID string) {
	if _, ok := r.instances.LoadAndDelete(instanceID); ok {
		r.releaseSlot()
	}
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	return int(r.live.Load())
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
