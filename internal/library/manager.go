package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/internal/wasm"
)

// Manager manages library lifecycle.
type Manager struct {
	paths       []string
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new library manager that discovers libraries under
// paths.
func NewManager(paths []string, runtime *wasm.Runtime, logger *zap.Logger) *Manager {
	return &Manager{
		paths:       paths,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, logger),
		logger:      logger.With(zap.String("component", "library-manager")),
	}
}

// LoadAll discovers and loads all libraries from the configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("libraries already loaded")
	}

	m.logger.Info("Loading libraries",
		zap.Strings("paths", m.paths),
	)

	libraries, err := m.loader.DiscoverLibraries(ctx, m.paths)
	if err != nil {
		var none *NoLibrariesFoundError
		if errors.As(err, &none) {
			m.logger.Warn("No libraries found in configured paths",
				zap.Strings("paths", m.paths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	for _, library := range libraries {
		if err := m.registry.Register(library); err != nil {
			m.logger.Error("Failed to register library",
				zap.String("name", library.Name()),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Libraries loaded successfully",
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// Load loads the library in dir and registers it.
func (m *Manager) Load(ctx context.Context, dir string) (*Library, error) {
	library, err := m.loader.LoadLibrary(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := m.registry.Register(library); err != nil {
		return nil, err
	}
	return library, nil
}

// GetLibrary retrieves a library by name.
func (m *Manager) GetLibrary(name string) (*Library, error) {
	library, ok := m.registry.Get(name)
	if !ok {
		return nil, &LibraryNotFoundError{LibraryName: name}
	}
	return library, nil
}

// FindLibraryForNamespace finds a library registered under namespace.
func (m *Manager) FindLibraryForNamespace(namespace string) (*Library, error) {
	libraries := m.registry.LookupByNamespace(namespace)
	if len(libraries) == 0 {
		return nil, fmt.Errorf("no library found for namespace '%s'", namespace)
	}
	return libraries[0], nil
}

// Open instantiates a library and returns a binding to it. The caller
// closes the binding.
func (m *Manager) Open(ctx context.Context, name string) (*Binding, error) {
	library, ok := m.registry.Get(name)
	if !ok {
		return nil, &LibraryNotFoundError{LibraryName: name}
	}

	instance, err := m.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: library.Compiled.Name,
	})
	if err != nil {
		return nil, err
	}

	return newBinding(library, instance, m.logger), nil
}

// Shutdown gracefully shuts down all libraries.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down library manager")

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Library manager shutdown complete")
	return nil
}

// Registry returns the library registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether libraries have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
