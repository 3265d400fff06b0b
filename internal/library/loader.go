package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/internal/wasm"
)

// Loader handles loading libraries from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	instanceMgr  *wasm.InstanceManager
	logger       *zap.Logger
}

// NewLoader creates a new library loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		instanceMgr:  wasm.NewInstanceManager(runtime, logger),
		logger:       logger.With(zap.String("component", "library-loader")),
	}
}

// LoadLibrary loads a single library from a directory. The Wasm file must
// match the manifest checksum, export every declared symbol and report the
// host's contract version.
func (l *Loader) LoadLibrary(ctx context.Context, dir string) (*Library, error) {
	l.logger.Debug("Loading library", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading library",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("namespace", manifest.Namespace),
	)

	compiled, err := l.moduleLoader.LoadModule(ctx, &wasm.FileModuleSource{
		Path:   manifest.WasmPath(),
		SHA256: manifest.Wasm.Checksum,
	})
	if err != nil {
		return nil, &LibraryLoadError{LibraryName: manifest.Name, Err: err}
	}

	exports := compiled.Functions()
	for _, spec := range manifest.Functions {
		fn, _ := manifest.Function(spec.Name)
		if !slices.Contains(exports, fn.Symbol) {
			return nil, &LibraryLoadError{
				LibraryName: manifest.Name,
				Err:         &MissingSymbolError{LibraryName: manifest.Name, Function: fn.Name, Symbol: fn.Symbol},
			}
		}
	}

	if err := l.checkContract(ctx, manifest, compiled); err != nil {
		return nil, &LibraryLoadError{LibraryName: manifest.Name, Err: err}
	}

	library := &Library{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Library loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int("functions", len(manifest.Functions)),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return library, nil
}

// checkContract instantiates the module once to read ffi_contract_version.
func (l *Loader) checkContract(ctx context.Context, manifest *Manifest, compiled *wasm.CompiledModule) error {
	checkInst, err := l.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{ModuleName: compiled.Name})
	if err != nil {
		return err
	}
	defer checkInst.Close(ctx)

	got, err := checkInst.ContractVersion(ctx)
	if err != nil {
		return err
	}
	if got != abi.ContractVersion {
		return &wasm.ContractVersionError{
			ModuleName: manifest.Name,
			Want:       abi.ContractVersion,
			Got:        got,
		}
	}
	return nil
}

// DiscoverLibraries scans directories for libraries. Each immediate
// subdirectory holding a manifest is one library.
func (l *Loader) DiscoverLibraries(ctx context.Context, paths []string) ([]*Library, error) {
	var libraries []*Library
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning library directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Library path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			libDir := filepath.Join(basePath, entry.Name())

			library, err := l.LoadLibrary(ctx, libDir)
			if err != nil {
				l.logger.Error("Failed to load library",
					zap.String("dir", libDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			libraries = append(libraries, library)
		}
	}

	if len(libraries) > 0 && len(errs) > 0 {
		l.logger.Warn("Some libraries failed to load",
			zap.Int("loaded", len(libraries)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(libraries) == 0 {
		return nil, &NoLibrariesFoundError{Paths: paths}
	}

	return libraries, nil
}
