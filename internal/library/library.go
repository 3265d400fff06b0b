// Package library loads guest libraries described by a manifest and calls
// their functions by name with dynamically typed values.
package library

import (
	"sort"
	"time"

	"github.com/woxQAQ/unified-ffi/internal/wasm"
)

// Library represents a loaded library with its manifest and compiled Wasm module.
type Library struct {
	// Manifest is the parsed library metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the library was loaded
	LoadedAt time.Time
}

// Name returns the library name.
func (l *Library) Name() string {
	return l.Manifest.Name
}

// Namespace returns the namespace the library's functions live in.
func (l *Library) Namespace() string {
	return l.Manifest.Namespace
}

// Version returns the library version.
func (l *Library) Version() string {
	return l.Manifest.Version
}

// Functions returns the declared functions sorted by name.
func (l *Library) Functions() []*Function {
	fns := make([]*Function, 0, len(l.Manifest.funcs))
	for _, fn := range l.Manifest.funcs {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	return fns
}
