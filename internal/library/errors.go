package library

import (
	"fmt"

	"github.com/woxQAQ/unified-ffi/pkg/typedesc"
)

// ManifestNotFoundError occurs when no manifest is found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when a manifest is not valid YAML or TOML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when a manifest fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in a manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// MissingSymbolError occurs when a declared function has no matching export.
type MissingSymbolError struct {
	LibraryName string
	Function    string
	Symbol      string
}

func (e *MissingSymbolError) Error() string {
	return fmt.Sprintf("library '%s' declares '%s' but does not export '%s'",
		e.LibraryName, e.Function, e.Symbol)
}

// LibraryLoadError occurs when library loading fails.
type LibraryLoadError struct {
	LibraryName string
	Err         error
}

func (e *LibraryLoadError) Error() string {
	return fmt.Sprintf("failed to load library '%s': %v", e.LibraryName, e.Err)
}

func (e *LibraryLoadError) Unwrap() error {
	return e.Err
}

// LibraryNotFoundError occurs when a library is not found in the registry.
type LibraryNotFoundError struct {
	LibraryName string
}

func (e *LibraryNotFoundError) Error() string {
	return fmt.Sprintf("library '%s' not found", e.LibraryName)
}

// LibraryAlreadyRegisteredError occurs when attempting to register a duplicate library.
type LibraryAlreadyRegisteredError struct {
	LibraryName string
}

func (e *LibraryAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("library '%s' is already registered", e.LibraryName)
}

// NoLibrariesFoundError occurs when no libraries are found in the configured paths.
type NoLibrariesFoundError struct {
	Paths []string
}

func (e *NoLibrariesFoundError) Error() string {
	return fmt.Sprintf("no libraries found in paths: %v", e.Paths)
}

// FunctionNotDeclaredError occurs when calling a function the manifest
// does not declare.
type FunctionNotDeclaredError struct {
	LibraryName string
	Function    string
}

func (e *FunctionNotDeclaredError) Error() string {
	return fmt.Sprintf("library '%s' declares no function '%s'", e.LibraryName, e.Function)
}

// ArgumentError occurs when an argument cannot be lowered.
type ArgumentError struct {
	Function string
	Arg      string
	Err      error
}

func (e *ArgumentError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("%s: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("%s: argument '%s': %v", e.Function, e.Arg, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// CallError is the declared error a library function returned. Value is
// the decoded error in the dynamic representation of Type.
type CallError struct {
	Function string
	Type     *typedesc.Type
	Value    any
}

func (e *CallError) Error() string {
	if js, err := e.Type.ToJSON(e.Value); err == nil {
		return fmt.Sprintf("%s failed: %s", e.Function, js)
	}
	return fmt.Sprintf("%s failed: %v", e.Function, e.Value)
}
