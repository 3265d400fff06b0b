package library

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/typedesc"
)

// Manifest file names, in lookup order.
var manifestFiles = []string{"library.yaml", "library.yml", "library.toml"}

// Manifest describes a guest library: where its Wasm lives and the
// signatures of the functions it exports.
type Manifest struct {
	Name            string         `yaml:"name" toml:"name"`
	Version         string         `yaml:"version" toml:"version"`
	Namespace       string         `yaml:"namespace" toml:"namespace"`
	ContractVersion uint32         `yaml:"contract_version" toml:"contract_version"`
	Wasm            WasmConfig     `yaml:"wasm" toml:"wasm"`
	Functions       []FunctionSpec `yaml:"functions" toml:"functions"`

	dir   string
	file  string
	funcs map[string]*Function
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File     string `yaml:"file" toml:"file"`
	Checksum string `yaml:"checksum" toml:"checksum"` // sha256:<hex>, optional
}

// FunctionSpec declares one exported function. Types are typedesc
// expressions; an empty Returns means the function returns nothing and an
// empty Throws means it declares no error type.
type FunctionSpec struct {
	Name    string    `yaml:"name" toml:"name"`
	Symbol  string    `yaml:"symbol" toml:"symbol"`
	Args    []ArgSpec `yaml:"args" toml:"args"`
	Returns string    `yaml:"returns" toml:"returns"`
	Throws  string    `yaml:"throws" toml:"throws"`
}

// ArgSpec declares one argument.
type ArgSpec struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
}

// ParseManifest finds and parses the manifest in dir.
func ParseManifest(dir string) (*Manifest, error) {
	var (
		path string
		data []byte
		err  error
	)
	for _, name := range manifestFiles {
		path = filepath.Join(dir, name)
		data, err = os.ReadFile(path)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: filepath.Join(dir, manifestFiles[0]),
			Err:  err,
		}
	}

	m, err := DecodeManifest(path, data)
	if err != nil {
		return nil, err
	}
	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return nil, &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}
	return m, nil
}

// DecodeManifest decodes manifest data. The format follows the file
// extension of path. Unknown keys are rejected. The result is not
// validated.
func DecodeManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, &ManifestParseError{Path: path, Err: err}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, &ManifestParseError{Path: path, Err: fmt.Errorf("unknown key %q", undecoded[0].String())}
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, &ManifestParseError{Path: path, Err: err}
		}
	default:
		return nil, &ManifestParseError{Path: path, Err: fmt.Errorf("unsupported manifest format %q", ext)}
	}

	m.file = filepath.Base(path)
	return &m, nil
}

func (m *Manifest) invalid(field, format string, args ...any) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validate checks manifest fields and compiles the function signatures.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return m.invalid("name", "name is required")
	}
	if m.Version == "" {
		return m.invalid("version", "version is required")
	}
	if m.Namespace == "" {
		m.Namespace = m.Name
	}
	if m.ContractVersion == 0 {
		m.ContractVersion = abi.ContractVersion
	}
	if m.ContractVersion != abi.ContractVersion {
		return m.invalid("contract_version", "contract version %d is not supported (host implements %d)",
			m.ContractVersion, abi.ContractVersion)
	}
	if m.Wasm.File == "" {
		return m.invalid("wasm.file", "wasm.file is required")
	}
	if sum := m.Wasm.Checksum; sum != "" && !strings.HasPrefix(sum, "sha256:") {
		return m.invalid("wasm.checksum", "checksum must be of the form sha256:<hex>")
	}
	if len(m.Functions) == 0 {
		return m.invalid("functions", "at least one function is required")
	}

	m.funcs = make(map[string]*Function, len(m.Functions))
	for i, spec := range m.Functions {
		field := fmt.Sprintf("functions[%d]", i)
		if spec.Name == "" {
			return m.invalid(field+".name", "function name is required")
		}
		if _, dup := m.funcs[spec.Name]; dup {
			return m.invalid(field+".name", "duplicate function %q", spec.Name)
		}
		fn, err := compileFunction(spec)
		if err != nil {
			return m.invalid(field, "%s: %v", spec.Name, err)
		}
		m.funcs[spec.Name] = fn
	}
	return nil
}

// Function returns the compiled signature of a declared function.
func (m *Manifest) Function(name string) (*Function, bool) {
	fn, ok := m.funcs[name]
	return fn, ok
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	file := m.file
	if file == "" {
		file = manifestFiles[0]
	}
	return filepath.Join(m.dir, file)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}

// Function is a FunctionSpec with its types parsed.
type Function struct {
	Name    string
	Symbol  string
	Params  []Param
	Returns *typedesc.Type // nil when the function returns nothing
	Throws  *typedesc.Type // nil when the function declares no error type
}

// Param is a parsed argument.
type Param struct {
	Name string
	Type *typedesc.Type
}

func compileFunction(spec FunctionSpec) (*Function, error) {
	fn := &Function{Name: spec.Name, Symbol: spec.Symbol}
	if fn.Symbol == "" {
		fn.Symbol = spec.Name
	}

	seen := make(map[string]bool, len(spec.Args))
	for i, a := range spec.Args {
		if a.Name == "" {
			return nil, fmt.Errorf("args[%d]: name is required", i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate argument %q", a.Name)
		}
		seen[a.Name] = true
		t, err := typedesc.Parse(a.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a.Name, err)
		}
		fn.Params = append(fn.Params, Param{Name: a.Name, Type: t})
	}

	var err error
	if spec.Returns != "" {
		if fn.Returns, err = typedesc.Parse(spec.Returns); err != nil {
			return nil, fmt.Errorf("returns: %w", err)
		}
	}
	if spec.Throws != "" {
		if fn.Throws, err = typedesc.Parse(spec.Throws); err != nil {
			return nil, fmt.Errorf("throws: %w", err)
		}
	}
	return fn, nil
}

// Signature renders the function as name(arg: type, ...) -> type throws type.
func (f *Function) Signature() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	if f.Returns != nil {
		b.WriteString(" -> ")
		b.WriteString(f.Returns.String())
	}
	if f.Throws != nil {
		b.WriteString(" throws ")
		b.WriteString(f.Throws.String())
	}
	return b.String()
}
