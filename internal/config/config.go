package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes environment overrides, e.g. FFIBRIDGE_WASM_MEMORY_PAGES.
const EnvPrefix = "FFIBRIDGE"

type Config struct {
	LibraryPaths []string     `mapstructure:"library_paths"`
	LogLevel     string       `mapstructure:"log_level"`
	Buffer       BufferConfig `mapstructure:"buffer"`
	Wasm         WasmConfig   `mapstructure:"wasm"`
}

// BufferConfig holds the buffer growth policy.
type BufferConfig struct {
	// Capacity of the first allocation when a writer starts from nothing.
	InitialCapacity int32 `mapstructure:"initial_capacity"`
	// Largest capacity a buffer may grow to.
	MaxCapacity int32 `mapstructure:"max_capacity"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Pages reserved per instance for host-managed buffers.
	ArenaPages uint32 `mapstructure:"arena_pages"`
	// Keep debug info in compiled modules.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("library_paths", []string{"./libraries"})
	v.SetDefault("log_level", "info")

	v.SetDefault("buffer.initial_capacity", 16)
	v.SetDefault("buffer.max_capacity", math.MaxInt32)

	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.arena_pages", 1)
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
}

// Load reads configuration from defaults, the optional file at configPath
// and FFIBRIDGE_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Buffer.InitialCapacity < 0 {
		return fmt.Errorf("buffer.initial_capacity must not be negative, got %d", c.Buffer.InitialCapacity)
	}
	if c.Buffer.MaxCapacity <= 0 {
		return fmt.Errorf("buffer.max_capacity must be positive, got %d", c.Buffer.MaxCapacity)
	}
	if c.Buffer.InitialCapacity > c.Buffer.MaxCapacity {
		return fmt.Errorf("buffer.initial_capacity %d exceeds buffer.max_capacity %d",
			c.Buffer.InitialCapacity, c.Buffer.MaxCapacity)
	}
	if c.Wasm.MemoryPages == 0 || c.Wasm.MemoryPages > 65536 {
		return fmt.Errorf("wasm.memory_pages must be in [1, 65536], got %d", c.Wasm.MemoryPages)
	}
	if c.Wasm.ArenaPages == 0 || c.Wasm.ArenaPages > c.Wasm.MemoryPages {
		return fmt.Errorf("wasm.arena_pages must be in [1, wasm.memory_pages], got %d", c.Wasm.ArenaPages)
	}
	if c.Wasm.MaxInstances < 0 {
		return fmt.Errorf("wasm.max_instances must not be negative, got %d", c.Wasm.MaxInstances)
	}
	return nil
}
