// Package config loads annis-go settings from an optional YAML file, ANNIS_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// EnvPrefix is the prefix of environment overrides, e.g. ANNIS_LOGGER_LEVEL.
const EnvPrefix = "ANNIS"

// Config is the root configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	Import  ImportConfig  `mapstructure:"import" yaml:"import"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// StorageConfig selects the corpus backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the badger data directory. A leading ~ is expanded.
	Path string `mapstructure:"path" yaml:"path"`
}

// ExportConfig holds defaults for subgraph export.
type ExportConfig struct {
	ContextLeft  int    `mapstructure:"context_left" yaml:"context_left"`
	ContextRight int    `mapstructure:"context_right" yaml:"context_right"`
	Workers      int    `mapstructure:"workers" yaml:"workers"`
	Format       string `mapstructure:"format" yaml:"format"`
}

// ImportConfig controls which document files are imported.
type ImportConfig struct {
	Patterns   []string      `mapstructure:"patterns" yaml:"patterns"`
	IgnoreFile string        `mapstructure:"ignore_file" yaml:"ignore_file"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Workers    int           `mapstructure:"workers" yaml:"workers"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "annis-go")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Storage --
	v.SetDefault("storage.backend", BackendBadger)
	v.SetDefault("storage.path", "~/.annis-go/data")

	// -- Export --
	v.SetDefault("export.context_left", 5)
	v.SetDefault("export.context_right", 5)
	v.SetDefault("export.workers", 4)
	v.SetDefault("export.format", "json")

	// -- Import --
	v.SetDefault("import.patterns", []string{"**/*.json", "**/*.yaml", "**/*.yml"})
	v.SetDefault("import.ignore_file", ".annisignore")
	v.SetDefault("import.debounce", "500ms")
	v.SetDefault("import.workers", 4)
}

// NewDefaultConfig returns the configuration made of defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads the configuration. An empty path skips the file; environment
// variables and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates a prepared viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	path, err := homedir.Expand(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding storage.path: %w", err)
	}
	cfg.Storage.Path = filepath.Clean(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the badger backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendBadger, BackendMemory, c.Storage.Backend)
	}
	if c.Export.ContextLeft < 0 || c.Export.ContextRight < 0 {
		return errors.New("export context must not be negative")
	}
	if c.Export.Workers <= 0 {
		return errors.New("export.workers must be a positive integer")
	}
	if c.Import.Workers <= 0 {
		return errors.New("import.workers must be a positive integer")
	}
	if len(c.Import.Patterns) == 0 {
		return errors.New("import.patterns must not be empty")
	}
	if c.Logger.Format != "console" && c.Logger.Format != "json" {
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
