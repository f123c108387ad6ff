// Package config loads and validates the meshtel configuration.
//
// Values come from a YAML file with ${VAR} and ${VAR:-default} expansion,
// then environment overrides, then validation. Missing fields keep the
// values from Default().
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/engine"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/monitoring"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/codec"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/storage"
)

// Environment variables that override file values.
const (
	EnvDataDir  = "MESHTEL_DATA_DIR"
	EnvLogLevel = "MESHTEL_LOG_LEVEL"
	EnvKey      = "MESHTEL_KEY"
)

// Config is the root configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Security SecurityConfig `yaml:"security"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig controls where and how telemetry is persisted.
type StoreConfig struct {
	DataDir       string        `yaml:"data_dir"`       // Private directory for blobs and keys
	Backend       string        `yaml:"backend"`        // dir or sqlite
	SQLitePath    string        `yaml:"sqlite_path"`    // Defaults to <data_dir>/telemetry.db
	Codec         string        `yaml:"codec"`          // json, cbor or msgpack
	Compression   string        `yaml:"compression"`    // zstd, lz4 or none
	FlushInterval time.Duration `yaml:"flush_interval"` // Background flush period
	Retention     time.Duration `yaml:"retention"`      // Max age of visible diagnostic entries
	Rotation      string        `yaml:"rotation"`       // monthly or none
	Location      string        `yaml:"location"`       // IANA zone for monthly rotation
	Level         string        `yaml:"level"`          // BASIC, DETAILED or FULL
}

// SecurityConfig locates the device key.
type SecurityConfig struct {
	KeyFile string `yaml:"key_file"` // Hex key file, created if missing
	KeyEnv  string `yaml:"key_env"`  // Env var holding a hex key, checked first
}

// ExportConfig controls export bundles.
type ExportConfig struct {
	Dir          string   `yaml:"dir"`           // Defaults to <data_dir>/exports
	Recipients   []string `yaml:"recipients"`    // age public keys; empty means device key
	IdentityFile string   `yaml:"identity_file"` // age identities for importing recipient bundles
}

// LoggingConfig controls process logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:       defaultDataDir(),
			Backend:       "dir",
			Codec:         "json",
			Compression:   "zstd",
			FlushInterval: 5 * time.Minute,
			Retention:     30 * 24 * time.Hour,
			Rotation:      "monthly",
			Location:      "UTC",
			Level:         "BASIC",
		},
		Security: SecurityConfig{
			KeyEnv: EnvKey,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "meshtel")
	}
	return ".meshtel"
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default}.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		cfg.resolvePaths()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.Store.DataDir = dir
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}

// resolvePaths fills paths derived from the data directory.
func (c *Config) resolvePaths() {
	if c.Store.DataDir == "" {
		return
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.Store.DataDir, "telemetry.db")
	}
	if c.Security.KeyFile == "" {
		c.Security.KeyFile = filepath.Join(c.Store.DataDir, "device.key")
	}
	if c.Export.Dir == "" {
		c.Export.Dir = filepath.Join(c.Store.DataDir, "exports")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	switch c.Store.Backend {
	case "dir", "sqlite":
	default:
		return fmt.Errorf("invalid store.backend: %q (must be dir or sqlite)", c.Store.Backend)
	}
	if _, err := codec.ByName(c.Store.Codec); err != nil {
		return fmt.Errorf("invalid store.codec: %w", err)
	}
	if _, err := storage.ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("invalid store.compression: %w", err)
	}
	if _, err := engine.ParseRotation(c.Store.Rotation); err != nil {
		return fmt.Errorf("invalid store.rotation: %w", err)
	}
	if c.Store.FlushInterval <= 0 {
		return fmt.Errorf("store.flush_interval must be positive")
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store.retention must be positive")
	}
	if _, err := time.LoadLocation(c.Store.Location); err != nil {
		return fmt.Errorf("invalid store.location: %w", err)
	}
	if _, err := model.ParseLevel(c.Store.Level); err != nil {
		return fmt.Errorf("invalid store.level: %w", err)
	}
	if c.Security.KeyFile == "" && c.Security.KeyEnv == "" {
		return fmt.Errorf("security.key_file or security.key_env is required")
	}
	for _, r := range c.Export.Recipients {
		if !strings.HasPrefix(r, "age1") {
			return fmt.Errorf("invalid export recipient %q (must be an age public key)", r)
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %q (must be json or console)", c.Logging.Format)
	}
	return nil
}

// LoggerConfig converts the logging section for the monitoring package.
func (c *Config) LoggerConfig() monitoring.LoggerConfig {
	return monitoring.LoggerConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
