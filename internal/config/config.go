package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all formsmith configuration.
type Config struct {
	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Form and submission storage
	Storage StorageConfig `yaml:"storage"`

	// Uploaded files
	Uploads UploadsConfig `yaml:"uploads"`

	// Admin authentication
	Auth AuthConfig `yaml:"auth"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend    string `yaml:"backend"` // sqlite, json
	SQLitePath string `yaml:"sqlite_path"`
	JSONPath   string `yaml:"json_path"`
}

// UploadsConfig configures file upload handling.
type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// AuthConfig configures admin-surface authentication.
type AuthConfig struct {
	Mode     string `yaml:"mode"` // none, basic
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Auth modes.
const (
	AuthNone  = "none"
	AuthBasic = "basic"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "data/formsmith.db",
			JSONPath:   "data/formsmith.json",
		},
		Uploads: UploadsConfig{
			Dir:      "data/uploads",
			MaxBytes: 20 << 20,
		},
		Auth: AuthConfig{
			Mode: AuthNone,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies FORMSMITH_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("FORMSMITH_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("FORMSMITH_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}
	if backend := os.Getenv("FORMSMITH_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("FORMSMITH_SQLITE_PATH"); path != "" {
		c.Storage.SQLitePath = path
	}
	if path := os.Getenv("FORMSMITH_JSON_PATH"); path != "" {
		c.Storage.JSONPath = path
	}
	if dir := os.Getenv("FORMSMITH_UPLOAD_DIR"); dir != "" {
		c.Uploads.Dir = dir
	}
	if max := os.Getenv("FORMSMITH_UPLOAD_MAX_BYTES"); max != "" {
		if n, err := strconv.ParseInt(max, 10, 64); err == nil {
			c.Uploads.MaxBytes = n
		}
	}
	if mode := os.Getenv("FORMSMITH_AUTH_MODE"); mode != "" {
		c.Auth.Mode = mode
	}
	if user := os.Getenv("FORMSMITH_AUTH_USERNAME"); user != "" {
		c.Auth.Username = user
	}
	if pass := os.Getenv("FORMSMITH_AUTH_PASSWORD"); pass != "" {
		c.Auth.Password = pass
	}
	if level := os.Getenv("FORMSMITH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: sqlite, json)", c.Storage.Backend)
	}

	switch c.Auth.Mode {
	case AuthNone:
	case AuthBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return fmt.Errorf("basic auth requires username and password")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (valid: none, basic)", c.Auth.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive")
	}
	return nil
}
