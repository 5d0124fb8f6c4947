package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, AuthNone, cfg.Auth.Mode)
	assert.Equal(t, int64(20<<20), cfg.Uploads.MaxBytes)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
storage:
  backend: json
  json_path: /tmp/test.json
auth:
  mode: basic
  username: admin
  password: secret
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/test.json", cfg.Storage.JSONPath)
	assert.Equal(t, "basic", cfg.Auth.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FORMSMITH_PORT", "7777")
	t.Setenv("FORMSMITH_STORAGE_BACKEND", "json")
	t.Setenv("FORMSMITH_AUTH_MODE", "basic")
	t.Setenv("FORMSMITH_AUTH_USERNAME", "root")
	t.Setenv("FORMSMITH_AUTH_PASSWORD", "hunter2")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Equal(t, "basic", cfg.Auth.Mode)
	assert.Equal(t, "root", cfg.Auth.Username)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage backend"},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "ldap" }, "auth mode"},
		{"basic without creds", func(c *Config) { c.Auth.Mode = AuthBasic }, "username and password"},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, "port"},
		{"bad upload cap", func(c *Config) { c.Uploads.MaxBytes = 0 }, "max_bytes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
}
