package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToInfo(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	defer logger.Close()

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	logger, err := New(Options{Level: "loud"})
	require.Error(t, err)
	require.NotNil(t, logger, "a working logger comes back anyway")
	defer logger.Close()

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestSetLevel(t *testing.T) {
	logger, err := New(Options{Level: "info", Format: "json"})
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.SetLevel("debug"))
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, logger.SetLevel("error"))
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))

	assert.Error(t, logger.SetLevel("loud"))
}

func TestWatchConfigAppliesLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	logger, err := New(Options{Level: "info"})
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.WatchConfig(path))
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for !logger.Core().Enabled(zapcore.DebugLevel) {
		select {
		case <-deadline:
			t.Fatal("level was not reloaded from config file")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
