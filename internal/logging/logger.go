// Package logging builds the process-wide zap logger from configuration
// and hot-reloads the level when the config file changes on disk.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Options selects the logger's output shape.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Logger bundles the zap logger with its adjustable level.
type Logger struct {
	*zap.Logger
	level   zap.AtomicLevel
	watcher *fsnotify.Watcher
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// New builds a logger per the options. Unknown levels fall back to info
// with an error returned alongside a working logger.
func New(opts Options) (*Logger, error) {
	lvl, lvlErr := parseLevel(opts.Level)
	atomic := zap.NewAtomicLevelAt(lvl)

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomic)
	logger := &Logger{
		Logger: zap.New(core, zap.AddCaller()),
		level:  atomic,
	}
	return logger, lvlErr
}

// SetLevel adjusts the level at runtime.
func (l *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// levelConfig is the slice of the config file the watcher cares about.
type levelConfig struct {
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// WatchConfig re-reads the config file's logging.level whenever it is
// written and applies it. The watch stops when Close is called.
func (l *Logger) WatchConfig(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	l.watcher = watcher

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.applyLevelFromFile(target)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (l *Logger) applyLevelFromFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		l.Warn("config reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	var cfg levelConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		l.Warn("config reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	if cfg.Logging.Level == "" {
		return
	}
	if err := l.SetLevel(cfg.Logging.Level); err != nil {
		l.Warn("config reload ignored", zap.String("level", cfg.Logging.Level), zap.Error(err))
		return
	}
	l.Info("log level updated", zap.String("level", cfg.Logging.Level))
}

// Close stops the config watcher and flushes buffered entries.
func (l *Logger) Close() error {
	if l.watcher != nil {
		l.watcher.Close()
	}
	// Stderr sync fails on some platforms; the error is not actionable.
	_ = l.Sync()
	return nil
}
