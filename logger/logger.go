// Package logger provides the structured logging interface used throughout
// the reel playback engine: the engine and every component hold a Logger
// scoped with a "component" field, and every worker adds a "worker" field.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Logger is the structured logging interface components depend on. It is
// satisfied by LogrusAdapter and by NopLogger for tests.
type Logger interface {
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config controls how New builds the root logrus logger: level, wire
// format, and output destination (stdout/stderr/rotating file).
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "text"
	Output     string `mapstructure:"output"` // "stdout", "stderr", or a file path
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
}

// DefaultConfig returns sane defaults for an embedded playback engine.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stderr", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7}
}

// New builds a root *logrus.Logger from cfg.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	switch cfg.Output {
	case "", "stderr":
		log.SetOutput(os.Stderr)
	case "stdout":
		log.SetOutput(os.Stdout)
	default:
		if dir := filepath.Dir(cfg.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("logger: create log dir: %w", err)
			}
		}
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return log, nil
}

// LogrusAdapter wraps a *logrus.Entry to satisfy Logger.
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter wraps entry. If entry is nil, logrus.StandardLogger() is used.
func NewLogrusAdapter(entry *logrus.Entry) Logger {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogrusAdapter{entry: entry}
}

// With returns a Logger scoped to the given component name, the
// convention every package in reel uses to tag its log lines.
func With(log *logrus.Logger, component string) Logger {
	return NewLogrusAdapter(log.WithField("component", component))
}

func (l *LogrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &LogrusAdapter{entry: l.entry.WithFields(fields)}
}

func (l *LogrusAdapter) WithField(key string, value interface{}) Logger {
	return &LogrusAdapter{entry: l.entry.WithField(key, value)}
}

func (l *LogrusAdapter) WithError(err error) Logger {
	return &LogrusAdapter{entry: l.entry.WithError(err)}
}

func (l *LogrusAdapter) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusAdapter) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusAdapter) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusAdapter) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *LogrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// NopLogger discards everything. Useful as a zero-value default in tests.
type NopLogger struct{}

func (NopLogger) WithFields(map[string]interface{}) Logger { return NopLogger{} }
func (NopLogger) WithField(string, interface{}) Logger      { return NopLogger{} }
func (NopLogger) WithError(error) Logger                    { return NopLogger{} }
func (NopLogger) Debug(...interface{})                      {}
func (NopLogger) Info(...interface{})                       {}
func (NopLogger) Warn(...interface{})                       {}
func (NopLogger) Error(...interface{})                      {}
func (NopLogger) Debugf(string, ...interface{})             {}
func (NopLogger) Infof(string, ...interface{})              {}
func (NopLogger) Warnf(string, ...interface{})              {}
func (NopLogger) Errorf(string, ...interface{})             {}
