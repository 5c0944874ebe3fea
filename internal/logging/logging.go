// Package logging builds the agent's zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDir is where disk logs are written.
const DefaultDir = "/var/log/sinkguard"

// Options configures New.
type Options struct {
	Level    string
	Debug    bool
	DiskLogs bool
	Dir      string
	PID      int
	// Output receives console logs. Defaults to stderr.
	Output io.Writer
}

// Logger bundles the zap logger with its adjustable level and any cleanup.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
	Path  string
	close func() error
}

// ParseLevel maps the configured level names. Unknown names give WARN.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// New builds a Logger. Debug forces the debug level.
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), level),
	}

	l := &Logger{Level: level, close: func() error { return nil }}
	if opts.DiskLogs {
		dir := opts.Dir
		if dir == "" {
			dir = DefaultDir
		}
		pid := opts.PID
		if pid == 0 {
			pid = os.Getpid()
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("logging: create %s: %w", dir, err)
		}
		l.Path = filepath.Join(dir, fmt.Sprintf("sinkguard-%d.log", pid))
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", l.Path, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
		l.close = f.Close
	}

	l.Logger = zap.New(zapcore.NewTee(cores...))
	return l, nil
}

// SetLevel adjusts the level at runtime.
func (l *Logger) SetLevel(name string) {
	l.Level.SetLevel(ParseLevel(name))
}

// Close flushes and closes any disk log.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	return l.close()
}

// Module returns a child logger tagged with a module name.
func Module(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.With(zap.String("mod", name))
}
