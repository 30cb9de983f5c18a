// Package logger provides the process-wide levelled logger.
//
// The API is printf-style (Debug/Info/Warn/Error) and backed by a zap
// SugaredLogger so that output can be switched between console text and JSON.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config selects level, encoding and destination.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string

	// Format is "text" (console encoder) or "json"
	Format string

	// Output is "stdout", "stderr" or a file path (opened for append)
	Output string
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  = newSugar("text", zapcore.Lock(os.Stdout))
	output *os.File
)

func newSugar(format string, sink zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	return zap.New(zapcore.NewCore(enc, sink, level)).Sugar()
}

// Configure replaces the global logger according to cfg.
//
// A previously opened log file is closed once the new sink is in place.
func Configure(cfg Config) error {
	var (
		sink zapcore.WriteSyncer
		file *os.File
	)

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		file = f
		sink = zapcore.Lock(f)
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}

	mu.Lock()
	old := output
	_ = sugar.Sync()
	sugar = newSugar(strings.ToLower(cfg.Format), sink)
	output = file
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		level.SetLevel(LevelDebug.zapLevel())
	case "INFO":
		level.SetLevel(LevelInfo.zapLevel())
	case "WARN":
		level.SetLevel(LevelWarn.zapLevel())
	case "ERROR":
		level.SetLevel(LevelError.zapLevel())
	}
}

// Enabled reports whether messages at l would be written.
func Enabled(l Level) bool {
	return level.Enabled(l.zapLevel())
}

// With returns a child logger carrying the given key/value pairs.
func With(keysAndValues ...any) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.With(keysAndValues...)
}

// Sync flushes buffered output.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(format string, v ...any) {
	current().Debugf(format, v...)
}

func Info(format string, v ...any) {
	current().Infof(format, v...)
}

func Warn(format string, v ...any) {
	current().Warnf(format, v...)
}

func Error(format string, v ...any) {
	current().Errorf(format, v...)
}
