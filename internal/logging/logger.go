// Package logging provides the printf-style logging facade used across foreman.
//
// Components depend on the small Logger interface rather than a concrete
// implementation, so tests can pass Nop() and the server can swap handlers
// without touching call sites.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Config controls the process-wide default handler.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

var (
	defaultMu      sync.RWMutex
	defaultHandler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
)

// Configure replaces the process-wide handler used by component loggers.
func Configure(config Config) {
	level := slog.LevelInfo
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	defaultMu.Lock()
	defaultHandler = handler
	defaultMu.Unlock()
}

type slogLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &slogLogger{component: component}
}

func (l *slogLogger) logger() *slog.Logger {
	defaultMu.RLock()
	handler := defaultHandler
	defaultMu.RUnlock()
	logger := slog.New(handler)
	if l.component != "" {
		logger = logger.With("component", l.component)
	}
	return logger
}

func (l *slogLogger) Debug(format string, args ...any) {
	l.logger().Debug(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(format string, args ...any) {
	l.logger().Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(format string, args ...any) {
	l.logger().Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Error(format string, args ...any) {
	l.logger().Error(fmt.Sprintf(format, args...))
}
