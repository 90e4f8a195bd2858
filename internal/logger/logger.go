package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	hostLogger atomic.Pointer[Logger]
	level      = new(slog.LevelVar)
)

func init() {
	hostLogger.Store(Setup("text", slog.LevelInfo, os.Stderr))
}

// Logger is the process-wide structured logger.
type Logger struct {
	slogger *slog.Logger
}

// New wraps an existing slog handler.
func New(h slog.Handler) *Logger {
	return &Logger{slogger: slog.New(h)}
}

// Setup creates a logger writing JSON or text records to w.
// format: "json" or "text" (defaults to "text").
// The level is shared by every logger created through Setup.
func Setup(format string, lvl slog.Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return New(h)
}

func Default() *Logger {
	return hostLogger.Load()
}

func SetDefault(l *Logger) {
	hostLogger.Store(l)
}

func SetLogLevel(lvl slog.Level) {
	level.Set(lvl)
}

// slog wrapper

func Debug(msg string, args ...any) {
	hostLogger.Load().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	hostLogger.Load().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	hostLogger.Load().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	hostLogger.Load().Error(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// Enabled reports whether records at lvl are emitted.
func (l *Logger) Enabled(lvl slog.Level) bool {
	return l.slogger.Enabled(context.Background(), lvl)
}

// Slog exposes the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}
