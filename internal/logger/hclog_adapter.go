package logger

import (
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// HCLogAdapter adapts Logger to implement hashicorp/go-hclog.Logger interface.
// This is used to route go-plugin client logs into the host logging system.
type HCLogAdapter struct {
	logger *Logger
	name   string
	args   []interface{}
}

// NewHCLogAdapter creates a new HCLog adapter wrapping the default host logger.
func NewHCLogAdapter() hclog.Logger {
	return NewHCLogAdapterFor(Default())
}

// NewHCLogAdapterFor creates an HCLog adapter wrapping l.
func NewHCLogAdapterFor(l *Logger) hclog.Logger {
	return &HCLogAdapter{
		logger: l,
		name:   "plugin",
	}
}

func (h *HCLogAdapter) attrs(args []interface{}) []any {
	out := make([]any, 0, len(h.args)+len(args)+2)
	out = append(out, slog.String("logger", h.name))
	out = append(out, h.args...)
	return append(out, args...)
}

// Log implementation
func (h *HCLogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.Debug(msg, args...)
	case hclog.Info:
		h.Info(msg, args...)
	case hclog.Warn:
		h.Warn(msg, args...)
	case hclog.Error:
		h.Error(msg, args...)
	}
}

// Trace logs at debug level; slog has no trace level.
func (h *HCLogAdapter) Trace(msg string, args ...interface{}) {
	h.logger.Debug(msg, h.attrs(args)...)
}

func (h *HCLogAdapter) Debug(msg string, args ...interface{}) {
	h.logger.Debug(msg, h.attrs(args)...)
}

func (h *HCLogAdapter) Info(msg string, args ...interface{}) {
	h.logger.Info(msg, h.attrs(args)...)
}

func (h *HCLogAdapter) Warn(msg string, args ...interface{}) {
	h.logger.Warn(msg, h.attrs(args)...)
}

func (h *HCLogAdapter) Error(msg string, args ...interface{}) {
	h.logger.Error(msg, h.attrs(args)...)
}

func (h *HCLogAdapter) IsTrace() bool {
	return false
}

func (h *HCLogAdapter) IsDebug() bool {
	return h.logger.Enabled(slog.LevelDebug)
}

func (h *HCLogAdapter) IsInfo() bool {
	return h.logger.Enabled(slog.LevelInfo)
}

func (h *HCLogAdapter) IsWarn() bool {
	return h.logger.Enabled(slog.LevelWarn)
}

func (h *HCLogAdapter) IsError() bool {
	return h.logger.Enabled(slog.LevelError)
}

func (h *HCLogAdapter) ImpliedArgs() []interface{} {
	return h.args
}

// With creates a new logger with additional context
func (h *HCLogAdapter) With(args ...interface{}) hclog.Logger {
	merged := make([]interface{}, 0, len(h.args)+len(args))
	merged = append(merged, h.args...)
	return &HCLogAdapter{
		logger: h.logger,
		name:   h.name,
		args:   append(merged, args...),
	}
}

func (h *HCLogAdapter) Name() string {
	return h.name
}

func (h *HCLogAdapter) Named(name string) hclog.Logger {
	return &HCLogAdapter{
		logger: h.logger,
		name:   h.name + "." + name,
		args:   h.args,
	}
}

func (h *HCLogAdapter) ResetNamed(name string) hclog.Logger {
	return &HCLogAdapter{
		logger: h.logger,
		name:   name,
		args:   h.args,
	}
}

// SetLevel is a no-op; the level is owned by SetLogLevel.
func (h *HCLogAdapter) SetLevel(level hclog.Level) {}

func (h *HCLogAdapter) GetLevel() hclog.Level {
	switch {
	case h.IsDebug():
		return hclog.Debug
	case h.IsInfo():
		return hclog.Info
	case h.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (h *HCLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return slog.NewLogLogger(h.logger.Slog().Handler(), slog.LevelInfo)
}

func (h *HCLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return h.StandardLogger(opts).Writer()
}
