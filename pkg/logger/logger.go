// Package logger defines the structured logging interface used across livesync.
//
// Every component takes a [Logger] rather than a concrete backend, so the
// application root decides whether records go to log/slog or zerolog.
// Arguments follow the slog convention of alternating keys and values.
package logger

import (
	"log/slog"
)

// Logger is the minimal leveled logger used by livesync components.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// SlogHandler adapts a slog.Handler to Logger.
type SlogHandler struct {
	logger *slog.Logger
}

var _ Logger = (*SlogHandler)(nil)

func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
}

// Discard returns a Logger that drops every record.
func Discard() *SlogHandler {
	return New(slog.DiscardHandler)
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}

// With returns a child logger that always carries the given key/value pairs.
func (handler *SlogHandler) With(args ...any) *SlogHandler {
	return &SlogHandler{logger: handler.logger.With(args...)}
}
