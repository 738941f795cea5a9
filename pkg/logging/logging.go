// Package logging defines the structured-logging capability the gateway
// core accepts from its host process. The core never reaches for a global
// logger; every component is handed a Logger at construction time.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger is the structured-logging capability every core component
// depends on. Subsystem identifies the calling component (e.g.
// "BackendService", "ServiceManager") the way muster's own logging
// package keys log lines by subsystem.
type Logger interface {
	Debug(subsystem, format string, args ...any)
	Info(subsystem, format string, args ...any)
	Warn(subsystem, format string, args ...any)
	Error(subsystem string, err error, format string, args ...any)
}

// NopLogger discards everything. Useful for tests that don't care about
// log output.
type NopLogger struct{}

func (NopLogger) Debug(string, string, ...any)        {}
func (NopLogger) Info(string, string, ...any)         {}
func (NopLogger) Warn(string, string, ...any)         {}
func (NopLogger) Error(string, error, string, ...any) {}

// SlogLogger adapts log/slog to the Logger capability.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a Logger backed by a slog.Logger writing
// structured text to w (os.Stderr by default).
func NewSlogLogger(level slog.Level, w *os.File) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

func (s *SlogLogger) Debug(subsystem, format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...), slog.String("subsystem", subsystem))
}

func (s *SlogLogger) Info(subsystem, format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...), slog.String("subsystem", subsystem))
}

func (s *SlogLogger) Warn(subsystem, format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...), slog.String("subsystem", subsystem))
}

func (s *SlogLogger) Error(subsystem string, err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		s.logger.Error(msg, slog.String("subsystem", subsystem), slog.String("error", err.Error()))
		return
	}
	s.logger.Error(msg, slog.String("subsystem", subsystem))
}
