package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config log level to slog. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger installs a JSON logger on stdout as the slog default. Every
// record carries the service name.
func InitLogger(service, level string) *slog.Logger {
	logger := NewLogger(os.Stdout, service, level)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds the JSON logger InitLogger installs, writing to w.
func NewLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	})
	return slog.New(handler).With("service", service)
}
