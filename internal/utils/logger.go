package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/miradorstack/mirador-cognition/internal/config"
)

// NewLogger returns a slog.Logger configured for the desired verbosity and
// format. When cfg.File is set, output is also written to a size-rotated file.
// The returned close function releases the file sink.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, func() error) {
	handlerLevel := ParseLevel(cfg.Level)

	var (
		out     io.Writer = os.Stdout
		closeFn           = func() error { return nil }
	)
	if strings.TrimSpace(cfg.File) != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = rotator.Close
	}

	opts := &slog.HandlerOptions{Level: handlerLevel}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn
}

// ParseLevel maps a level name onto a slog.Level, defaulting to info.
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
