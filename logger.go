package voxgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/voxgo/voxgo/grid"
)

// Logger wraps slog.Logger with voxgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithChannel adds a channel field to the logger.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{
		Logger: l.Logger.With("channel", channel),
	}
}

// WithResolution adds a resolution field to the logger.
func (l *Logger) WithResolution(resolution uint8) *Logger {
	return &Logger{
		Logger: l.Logger.With("resolution", resolution),
	}
}

// WithKey adds a cube-key field to the logger.
func (l *Logger) WithKey(key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogGetData logs a subvolume read.
func (l *Logger) LogGetData(ctx context.Context, channel string, resolution uint8, r grid.Range, cells int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "get data failed",
			"channel", channel,
			"resolution", resolution,
			"volume", r.Volume(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "get data completed",
			"channel", channel,
			"resolution", resolution,
			"volume", r.Volume(),
			"cuboids", cells,
		)
	}
}

// LogPutData logs a subvolume write.
func (l *Logger) LogPutData(ctx context.Context, channel string, resolution uint8, r grid.Range, cells int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put data failed",
			"channel", channel,
			"resolution", resolution,
			"volume", r.Volume(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put data completed",
			"channel", channel,
			"resolution", resolution,
			"volume", r.Volume(),
			"cuboids", cells,
		)
	}
}
