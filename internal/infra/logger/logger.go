package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"claimflow/internal/infra/config"
)

// New builds a *slog.Logger from LoggerConfig. The second return value
// closes the underlying file when logging to one and must be deferred.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := resolveWriter(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("log output %q: %w", cfg.Output, err)
	}

	level := levelFor(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations only matter when debugging.
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), closer, nil
}

func levelFor(s string) slog.Level {
	switch strings.ToLower(s) {
	case "warning":
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func resolveWriter(output string) (io.Writer, func() error, error) {
	nop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nop, nil
	case "", "stderr":
		return os.Stderr, nop, nil
	case "discard":
		return io.Discard, nop, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
