// Package logging configures the process-wide structured logger. Human-facing
// progress goes through the executor's event sink; slog carries the
// machine-facing detail.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// Setup builds the process logger and installs it as slog's default. Format
// is "text" or "json"; level accepts debug, info, warn and error.
func Setup(level, format string) (*slog.Logger, error) {
	return setup(level, format, os.Stderr)
}

func setup(level, format string, out io.Writer) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: parsed}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, workflow.Configf("unknown log format %q, expected text or json", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel maps a configuration string onto a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, workflow.Configf("unknown log level %q, expected debug, info, warn or error", level)
}
