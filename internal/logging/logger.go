package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the
// environment. Production uses JSON format at Info level for scripted
// and CI use; anything else uses human-readable text, kept at Warn so
// interactive commands stay quiet, or Debug when verbose is set. Logs
// go to stderr so command output on stdout stays clean.
func NewLogger(env string, verbose bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		opts.Level = slog.LevelWarn
		if verbose {
			opts.Level = slog.LevelDebug
		}

		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
