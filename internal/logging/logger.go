package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
	// Text switches the handler to slog's text format.
	Text bool
}

func NewLogger(opts Options) *slog.Logger {
	lg := slog.New(NewHandler(opts))
	if strings.TrimSpace(opts.Component) != "" {
		lg = lg.With("component", strings.TrimSpace(opts.Component))
	}
	return lg
}

// NewHandler builds the base handler used by NewLogger and by the Hub.
func NewHandler(opts Options) slog.Handler {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if opts.Text {
		return slog.NewTextHandler(writer, hopts)
	}
	return slog.NewJSONHandler(writer, hopts)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

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
