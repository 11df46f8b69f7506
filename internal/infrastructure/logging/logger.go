package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/nerrad567/starport-core/internal/infrastructure/config"
)

// Logger wraps slog.Logger with Starport's default fields.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of the config.
//
// The "auto" format writes text when the output is a terminal and JSON
// otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output *os.File
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newLogger(output, resolveFormat(cfg.Format, isTerminal(output)), cfg.Level, version)
}

func newLogger(w io.Writer, format, level, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "starport"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// resolveFormat maps the configured format to "json" or "text".
func resolveFormat(format string, tty bool) string {
	switch strings.ToLower(format) {
	case "text":
		return "text"
	case "auto", "":
		if tty {
			return "text"
		}
	}
	return "json"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// parseLevel converts a level name to slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a Logger that adds args to every record.
//
// Example:
//
//	fifoLogger := logger.With("component", "fifo")
//	fifoLogger.Info("command sent") // includes component=fifo
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default creates the logger used before the config has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "auto",
		Output: "stderr",
	}, "dev")
}
