package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"

	"github.com/epiphany-db/monitor/internal/config"
)

// New builds a structured logger from cfg. Output always goes to stdout and,
// when cfg.File is set, also to a size-rotated file. The returned closer
// releases the file sink and is safe to call when no file is configured.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		closer = rotated
	}

	return slog.New(newHandler(out, cfg.Level, cfg.Format)), closer
}

// Init builds a logger with New and installs it as the slog default.
func Init(cfg config.LogConfig) io.Closer {
	logger, closer := New(cfg)
	slog.SetDefault(logger)
	return closer
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels,
// defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithObserver returns a logger annotated with an observer's identity.
func WithObserver(logger *slog.Logger, observerID, remoteAddr string) *slog.Logger {
	return logger.With("observer_id", observerID, "remote_addr", remoteAddr)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
