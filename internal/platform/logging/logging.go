// Package logging builds the structured process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"
)

const sentryFlushTimeout = 2 * time.Second

// Options configures the process logger.
type Options struct {
	Level       string
	SentryDSN   string
	Environment string
	Output      io.Writer
}

// New returns a tint console logger. When a Sentry DSN is configured the
// handler also reports error records to Sentry; the returned flush function
// must be called before exit.
func New(opts Options) (*slog.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler = tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
	flush := func() {}

	if dsn := strings.TrimSpace(opts.SentryDSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: opts.Environment,
		}); err != nil {
			return nil, nil, fmt.Errorf("init sentry: %w", err)
		}
		handler = NewSentryHandler(handler)
		flush = func() { sentry.Flush(sentryFlushTimeout) }
	}

	return slog.New(handler), flush, nil
}

// ParseLevel accepts debug, info, warn or error; empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
