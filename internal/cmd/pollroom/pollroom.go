// Package pollroom parses poll room command flags and composes the server
// entrypoint.
package pollroom

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	entrypoint "github.com/Davshiv20/PingPollz/internal/platform/cmd"
	"github.com/Davshiv20/PingPollz/internal/platform/logging"
	server "github.com/Davshiv20/PingPollz/internal/services/pollroom/app"
)

// Config holds poll room command configuration.
type Config struct {
	HTTPAddr        string        `env:"PINGPOLLZ_HTTP_ADDR"         envDefault:":5000"`
	DefaultPollTime time.Duration `env:"PINGPOLLZ_DEFAULT_POLL_TIME" envDefault:"60s"`
	PeerQueueSize   int           `env:"PINGPOLLZ_PEER_QUEUE_SIZE"   envDefault:"64"`
	LogLevel        string        `env:"PINGPOLLZ_LOG_LEVEL"         envDefault:"info"`
	SentryDSN       string        `env:"PINGPOLLZ_SENTRY_DSN"`
	Environment     string        `env:"PINGPOLLZ_ENV"               envDefault:"development"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "poll room HTTP listen address")
	fs.DurationVar(&cfg.DefaultPollTime, "poll-time", cfg.DefaultPollTime, "time budget for polls created without one")
	fs.IntVar(&cfg.PeerQueueSize, "peer-queue-size", cfg.PeerQueueSize, "pending frames per observer before it is dropped")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.DefaultPollTime <= 0 {
		return Config{}, fmt.Errorf("poll time must be positive, got %s", cfg.DefaultPollTime)
	}
	if cfg.PeerQueueSize <= 0 {
		return Config{}, fmt.Errorf("peer queue size must be positive, got %d", cfg.PeerQueueSize)
	}
	return cfg, nil
}

// Run builds the poll room and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return run(ctx, cfg, nil)
}

// run logs to logOutput, or stderr when nil.
func run(ctx context.Context, cfg Config, logOutput io.Writer) error {
	logger, flush, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		SentryDSN:   cfg.SentryDSN,
		Environment: cfg.Environment,
		Output:      logOutput,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer flush()
	logger = logger.With("service", entrypoint.ServicePollroom)
	slog.SetDefault(logger)

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServicePollroom, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			DefaultPollTime: cfg.DefaultPollTime,
			PeerQueueSize:   cfg.PeerQueueSize,
			Logger:          logger,
		}); err != nil {
			return fmt.Errorf("serve pollroom: %w", err)
		}
		return nil
	})
}
