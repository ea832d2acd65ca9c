package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Davshiv20/PingPollz/internal/platform/logging"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/broadcast"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/coordinator"
)

// room owns the process-wide poll room: one gateway and one coordinator.
type room struct {
	gateway     *broadcast.Gateway
	coordinator *coordinator.Coordinator
	logger      *slog.Logger
	stopOnce    sync.Once
}

type roomConfig struct {
	DefaultPollTime time.Duration
	PeerQueueSize   int
	Logger          *slog.Logger
}

func newRoom(cfg roomConfig) *room {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	gateway := broadcast.New(broadcast.Config{
		QueueSize: cfg.PeerQueueSize,
		Logger:    logger.With("component", "broadcast"),
	})
	return &room{
		gateway: gateway,
		coordinator: coordinator.New(coordinator.Config{
			Gateway:         gateway,
			DefaultPollTime: cfg.DefaultPollTime,
			Logger:          logger.With("component", "coordinator"),
		}),
		logger: logger,
	}
}

// shutdown cancels pending deadlines and flushes every observer.
func (r *room) shutdown(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		r.coordinator.Stop()
		err = r.gateway.Shutdown(ctx)
	})
	return err
}
