// Package server hosts the poll room HTTP, REST and WebSocket surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Davshiv20/PingPollz/internal/platform/logging"
	"github.com/Davshiv20/PingPollz/internal/platform/timeouts"
)

// Config defines the inputs for the poll room transport boundary.
type Config struct {
	HTTPAddr          string
	DefaultPollTime   time.Duration
	PeerQueueSize     int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

// Server hosts the poll room process. All room state lives in memory and
// ends with the process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	room            *room
	logger          *slog.Logger
}

// NewServer builds a configured poll room server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.DefaultPollTime <= 0 {
		config.DefaultPollTime = timeouts.PollTime
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	rm := newRoom(roomConfig{
		DefaultPollTime: config.DefaultPollTime,
		PeerQueueSize:   config.PeerQueueSize,
		Logger:          logger,
	})
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(rm),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		room:            rm,
		logger:          logger,
	}, nil
}

// Run creates and serves a poll room server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init pollroom server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve pollroom: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("pollroom server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	listener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpAddr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until the context ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s == nil {
		return errors.New("pollroom server is nil")
	}

	serveErr := make(chan error, 1)
	s.logger.Info("pollroom server listening", "addr", listener.Addr().String())
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		if roomErr := s.room.shutdown(shutdownCtx); roomErr != nil {
			s.logger.Warn("flush observers", "error", roomErr)
		}
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.room.shutdown(ctx); err != nil {
		s.logger.Warn("close pollroom", "error", err)
	}
}
