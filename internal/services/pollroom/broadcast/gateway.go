// Package broadcast delivers poll room events to connected observers.
//
// The gateway is the only writer to an observer connection. Frames are
// queued per connection and written by one goroutine per connection, so
// publishing never blocks on a slow client and is safe under domain locks.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Davshiv20/PingPollz/internal/platform/logging"
)

// DefaultQueueSize bounds each connection's pending frames.
const DefaultQueueSize = 64

var (
	// ErrClosed is returned when attaching to a gateway that was shut down.
	ErrClosed = errors.New("broadcast gateway closed")
	// ErrDuplicateConnection is returned when a connection id is attached twice.
	ErrDuplicateConnection = errors.New("connection already attached")
)

// Config configures a Gateway.
type Config struct {
	QueueSize int
	Logger    *slog.Logger
}

// Gateway fans out events to attached connections.
type Gateway struct {
	mu        sync.Mutex
	peers     map[string]*peer
	sequence  uint64
	closed    bool
	queueSize int
	logger    *slog.Logger
	writers   sync.WaitGroup
}

type peer struct {
	id    string
	conn  Conn
	queue chan Frame
	// abort stops the writer without draining the queue.
	abort     chan struct{}
	abortOnce sync.Once
}

func (p *peer) stop() {
	p.abortOnce.Do(func() { close(p.abort) })
}

// New returns an empty gateway.
func New(cfg Config) *Gateway {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{
		peers:     make(map[string]*peer),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Attach registers conn under connectionID and starts its writer.
func (g *Gateway) Attach(connectionID string, conn Conn) error {
	if conn == nil {
		return fmt.Errorf("attach %q: nil connection", connectionID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if _, exists := g.peers[connectionID]; exists {
		return fmt.Errorf("attach %q: %w", connectionID, ErrDuplicateConnection)
	}
	p := &peer{
		id:    connectionID,
		conn:  conn,
		queue: make(chan Frame, g.queueSize),
		abort: make(chan struct{}),
	}
	g.peers[connectionID] = p
	g.writers.Add(1)
	go g.writeLoop(p)
	return nil
}

// Detach removes a connection after its queued frames are written. It is a
// no-op for unknown ids.
func (g *Gateway) Detach(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.peers[connectionID]; ok {
		delete(g.peers, connectionID)
		close(p.queue)
	}
}

// Attached reports whether connectionID is still registered.
func (g *Gateway) Attached(connectionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.peers[connectionID]
	return ok
}

// Len returns the number of attached connections.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}

// Publish fans out one event to every attached connection except the
// excluded ids and returns the event sequence number.
func (g *Gateway) Publish(eventType string, payload any, exclude ...string) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sequence++
	frame := Frame{Type: eventType, Sequence: g.sequence, Payload: raw}
	for connectionID, p := range g.peers {
		if excluded(connectionID, exclude) {
			continue
		}
		g.enqueueLocked(p, frame)
	}
	return frame.Sequence, nil
}

// Send delivers one sequenced event to a single connection. It reports
// false when the connection is gone or was dropped.
func (g *Gateway) Send(connectionID string, eventType string, payload any) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.peers[connectionID]
	if !ok {
		return false, nil
	}
	g.sequence++
	return g.enqueueLocked(p, Frame{Type: eventType, Sequence: g.sequence, Payload: raw}), nil
}

// SendAndClose delivers a final event and severs the connection once the
// frame has been written.
func (g *Gateway) SendAndClose(connectionID string, eventType string, payload any) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.peers[connectionID]
	if !ok {
		return false, nil
	}
	g.sequence++
	if !g.enqueueLocked(p, Frame{Type: eventType, Sequence: g.sequence, Payload: raw}) {
		return false, nil
	}
	delete(g.peers, connectionID)
	close(p.queue)
	return true, nil
}

// Reply queues an unsequenced response to a request frame.
func (g *Gateway) Reply(connectionID string, requestID string, replyType string, payload any) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s reply: %w", replyType, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.peers[connectionID]
	if !ok {
		return false, nil
	}
	return g.enqueueLocked(p, Frame{Type: replyType, RequestID: requestID, Payload: raw}), nil
}

// Shutdown stops accepting connections, closes every queue and waits for
// the writers to flush or for ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for connectionID, p := range g.peers {
		delete(g.peers, connectionID)
		close(p.queue)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueLocked never blocks. A full queue drops the connection.
func (g *Gateway) enqueueLocked(p *peer, frame Frame) bool {
	select {
	case p.queue <- frame:
		return true
	default:
	}
	g.logger.Warn("dropping slow observer", "connection_id", p.id, "frame_type", frame.Type, "queue_size", g.queueSize)
	delete(g.peers, p.id)
	close(p.queue)
	p.stop()
	// Unblock a writer stuck on the slow connection.
	go func() {
		_ = p.conn.Close()
	}()
	return false
}

func (g *Gateway) writeLoop(p *peer) {
	defer g.writers.Done()
	defer func() {
		_ = p.conn.Close()
	}()

	for {
		select {
		case <-p.abort:
			return
		case frame, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.conn.WriteFrame(frame); err != nil {
				g.logger.Warn("dropping observer after write failure", "connection_id", p.id, "frame_type", frame.Type, "error", err)
				g.remove(p)
				return
			}
		}
	}
}

// remove unregisters p if it is still the peer attached under its id.
func (g *Gateway) remove(p *peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, ok := g.peers[p.id]; ok && current == p {
		delete(g.peers, p.id)
		close(p.queue)
	}
	p.stop()
}

func excluded(connectionID string, exclude []string) bool {
	for _, id := range exclude {
		if id == connectionID {
			return true
		}
	}
	return false
}
