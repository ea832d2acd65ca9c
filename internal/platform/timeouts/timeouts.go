// Package timeouts defines shared timeout constants used across the server.
// Centralizing these values keeps transport and domain defaults discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// WriteFrame caps a single WebSocket frame write to one observer.
const WriteFrame = 5 * time.Second

// PollTime is the time budget applied when a poll is created without one.
const PollTime = 60 * time.Second
