package broadcast

import "encoding/json"

// Frame is one JSON message written to an observer connection.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Conn is the write side of an observer connection. The gateway calls
// WriteFrame from a single goroutine per connection. Close may be called
// more than once and concurrently with a blocked WriteFrame.
type Conn interface {
	WriteFrame(Frame) error
	Close() error
}

// Event types fanned out or delivered to observers.
const (
	EventParticipantJoined  = "participant_joined"
	EventParticipantLeft    = "participant_left"
	EventParticipantKicked  = "participant_kicked"
	EventPollCreated        = "poll_created"
	EventPollResultsUpdated = "poll_results_updated"
	EventPollEnded          = "poll_ended"
	EventChatMessage        = "chat_message"
	EventCurrentPoll        = "current_poll"
)

// Reply types answering a request frame.
const (
	ReplyAck   = "ack"
	ReplyError = "error"
)
