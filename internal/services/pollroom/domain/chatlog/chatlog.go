// Package chatlog keeps the room's append-only chat history.
package chatlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
)

// Role identifies who sent a chat message.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// ParseRole validates a wire role. An empty role is treated as participant.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleModerator:
		return RoleModerator, nil
	case RoleParticipant, "":
		return RoleParticipant, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeChatRoleInvalid, "unknown sender role", map[string]string{"role": raw})
	}
}

// Message is an immutable chat entry.
type Message struct {
	ID         string    `json:"id"`
	SequenceID int64     `json:"sequence_id"`
	Sender     string    `json:"sender"`
	Role       Role      `json:"sender_role"`
	Body       string    `json:"message"`
	SentAt     time.Time `json:"timestamp"`
}

// Log is the lock-guarded ordered chat history.
type Log struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
}

// New returns an empty log. A nil clock uses time.Now.
func New(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Append validates and records a message; its position is final.
func (l *Log) Append(sender string, role Role, body string) (Message, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Message{}, apperrors.New(apperrors.CodeChatSenderEmpty, "sender is required")
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, apperrors.New(apperrors.CodeChatBodyEmpty, "message body is required")
	}
	if role != RoleModerator && role != RoleParticipant {
		return Message{}, apperrors.WithMetadata(apperrors.CodeChatRoleInvalid, "unknown sender role", map[string]string{"role": string(role)})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sequence := int64(len(l.messages)) + 1
	msg := Message{
		ID:         fmt.Sprintf("chat_%d", sequence),
		SequenceID: sequence,
		Sender:     sender,
		Role:       role,
		Body:       body,
		SentAt:     l.now().UTC(),
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

// All returns a copy of the history in append order.
func (l *Log) All() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of appended messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
