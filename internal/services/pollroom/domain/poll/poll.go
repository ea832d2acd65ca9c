package poll

import (
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a poll.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// CloseReason records which transition closed a poll.
type CloseReason string

const (
	CloseReasonExpired CloseReason = "expired"
	CloseReasonEnded   CloseReason = "ended"
)

type poll struct {
	id          string
	question    string
	options     []string
	budget      time.Duration
	createdAt   time.Time
	status      Status
	tally       map[string]int
	answered    map[string]struct{}
	closedAt    time.Time
	closeReason CloseReason
}

func (p *poll) hasOption(option string) bool {
	return slices.Contains(p.options, option)
}

func (p *poll) snapshot() Snapshot {
	return Snapshot{
		ID:            p.id,
		Question:      p.question,
		Options:       slices.Clone(p.options),
		TimeBudget:    p.budget,
		CreatedAt:     p.createdAt,
		Status:        p.status,
		Tally:         maps.Clone(p.tally),
		AnsweredCount: len(p.answered),
		ClosedAt:      p.closedAt,
		CloseReason:   p.closeReason,
	}
}

// Snapshot is an immutable copy of a poll's state.
type Snapshot struct {
	ID            string
	Question      string
	Options       []string
	TimeBudget    time.Duration
	CreatedAt     time.Time
	Status        Status
	Tally         map[string]int
	AnsweredCount int
	ClosedAt      time.Time
	CloseReason   CloseReason
}

// Active reports whether the snapshot was taken while the poll accepted answers.
func (s Snapshot) Active() bool {
	return s.Status == StatusActive
}

// Remaining is the time budget left at now, floored at zero.
func (s Snapshot) Remaining(now time.Time) time.Duration {
	remaining := s.TimeBudget - now.Sub(s.CreatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Results is the aggregate state after an accepted answer.
type Results struct {
	PollID            string
	Tally             map[string]int
	AnsweredCount     int
	TotalParticipants int
}

// Current pairs the active poll with its remaining time budget.
type Current struct {
	Poll      Snapshot
	Remaining time.Duration
}

// TransitionKind names a successful state change.
type TransitionKind string

const (
	TransitionCreated  TransitionKind = "created"
	TransitionAnswered TransitionKind = "answered"
	TransitionClosed   TransitionKind = "closed"
)

// Transition describes one successful state change. Results is set only for
// TransitionAnswered.
type Transition struct {
	Kind    TransitionKind
	Poll    Snapshot
	Results Results
}
