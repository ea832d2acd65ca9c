package coordinator

import (
	"time"

	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/chatlog"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/poll"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/roster"
)

// Reasons reported with participant_left.
const (
	LeftReasonDisconnected = "disconnected"
	LeftReasonKicked       = "kicked"
)

// ParticipantView is the wire form of a roster entry.
type ParticipantView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// PollView is the wire form of a poll.
type PollView struct {
	ID                string         `json:"id"`
	Question          string         `json:"question"`
	Options           []string       `json:"options"`
	TimeBudgetSeconds int64          `json:"time_budget_seconds"`
	CreatedAt         time.Time      `json:"created_at"`
	Status            poll.Status    `json:"status"`
	Results           map[string]int `json:"results"`
	AnsweredCount     int            `json:"answered_count"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty"`
	CloseReason       string         `json:"close_reason,omitempty"`
}

// CurrentPollView is the active poll plus its remaining time in whole seconds.
type CurrentPollView struct {
	Poll                 PollView `json:"poll"`
	TimeRemainingSeconds int64    `json:"time_remaining_seconds"`
}

// ParticipantJoinedEvent announces a new roster entry.
type ParticipantJoinedEvent struct {
	Participant       ParticipantView `json:"participant"`
	TotalParticipants int             `json:"total_participants"`
}

// ParticipantLeftEvent announces a roster removal.
type ParticipantLeftEvent struct {
	ParticipantID     string `json:"participant_id"`
	Name              string `json:"name"`
	Reason            string `json:"reason"`
	TotalParticipants int    `json:"total_participants"`
}

// ParticipantKickedEvent is delivered only to the removed participant.
type ParticipantKickedEvent struct {
	ParticipantID string `json:"participant_id"`
	Message       string `json:"message"`
}

// PollCreatedEvent announces a newly active poll.
type PollCreatedEvent struct {
	Poll PollView `json:"poll"`
}

// PollResultsUpdatedEvent carries the tally after an accepted answer.
type PollResultsUpdatedEvent struct {
	PollID            string         `json:"poll_id"`
	Results           map[string]int `json:"results"`
	AnsweredCount     int            `json:"answered_count"`
	TotalParticipants int            `json:"total_participants"`
}

// PollEndedEvent carries the final tally of a closed poll.
type PollEndedEvent struct {
	PollID        string         `json:"poll_id"`
	FinalResults  map[string]int `json:"final_results"`
	AnsweredCount int            `json:"answered_count"`
	Reason        string         `json:"reason"`
	Poll          PollView       `json:"poll"`
}

// ChatMessageEvent carries one appended chat message.
type ChatMessageEvent struct {
	Message chatlog.Message `json:"message"`
}

// NewParticipantView converts a roster entry.
func NewParticipantView(p roster.Participant) ParticipantView {
	return ParticipantView{ID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt}
}

// NewParticipantViews converts a roster listing.
func NewParticipantViews(participants []roster.Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, NewParticipantView(p))
	}
	return views
}

// NewPollView converts a poll snapshot.
func NewPollView(s poll.Snapshot) PollView {
	view := PollView{
		ID:                s.ID,
		Question:          s.Question,
		Options:           s.Options,
		TimeBudgetSeconds: wholeSeconds(s.TimeBudget),
		CreatedAt:         s.CreatedAt,
		Status:            s.Status,
		Results:           s.Tally,
		AnsweredCount:     s.AnsweredCount,
		CloseReason:       string(s.CloseReason),
	}
	if view.Results == nil {
		view.Results = map[string]int{}
	}
	if !s.ClosedAt.IsZero() {
		closedAt := s.ClosedAt
		view.ClosedAt = &closedAt
	}
	return view
}

// NewPollViews converts poll history.
func NewPollViews(history []poll.Snapshot) []PollView {
	views := make([]PollView, 0, len(history))
	for _, s := range history {
		views = append(views, NewPollView(s))
	}
	return views
}

// NewCurrentPollView converts the active poll and floors its remaining time.
func NewCurrentPollView(current poll.Current) CurrentPollView {
	return CurrentPollView{
		Poll:                 NewPollView(current.Poll),
		TimeRemainingSeconds: wholeSeconds(current.Remaining),
	}
}

func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
