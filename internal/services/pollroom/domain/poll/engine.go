package poll

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
)

// Participants is the roster view the engine needs.
type Participants interface {
	Has(participantID string) bool
	Count() int
}

// Config wires an Engine to its collaborators.
type Config struct {
	Participants Participants
	// OnTransition receives every successful transition under the engine lock.
	OnTransition func(Transition)
	// Now defaults to time.Now.
	Now func() time.Time
	// AfterFunc defaults to time.AfterFunc.
	AfterFunc AfterFunc
}

// Engine enforces the poll state machine.
type Engine struct {
	mu           sync.Mutex
	participants Participants
	onTransition func(Transition)
	now          func() time.Time
	afterFunc    AfterFunc

	nextID    int64
	polls     map[string]*poll
	order     []string
	active    *poll
	deadlines map[string]Timer
}

// NewEngine returns an engine with no active poll.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		participants: cfg.Participants,
		onTransition: cfg.OnTransition,
		now:          cfg.Now,
		afterFunc:    cfg.AfterFunc,
		polls:        make(map[string]*poll),
		deadlines:    make(map[string]Timer),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.afterFunc == nil {
		e.afterFunc = afterFunc
	}
	return e
}

// Create opens a new poll and arms its deadline action.
func (e *Engine) Create(question string, options []string, budget time.Duration) (Snapshot, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Snapshot{}, apperrors.New(apperrors.CodePollQuestionEmpty, "question is required")
	}
	normalized, err := normalizeOptions(options)
	if err != nil {
		return Snapshot{}, err
	}
	if budget <= 0 {
		return Snapshot{}, apperrors.Newf(apperrors.CodePollTimeBudgetInvalid, "time budget must be positive, got %s", budget)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return Snapshot{}, apperrors.WithMetadata(apperrors.CodePollAlreadyActive, "a poll is already active", map[string]string{"poll_id": e.active.id})
	}

	e.nextID++
	p := &poll{
		id:        fmt.Sprintf("poll_%d", e.nextID),
		question:  question,
		options:   normalized,
		budget:    budget,
		createdAt: e.now().UTC(),
		status:    StatusActive,
		tally:     make(map[string]int),
		answered:  make(map[string]struct{}),
	}
	e.polls[p.id] = p
	e.order = append(e.order, p.id)
	e.active = p

	pollID := p.id
	e.deadlines[pollID] = e.afterFunc(budget, func() { e.expire(pollID) })

	snapshot := p.snapshot()
	e.emit(Transition{Kind: TransitionCreated, Poll: snapshot})
	return snapshot, nil
}

func normalizeOptions(options []string) ([]string, error) {
	if len(options) == 0 {
		return nil, apperrors.New(apperrors.CodePollOptionsEmpty, "at least one option is required")
	}
	normalized := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for i, option := range options {
		option = strings.TrimSpace(option)
		if option == "" {
			return nil, apperrors.WithMetadata(apperrors.CodePollOptionBlank, "options must not be blank", map[string]string{"index": fmt.Sprint(i)})
		}
		if _, dup := seen[option]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodePollOptionDuplicate, "options must be unique", map[string]string{"option": option})
		}
		seen[option] = struct{}{}
		normalized = append(normalized, option)
	}
	return normalized, nil
}

// SubmitAnswer records one answer from participantID on the active poll.
func (e *Engine) SubmitAnswer(pollID string, participantID string, option string) (Results, error) {
	pollID = strings.TrimSpace(pollID)
	participantID = strings.TrimSpace(participantID)
	option = strings.TrimSpace(option)
	if participantID == "" {
		return Results{}, apperrors.New(apperrors.CodePollParticipantMissing, "participant id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.polls[pollID]
	if !ok {
		return Results{}, apperrors.WithMetadata(apperrors.CodePollNotFound, "poll not found", map[string]string{"poll_id": pollID})
	}
	if p != e.active || p.status != StatusActive {
		return Results{}, apperrors.WithMetadata(apperrors.CodePollNotActive, "poll is not accepting answers", map[string]string{"poll_id": pollID})
	}
	if e.participants == nil || !e.participants.Has(participantID) {
		return Results{}, apperrors.WithMetadata(apperrors.CodeParticipantNotFound, "participant not found", map[string]string{"participant_id": participantID})
	}
	if !p.hasOption(option) {
		return Results{}, apperrors.WithMetadata(apperrors.CodePollOptionUnknown, "option is not part of the poll", map[string]string{"option": option})
	}
	if _, done := p.answered[participantID]; done {
		return Results{}, apperrors.WithMetadata(apperrors.CodeAlreadyAnswered, "participant already answered", map[string]string{"participant_id": participantID})
	}

	p.tally[option]++
	p.answered[participantID] = struct{}{}

	snapshot := p.snapshot()
	results := Results{
		PollID:            p.id,
		Tally:             snapshot.Tally,
		AnsweredCount:     snapshot.AnsweredCount,
		TotalParticipants: e.participants.Count(),
	}
	e.emit(Transition{Kind: TransitionAnswered, Poll: snapshot, Results: results})
	return results, nil
}

// Close ends pollID, which must be the active poll.
func (e *Engine) Close(pollID string) (Snapshot, error) {
	pollID = strings.TrimSpace(pollID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return Snapshot{}, apperrors.New(apperrors.CodeNoActivePoll, "no active poll")
	}
	if e.active.id != pollID {
		return Snapshot{}, apperrors.WithMetadata(apperrors.CodePollNotActive, "poll is not the active poll", map[string]string{
			"poll_id":        pollID,
			"active_poll_id": e.active.id,
		})
	}
	return e.closeLocked(e.active, CloseReasonEnded), nil
}

// CloseActive ends whichever poll is active.
func (e *Engine) CloseActive() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return Snapshot{}, apperrors.New(apperrors.CodeNoActivePoll, "no active poll")
	}
	return e.closeLocked(e.active, CloseReasonEnded), nil
}

// expire is the deadline action. It is a no-op unless pollID is still active.
func (e *Engine) expire(pollID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.deadlines, pollID)
	if e.active == nil || e.active.id != pollID {
		return false
	}
	e.closeLocked(e.active, CloseReasonExpired)
	return true
}

// closeLocked cancels the deadline and closes p in one step.
func (e *Engine) closeLocked(p *poll, reason CloseReason) Snapshot {
	if timer, ok := e.deadlines[p.id]; ok {
		timer.Stop()
		delete(e.deadlines, p.id)
	}
	p.status = StatusClosed
	p.closedAt = e.now().UTC()
	p.closeReason = reason
	e.active = nil

	snapshot := p.snapshot()
	e.emit(Transition{Kind: TransitionClosed, Poll: snapshot})
	return snapshot
}

func (e *Engine) emit(t Transition) {
	if e.onTransition != nil {
		e.onTransition(t)
	}
}

// Active returns the active poll and its remaining time budget.
func (e *Engine) Active() (Current, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return Current{}, false
	}
	snapshot := e.active.snapshot()
	return Current{Poll: snapshot, Remaining: snapshot.Remaining(e.now())}, true
}

// WithActive calls fn with the active poll while holding the engine lock, so
// nothing fn publishes can interleave with a transition. fn must not block or
// call back into the engine.
func (e *Engine) WithActive(fn func(current Current, ok bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		fn(Current{}, false)
		return
	}
	snapshot := e.active.snapshot()
	fn(Current{Poll: snapshot, Remaining: snapshot.Remaining(e.now())}, true)
}

// Get returns any poll, active or closed, by id.
func (e *Engine) Get(pollID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.polls[strings.TrimSpace(pollID)]
	if !ok {
		return Snapshot{}, apperrors.WithMetadata(apperrors.CodePollNotFound, "poll not found", map[string]string{"poll_id": pollID})
	}
	return p.snapshot(), nil
}

// History returns every poll in creation order.
func (e *Engine) History() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]Snapshot, 0, len(e.order))
	for _, pollID := range e.order {
		history = append(history, e.polls[pollID].snapshot())
	}
	return history
}

// Stop cancels any armed deadline action without closing its poll. It is
// used on shutdown so no transition fires after observers are gone.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for pollID, timer := range e.deadlines {
		timer.Stop()
		delete(e.deadlines, pollID)
	}
}
