// Package coordinator is the single entry point for poll room actions.
//
// Every inbound action is validated and dispatched to the owning entity
// (roster, chat log or poll engine), and each successful action emits its
// events through the broadcast gateway. Roster and chat mutations are
// published under a per-stream lock so observers see them in mutation order.
// Poll transitions are published from the engine's transition sink, which
// runs under the engine lock.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
	"github.com/Davshiv20/PingPollz/internal/platform/logging"
	"github.com/Davshiv20/PingPollz/internal/platform/timeouts"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/broadcast"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/chatlog"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/poll"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/roster"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Davshiv20/PingPollz/internal/services/pollroom/coordinator"

// Gateway is the delivery surface the coordinator publishes through.
type Gateway interface {
	Publish(eventType string, payload any, exclude ...string) (uint64, error)
	Send(connectionID string, eventType string, payload any) (bool, error)
	SendAndClose(connectionID string, eventType string, payload any) (bool, error)
	Detach(connectionID string)
}

// Config wires a Coordinator.
type Config struct {
	Gateway Gateway
	Roster  *roster.Roster
	Chat    *chatlog.Log
	// DefaultPollTime applies when create_poll omits a time budget.
	DefaultPollTime time.Duration
	Now             func() time.Time
	AfterFunc       poll.AfterFunc
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// Coordinator serializes poll room actions and their fan-out.
type Coordinator struct {
	gateway         Gateway
	roster          *roster.Roster
	chat            *chatlog.Log
	engine          *poll.Engine
	defaultPollTime time.Duration
	logger          *slog.Logger
	tracer          trace.Tracer

	rosterMu sync.Mutex
	chatMu   sync.Mutex
}

// New builds a coordinator and its poll engine.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		gateway:         cfg.Gateway,
		roster:          cfg.Roster,
		chat:            cfg.Chat,
		defaultPollTime: cfg.DefaultPollTime,
		logger:          cfg.Logger,
		tracer:          cfg.Tracer,
	}
	if c.roster == nil {
		c.roster = roster.New(roster.WithClock(cfg.Now))
	}
	if c.chat == nil {
		c.chat = chatlog.New(cfg.Now)
	}
	if c.defaultPollTime <= 0 {
		c.defaultPollTime = timeouts.PollTime
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.engine = poll.NewEngine(poll.Config{
		Participants: c.roster,
		OnTransition: c.publishTransition,
		Now:          cfg.Now,
		AfterFunc:    cfg.AfterFunc,
	})
	return c
}

// JoinRequest registers a display name for a connection.
type JoinRequest struct {
	ConnectionID string
	Name         string
}

// Join adds a participant, announces it to everyone else and sends the
// joiner the active poll, if any.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (participant roster.Participant, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.Join", attribute.String("pollroom.connection_id", req.ConnectionID))
	defer func() { c.endSpan(ctx, span, "join", err) }()

	c.rosterMu.Lock()
	participant, err = c.roster.Join(req.Name, req.ConnectionID)
	if err == nil {
		c.publish(ctx, broadcast.EventParticipantJoined, ParticipantJoinedEvent{
			Participant:       NewParticipantView(participant),
			TotalParticipants: c.roster.Count(),
		}, req.ConnectionID)
	}
	c.rosterMu.Unlock()
	if err != nil {
		return roster.Participant{}, err
	}

	span.SetAttributes(attribute.String("pollroom.participant_id", participant.ID))
	c.engine.WithActive(func(current poll.Current, ok bool) {
		if !ok {
			return
		}
		if _, sendErr := c.gateway.Send(req.ConnectionID, broadcast.EventCurrentPoll, NewCurrentPollView(current)); sendErr != nil {
			c.logger.ErrorContext(ctx, "send current poll", "connection_id", req.ConnectionID, "error", sendErr)
		}
	})
	c.logger.InfoContext(ctx, "participant joined", "participant_id", participant.ID, "name", participant.Name)
	return participant, nil
}

// CreatePollRequest opens a poll. A nil TimeBudget uses the default.
type CreatePollRequest struct {
	Question   string
	Options    []string
	TimeBudget *time.Duration
}

// CreatePoll opens a poll; poll_created is published by the engine sink.
func (c *Coordinator) CreatePoll(ctx context.Context, req CreatePollRequest) (snapshot poll.Snapshot, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.CreatePoll")
	defer func() { c.endSpan(ctx, span, "create poll", err) }()

	budget := c.defaultPollTime
	if req.TimeBudget != nil {
		budget = *req.TimeBudget
	}
	snapshot, err = c.engine.Create(req.Question, req.Options, budget)
	if err != nil {
		return poll.Snapshot{}, err
	}
	span.SetAttributes(attribute.String("pollroom.poll_id", snapshot.ID))
	c.logger.InfoContext(ctx, "poll created", "poll_id", snapshot.ID, "options", len(snapshot.Options), "time_budget", budget)
	return snapshot, nil
}

// SubmitAnswerRequest records one answer. An empty PollID targets the active
// poll; an empty ParticipantID resolves to the connection's participant.
type SubmitAnswerRequest struct {
	ConnectionID  string
	PollID        string
	ParticipantID string
	Option        string
}

// SubmitAnswer records an answer; poll_results_updated is published by the
// engine sink.
func (c *Coordinator) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (results poll.Results, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.SubmitAnswer",
		attribute.String("pollroom.poll_id", req.PollID),
		attribute.String("pollroom.participant_id", req.ParticipantID),
	)
	defer func() { c.endSpan(ctx, span, "submit answer", err) }()

	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" && req.ConnectionID != "" {
		if p, ok := c.roster.ByConnection(req.ConnectionID); ok {
			participantID = p.ID
		}
	}
	pollID := strings.TrimSpace(req.PollID)
	if pollID == "" {
		current, ok := c.engine.Active()
		if !ok {
			return poll.Results{}, apperrors.New(apperrors.CodeNoActivePoll, "no active poll")
		}
		pollID = current.Poll.ID
	}

	results, err = c.engine.SubmitAnswer(pollID, participantID, req.Option)
	if err != nil {
		return poll.Results{}, err
	}
	c.logger.DebugContext(ctx, "answer accepted", "poll_id", pollID, "participant_id", participantID, "answered", results.AnsweredCount)
	return results, nil
}

// SendChatRequest appends a chat message. An empty Sender resolves to the
// connection's participant name.
type SendChatRequest struct {
	ConnectionID string
	Sender       string
	Role         string
	Body         string
}

// SendChat appends a message and fans it out in append order.
func (c *Coordinator) SendChat(ctx context.Context, req SendChatRequest) (message chatlog.Message, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.SendChat")
	defer func() { c.endSpan(ctx, span, "send chat", err) }()

	role, err := chatlog.ParseRole(req.Role)
	if err != nil {
		return chatlog.Message{}, err
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" && req.ConnectionID != "" {
		if p, ok := c.roster.ByConnection(req.ConnectionID); ok {
			sender = p.Name
		}
	}

	c.chatMu.Lock()
	defer c.chatMu.Unlock()

	message, err = c.chat.Append(sender, role, req.Body)
	if err != nil {
		return chatlog.Message{}, err
	}
	c.publish(ctx, broadcast.EventChatMessage, ChatMessageEvent{Message: message})
	return message, nil
}

// EndPoll closes the active poll. A non-empty pollID must match it.
func (c *Coordinator) EndPoll(ctx context.Context, pollID string) (snapshot poll.Snapshot, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.EndPoll", attribute.String("pollroom.poll_id", pollID))
	defer func() { c.endSpan(ctx, span, "end poll", err) }()

	if strings.TrimSpace(pollID) == "" {
		snapshot, err = c.engine.CloseActive()
	} else {
		snapshot, err = c.engine.Close(pollID)
	}
	if err != nil {
		return poll.Snapshot{}, err
	}
	c.logger.InfoContext(ctx, "poll ended", "poll_id", snapshot.ID, "answered", snapshot.AnsweredCount)
	return snapshot, nil
}

// KickParticipant removes a participant, tells them why and severs their
// connection. Everyone else sees participant_left.
func (c *Coordinator) KickParticipant(ctx context.Context, participantID string) (participant roster.Participant, err error) {
	ctx, span := c.startSpan(ctx, "pollroom.KickParticipant", attribute.String("pollroom.participant_id", participantID))
	defer func() { c.endSpan(ctx, span, "kick participant", err) }()

	participantID = strings.TrimSpace(participantID)

	c.rosterMu.Lock()
	defer c.rosterMu.Unlock()

	participant, ok := c.roster.Leave(participantID)
	if !ok {
		return roster.Participant{}, apperrors.WithMetadata(apperrors.CodeParticipantNotFound, "participant not found", map[string]string{"participant_id": participantID})
	}
	if _, sendErr := c.gateway.SendAndClose(participant.ConnectionID, broadcast.EventParticipantKicked, ParticipantKickedEvent{
		ParticipantID: participant.ID,
		Message:       "You have been removed by the moderator.",
	}); sendErr != nil {
		c.logger.ErrorContext(ctx, "send kick notice", "participant_id", participant.ID, "error", sendErr)
	}
	c.publish(ctx, broadcast.EventParticipantLeft, ParticipantLeftEvent{
		ParticipantID:     participant.ID,
		Name:              participant.Name,
		Reason:            LeftReasonKicked,
		TotalParticipants: c.roster.Count(),
	}, participant.ConnectionID)
	c.logger.InfoContext(ctx, "participant kicked", "participant_id", participant.ID, "name", participant.Name)
	return participant, nil
}

// Disconnect releases a connection. A joined participant leaves the roster
// and everyone else sees participant_left. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	c.gateway.Detach(connectionID)

	c.rosterMu.Lock()
	defer c.rosterMu.Unlock()

	participant, ok := c.roster.LeaveConnection(connectionID)
	if !ok {
		return
	}
	c.publish(ctx, broadcast.EventParticipantLeft, ParticipantLeftEvent{
		ParticipantID:     participant.ID,
		Name:              participant.Name,
		Reason:            LeftReasonDisconnected,
		TotalParticipants: c.roster.Count(),
	}, connectionID)
	c.logger.InfoContext(ctx, "participant left", "participant_id", participant.ID, "name", participant.Name)
}

// CurrentPoll returns the active poll and its remaining time.
func (c *Coordinator) CurrentPoll() (poll.Current, bool) {
	return c.engine.Active()
}

// Participants lists connected participants in join order.
func (c *Coordinator) Participants() []roster.Participant {
	return c.roster.List()
}

// ChatHistory returns every chat message in append order.
func (c *Coordinator) ChatHistory() []chatlog.Message {
	return c.chat.All()
}

// Polls returns every poll in creation order.
func (c *Coordinator) Polls() []poll.Snapshot {
	return c.engine.History()
}

// Poll returns one poll by id.
func (c *Coordinator) Poll(pollID string) (poll.Snapshot, error) {
	return c.engine.Get(pollID)
}

// ParticipantForConnection returns the participant joined on a connection.
func (c *Coordinator) ParticipantForConnection(connectionID string) (roster.Participant, bool) {
	return c.roster.ByConnection(connectionID)
}

// Stop cancels any pending poll deadline.
func (c *Coordinator) Stop() {
	c.engine.Stop()
}

// publishTransition runs under the engine lock.
func (c *Coordinator) publishTransition(t poll.Transition) {
	ctx := context.Background()
	switch t.Kind {
	case poll.TransitionCreated:
		c.publish(ctx, broadcast.EventPollCreated, PollCreatedEvent{Poll: NewPollView(t.Poll)})
	case poll.TransitionAnswered:
		c.publish(ctx, broadcast.EventPollResultsUpdated, PollResultsUpdatedEvent{
			PollID:            t.Results.PollID,
			Results:           t.Results.Tally,
			AnsweredCount:     t.Results.AnsweredCount,
			TotalParticipants: t.Results.TotalParticipants,
		})
	case poll.TransitionClosed:
		view := NewPollView(t.Poll)
		c.publish(ctx, broadcast.EventPollEnded, PollEndedEvent{
			PollID:        t.Poll.ID,
			FinalResults:  view.Results,
			AnsweredCount: t.Poll.AnsweredCount,
			Reason:        string(t.Poll.CloseReason),
			Poll:          view,
		})
		if t.Poll.CloseReason == poll.CloseReasonExpired {
			c.logger.Info("poll expired", "poll_id", t.Poll.ID, "answered", t.Poll.AnsweredCount)
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType string, payload any, exclude ...string) {
	if _, err := c.gateway.Publish(eventType, payload, exclude...); err != nil {
		c.logger.ErrorContext(ctx, "publish event", "event", eventType, "error", err)
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records the action outcome. Rejections are expected traffic and
// log at debug; anything unclassified is an error.
func (c *Coordinator) endSpan(ctx context.Context, span trace.Span, action string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	kind := apperrors.KindOf(err)
	span.SetAttributes(
		attribute.String("pollroom.error_code", string(apperrors.CodeOf(err))),
		attribute.String("pollroom.error_kind", string(kind)),
	)
	if kind == apperrors.KindInternal {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		c.logger.ErrorContext(ctx, action+" failed", "error", err, "trace_id", traceID(span))
		return
	}
	c.logger.DebugContext(ctx, action+" rejected", "code", apperrors.CodeOf(err), "reason", kind)
}

func traceID(span trace.Span) string {
	if sc := span.SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
