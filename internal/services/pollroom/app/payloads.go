package server

import (
	"bytes"
	"encoding/json"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/coordinator"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/chatlog"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/poll"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/domain/roster"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Inbound frame types.
const (
	frameJoin            = "join"
	frameCreatePoll      = "create_poll"
	frameSubmitAnswer    = "submit_answer"
	frameSendChat        = "send_chat"
	frameEndPoll         = "end_poll"
	frameKickParticipant = "kick_participant"
	frameCurrentPoll     = "current_poll"
	frameRoster          = "roster"
	frameChatHistory     = "chat_history"
	framePollHistory     = "poll_history"
)

// Transport-level error codes that have no domain kind.
const (
	codeInvalidArgument   = "INVALID_ARGUMENT"
	codeResourceExhausted = "RESOURCE_EXHAUSTED"
	codeInternal          = "INTERNAL"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Name string `json:"name"`
}

type createPollPayload struct {
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	TimeBudgetSeconds *float64 `json:"time_budget_seconds"`
}

func (p createPollPayload) timeBudget() *time.Duration {
	if p.TimeBudgetSeconds == nil {
		return nil
	}
	budget := time.Duration(*p.TimeBudgetSeconds * float64(time.Second))
	return &budget
}

type submitAnswerPayload struct {
	PollID        string `json:"poll_id"`
	ParticipantID string `json:"participant_id"`
	Option        string `json:"option"`
}

type sendChatPayload struct {
	Sender string `json:"sender"`
	Role   string `json:"sender_role"`
	Body   string `json:"message"`
}

type endPollPayload struct {
	PollID string `json:"poll_id"`
}

type kickParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
}

type pollHistoryPayload struct {
	PollID string `json:"poll_id"`
}

type ackEnvelope struct {
	Result any `json:"result"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type joinResult struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

type createPollResult struct {
	PollID string                `json:"poll_id"`
	Poll   coordinator.PollView `json:"poll"`
}

type submitAnswerResult struct {
	Status            string         `json:"status"`
	PollID            string         `json:"poll_id"`
	Results           map[string]int `json:"results"`
	AnsweredCount     int            `json:"answered_count"`
	TotalParticipants int            `json:"total_participants"`
}

type sendChatResult struct {
	Message chatlog.Message `json:"message"`
}

type endPollResult struct {
	PollID       string                `json:"poll_id"`
	FinalResults map[string]int        `json:"final_results"`
	Poll         coordinator.PollView `json:"poll"`
}

type kickResult struct {
	Status        string `json:"status"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

type currentPollResult struct {
	Active  bool                         `json:"active"`
	Current *coordinator.CurrentPollView `json:"current,omitempty"`
}

type rosterResult struct {
	Participants []coordinator.ParticipantView `json:"participants"`
}

type chatHistoryResult struct {
	Messages []chatlog.Message `json:"messages"`
}

type pollHistoryResult struct {
	Polls []coordinator.PollView `json:"polls"`
}

type pollResult struct {
	Poll coordinator.PollView `json:"poll"`
}

func newJoinResult(p roster.Participant) joinResult {
	return joinResult{ParticipantID: p.ID, Name: p.Name}
}

func newCreatePollResult(s poll.Snapshot) createPollResult {
	return createPollResult{PollID: s.ID, Poll: coordinator.NewPollView(s)}
}

func newSubmitAnswerResult(r poll.Results) submitAnswerResult {
	results := r.Tally
	if results == nil {
		results = map[string]int{}
	}
	return submitAnswerResult{
		Status:            "ok",
		PollID:            r.PollID,
		Results:           results,
		AnsweredCount:     r.AnsweredCount,
		TotalParticipants: r.TotalParticipants,
	}
}

func newEndPollResult(s poll.Snapshot) endPollResult {
	view := coordinator.NewPollView(s)
	return endPollResult{PollID: s.ID, FinalResults: view.Results, Poll: view}
}

func newKickResult(p roster.Participant) kickResult {
	return kickResult{Status: "ok", ParticipantID: p.ID, Name: p.Name}
}

func newCurrentPollResult(current poll.Current, ok bool) currentPollResult {
	if !ok {
		return currentPollResult{}
	}
	view := coordinator.NewCurrentPollView(current)
	return currentPollResult{Active: true, Current: &view}
}

func newChatHistoryResult(messages []chatlog.Message) chatHistoryResult {
	if messages == nil {
		messages = []chatlog.Message{}
	}
	return chatHistoryResult{Messages: messages}
}

// newErrorBody maps a domain error onto the wire taxonomy. Unclassified
// errors never leak their text.
func newErrorBody(err error) errorBody {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind() == apperrors.KindInternal {
		return errorBody{Code: codeInternal, Message: "internal error"}
	}
	return errorBody{
		Code:     string(appErr.Kind()),
		Reason:   string(appErr.Code),
		Message:  appErr.Message,
		Metadata: appErr.Metadata,
	}
}

// decodePayload treats a missing or null payload as an empty object.
func decodePayload(raw json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, target)
}
