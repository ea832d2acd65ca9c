package server

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/coordinator"
	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
)

const maxRequestBodyBytes = 16 * 1024

// restAPI serves pull queries and moderator commands over HTTP.
type restAPI struct {
	room *room
}

func (a *restAPI) listPolls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pollHistoryResult{Polls: coordinator.NewPollViews(a.room.coordinator.Polls())})
}

func (a *restAPI) getPoll(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.room.coordinator.Poll(chi.URLParam(r, "pollID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResult{Poll: coordinator.NewPollView(snapshot)})
}

func (a *restAPI) currentPoll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCurrentPollResult(a.room.coordinator.CurrentPoll()))
}

func (a *restAPI) listParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rosterResult{Participants: coordinator.NewParticipantViews(a.room.coordinator.Participants())})
}

func (a *restAPI) listChatMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newChatHistoryResult(a.room.coordinator.ChatHistory()))
}

func (a *restAPI) endPoll(w http.ResponseWriter, r *http.Request) {
	var payload endPollPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "invalid end-poll body", err))
		return
	}
	snapshot, err := a.room.coordinator.EndPoll(r.Context(), payload.PollID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEndPollResult(snapshot))
}

func (a *restAPI) kickParticipant(w http.ResponseWriter, r *http.Request) {
	participant, err := a.room.coordinator.KickParticipant(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newKickResult(participant))
}

// decodeBody accepts an empty body as an empty object.
func decodeBody(r *http.Request, target any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return err
	}
	return decodePayload(raw, target)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := codes.Internal
	if appErr, ok := apperrors.As(err); ok {
		code = appErr.Kind().GRPCCode()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorEnvelope{Error: newErrorBody(err)})
}
