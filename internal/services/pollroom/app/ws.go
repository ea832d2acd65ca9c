package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Davshiv20/PingPollz/internal/platform/id"
	"github.com/Davshiv20/PingPollz/internal/platform/timeouts"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/broadcast"
	"github.com/Davshiv20/PingPollz/internal/services/pollroom/coordinator"
	"golang.org/x/net/websocket"
)

// wsConn is the gateway's write side of one WebSocket.
type wsConn struct {
	conn      *websocket.Conn
	encoder   *json.Encoder
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, encoder: json.NewEncoder(conn), closed: make(chan struct{})}
}

func (c *wsConn) WriteFrame(frame broadcast.Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeouts.WriteFrame))
	return c.encoder.Encode(frame)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		close(c.closed)
	})
	return c.closeErr
}

// waitClosed blocks until the gateway writer has flushed and closed the
// connection, or until timeout.
func (c *wsConn) waitClosed(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.closed:
	case <-timer.C:
	}
}

// wsSession is one connection's view of the room.
type wsSession struct {
	ctx          context.Context
	connectionID string
	room         *room
}

func (s *wsSession) reply(requestID string, result any) {
	if _, err := s.room.gateway.Reply(s.connectionID, requestID, broadcast.ReplyAck, ackEnvelope{Result: result}); err != nil {
		s.room.logger.Error("encode ack", "connection_id", s.connectionID, "error", err)
	}
}

func (s *wsSession) fail(requestID string, err error) {
	s.writeError(requestID, newErrorBody(err))
}

func (s *wsSession) writeError(requestID string, body errorBody) {
	if _, err := s.room.gateway.Reply(s.connectionID, requestID, broadcast.ReplyError, errorEnvelope{Error: body}); err != nil {
		s.room.logger.Error("encode error reply", "connection_id", s.connectionID, "error", err)
	}
}

func (s *wsSession) invalid(requestID string, message string) {
	s.writeError(requestID, errorBody{Code: codeInvalidArgument, Message: message})
}

func handleWSConn(conn *websocket.Conn, rm *room) {
	connectionID, err := id.NewID()
	if err != nil {
		rm.logger.Error("allocate connection id", "error", err)
		_ = conn.Close()
		return
	}
	out := newWSConn(conn)
	if err := rm.gateway.Attach(connectionID, out); err != nil {
		rm.logger.Warn("attach observer", "error", err)
		_ = out.Close()
		return
	}

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}
	// The HTTP request context ends with the handler; disconnect must still run.
	ctx = context.WithoutCancel(ctx)
	session := &wsSession{ctx: ctx, connectionID: connectionID, room: rm}
	defer func() {
		rm.coordinator.Disconnect(ctx, connectionID)
		out.waitClosed(timeouts.WriteFrame)
	}()

	rm.logger.Debug("observer connected", "connection_id", connectionID)

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || !rm.gateway.Attached(connectionID) {
				return
			}
			decodeErrors++
			session.invalid("", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			session.invalid(frame.RequestID, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			session.writeError(frame.RequestID, errorBody{Code: codeResourceExhausted, Message: "rate limit exceeded"})
			return
		}

		dispatchFrame(session, frame)
	}
}

func dispatchFrame(s *wsSession, frame wsFrame) {
	c := s.room.coordinator
	switch frame.Type {
	case frameJoin:
		var payload joinPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid join payload")
			return
		}
		participant, err := c.Join(s.ctx, coordinator.JoinRequest{ConnectionID: s.connectionID, Name: payload.Name})
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, newJoinResult(participant))

	case frameCreatePoll:
		var payload createPollPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid create_poll payload")
			return
		}
		snapshot, err := c.CreatePoll(s.ctx, coordinator.CreatePollRequest{
			Question:   payload.Question,
			Options:    payload.Options,
			TimeBudget: payload.timeBudget(),
		})
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, newCreatePollResult(snapshot))

	case frameSubmitAnswer:
		var payload submitAnswerPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid submit_answer payload")
			return
		}
		results, err := c.SubmitAnswer(s.ctx, coordinator.SubmitAnswerRequest{
			ConnectionID:  s.connectionID,
			PollID:        payload.PollID,
			ParticipantID: payload.ParticipantID,
			Option:        payload.Option,
		})
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, newSubmitAnswerResult(results))

	case frameSendChat:
		var payload sendChatPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid send_chat payload")
			return
		}
		message, err := c.SendChat(s.ctx, coordinator.SendChatRequest{
			ConnectionID: s.connectionID,
			Sender:       payload.Sender,
			Role:         payload.Role,
			Body:         payload.Body,
		})
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, sendChatResult{Message: message})

	case frameEndPoll:
		var payload endPollPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid end_poll payload")
			return
		}
		snapshot, err := c.EndPoll(s.ctx, payload.PollID)
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, newEndPollResult(snapshot))

	case frameKickParticipant:
		var payload kickParticipantPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid kick_participant payload")
			return
		}
		participant, err := c.KickParticipant(s.ctx, payload.ParticipantID)
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, newKickResult(participant))

	case frameCurrentPoll:
		s.reply(frame.RequestID, newCurrentPollResult(c.CurrentPoll()))

	case frameRoster:
		s.reply(frame.RequestID, rosterResult{Participants: coordinator.NewParticipantViews(c.Participants())})

	case frameChatHistory:
		s.reply(frame.RequestID, newChatHistoryResult(c.ChatHistory()))

	case framePollHistory:
		var payload pollHistoryPayload
		if err := decodePayload(frame.Payload, &payload); err != nil {
			s.invalid(frame.RequestID, "invalid poll_history payload")
			return
		}
		if payload.PollID == "" {
			s.reply(frame.RequestID, pollHistoryResult{Polls: coordinator.NewPollViews(c.Polls())})
			return
		}
		snapshot, err := c.Poll(payload.PollID)
		if err != nil {
			s.fail(frame.RequestID, err)
			return
		}
		s.reply(frame.RequestID, pollResult{Poll: coordinator.NewPollView(snapshot)})

	default:
		s.invalid(frame.RequestID, "unsupported frame type")
	}
}
