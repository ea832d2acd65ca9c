// Package errors provides structured domain errors for the poll room.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Roster errors
	CodeNameEmpty           Code = "NAME_EMPTY"
	CodeNameTaken           Code = "NAME_TAKEN"
	CodeConnectionJoined    Code = "CONNECTION_ALREADY_JOINED"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"

	// Poll errors
	CodePollQuestionEmpty      Code = "POLL_QUESTION_EMPTY"
	CodePollOptionsEmpty       Code = "POLL_OPTIONS_EMPTY"
	CodePollOptionBlank        Code = "POLL_OPTION_BLANK"
	CodePollOptionDuplicate    Code = "POLL_OPTION_DUPLICATE"
	CodePollTimeBudgetInvalid  Code = "POLL_TIME_BUDGET_INVALID"
	CodePollOptionUnknown      Code = "POLL_OPTION_UNKNOWN"
	CodePollAlreadyActive      Code = "POLL_ALREADY_ACTIVE"
	CodePollNotActive          Code = "POLL_NOT_ACTIVE"
	CodeNoActivePoll           Code = "NO_ACTIVE_POLL"
	CodeAlreadyAnswered        Code = "ALREADY_ANSWERED"
	CodePollNotFound           Code = "POLL_NOT_FOUND"
	CodePollParticipantMissing Code = "POLL_PARTICIPANT_REQUIRED"

	// Chat errors
	CodeChatSenderEmpty Code = "CHAT_SENDER_EMPTY"
	CodeChatBodyEmpty   Code = "CHAT_BODY_EMPTY"
	CodeChatRoleInvalid Code = "CHAT_ROLE_INVALID"

	// Request errors
	CodeRequestInvalid Code = "REQUEST_INVALID"
)

// Kind groups codes into the error taxonomy reported to callers.
type Kind string

const (
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindInternal        Kind = "INTERNAL"
)

// Kind maps a code to its taxonomy kind.
func (c Code) Kind() Kind {
	switch c {
	// InvalidArgument - malformed payloads
	case CodeNameEmpty,
		CodePollQuestionEmpty,
		CodePollOptionsEmpty,
		CodePollOptionBlank,
		CodePollOptionDuplicate,
		CodePollTimeBudgetInvalid,
		CodePollOptionUnknown,
		CodePollParticipantMissing,
		CodeChatSenderEmpty,
		CodeChatBodyEmpty,
		CodeChatRoleInvalid,
		CodeRequestInvalid:
		return KindInvalidArgument

	// NotFound - unknown references
	case CodeParticipantNotFound,
		CodePollNotFound:
		return KindNotFound

	// Conflict - state machine rule violations
	case CodeNameTaken,
		CodeConnectionJoined,
		CodePollAlreadyActive,
		CodePollNotActive,
		CodeNoActivePoll,
		CodeAlreadyAnswered:
		return KindConflict

	default:
		return KindInternal
	}
}

// GRPCCode maps a kind to its canonical status code.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}
