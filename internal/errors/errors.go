// Package errors defines the error kinds shared by the session runtime, the store and the HTTP layer.
// Callers match them with errors.As and map them to transport status codes.
package errors

import (
	"errors"
	"fmt"
)

// NotFoundError: a session, question, participant or game does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidTransitionError: a state machine precondition was violated.
type InvalidTransitionError struct {
	From   string
	Action string
	Reason string
}

func (e InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s a %s session", e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TerminalStateError: a write was attempted against an ended session.
type TerminalStateError struct {
	SessionID uint
	Action    string
}

func (e TerminalStateError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("session %d has ended", e.SessionID)
	}
	return fmt.Sprintf("session %d has ended: %s rejected", e.SessionID, e.Action)
}

// ConcurrentModificationError: the session row changed between read and write.
type ConcurrentModificationError struct {
	SessionID       uint
	ExpectedVersion int
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("session %d was modified concurrently (expected version %d)", e.SessionID, e.ExpectedVersion)
}

// DuplicateSubmissionError: the participant already answered the question.
type DuplicateSubmissionError struct {
	ParticipantID string
	QuestionID    uint
}

func (e DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("participant %s already answered question %d", e.ParticipantID, e.QuestionID)
}

// ValidationError: malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

type AccessDeniedError struct {
	Reason string
}

func (e AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// DatabaseError wraps a storage failure that is not one of the domain kinds above.
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("db error operation=%s", e.Operation)
	}
	return fmt.Sprintf("db error operation=%s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error { return e.Err }

// RelayError wraps a failure talking to the cross-instance broadcast relay.
type RelayError struct {
	Operation string
	Err       error
}

func (e RelayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("relay error operation=%s", e.Operation)
	}
	return fmt.Sprintf("relay error operation=%s: %v", e.Operation, e.Err)
}

func (e RelayError) Unwrap() error { return e.Err }

var clientErrorTypes = []func() any{
	func() any { return new(NotFoundError) },
	func() any { return new(InvalidTransitionError) },
	func() any { return new(TerminalStateError) },
	func() any { return new(DuplicateSubmissionError) },
	func() any { return new(ValidationError) },
	func() any { return new(AccessDeniedError) },
}

// IsClientError reports whether err is caused by the caller rather than the server.
// Client errors are logged at a lower level.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	for _, targetFn := range clientErrorTypes {
		if errors.As(err, targetFn()) {
			return true
		}
	}
	return false
}

// IsConcurrentModification reports whether err is retryable with a fresh read.
func IsConcurrentModification(err error) bool {
	var target ConcurrentModificationError
	return errors.As(err, &target)
}
