package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", NotFoundError{Resource: "session", ID: "1"}, true},
		{"wrapped transition", fmt.Errorf("start: %w", InvalidTransitionError{From: "started", Action: "start"}), true},
		{"terminal", TerminalStateError{SessionID: 3}, true},
		{"duplicate", DuplicateSubmissionError{ParticipantID: "p", QuestionID: 1}, true},
		{"validation", ValidationError{Field: "time", Message: "must be positive"}, true},
		{"database", DatabaseError{Operation: "get_session", Err: errors.New("boom")}, false},
		{"concurrent", ConcurrentModificationError{SessionID: 1, ExpectedVersion: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClientError(tt.err))
		})
	}
}

func TestIsConcurrentModification(t *testing.T) {
	err := fmt.Errorf("advance: %w", ConcurrentModificationError{SessionID: 1, ExpectedVersion: 4})
	assert.True(t, IsConcurrentModification(err))
	assert.False(t, IsConcurrentModification(NotFoundError{Resource: "session"}))
}

func TestDatabaseErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := DatabaseError{Operation: "add_to_score", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "db error operation=add_to_score: connection reset", err.Error())
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "session not found: 42", NotFoundError{Resource: "session", ID: "42"}.Error())
	assert.Equal(t, "cannot start a started session: already started",
		InvalidTransitionError{From: "started", Action: "start", Reason: "already started"}.Error())
	assert.Equal(t, "session 7 has ended: submit_answer rejected",
		TerminalStateError{SessionID: 7, Action: "submit_answer"}.Error())
}
