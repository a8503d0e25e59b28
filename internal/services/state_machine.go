package services

import (
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/go-set/v3"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/ws"
)

type Action string

const (
	ActionStart             Action = "start"
	ActionAdvance           Action = "advance"
	ActionNext              Action = "next"
	ActionDisplay           Action = "display"
	ActionRevealLeaderboard Action = "reveal_leaderboard"
	ActionEnd               Action = "end"
)

// Transition is the planned effect of a host action on a session snapshot.
// Nothing is written until the runtime persists it.
type Transition struct {
	Action Action
	// Status is the status after the transition. StatusChanged tells whether it must be written.
	Status        string
	StatusChanged bool
	// Data is the new session_data, nil when it is unchanged.
	Data     *models.SessionData
	Question *models.Question
	Event    string
}

// Persists reports whether the transition writes to the store.
func (t Transition) Persists() bool {
	return t.StatusChanged || t.Data != nil
}

// Authorize checks that hostID created the session.
func Authorize(session *models.Session, hostID uint) error {
	if session.HostID != hostID {
		return qerrors.AccessDeniedError{Reason: "session belongs to another host"}
	}
	return nil
}

// PlanTransition validates action against the session snapshot and returns its effect.
// questionID is only read by advance and display.
func PlanTransition(session *models.Session, action Action, questionID uint, now time.Time) (Transition, error) {
	if session.Status == models.SessionStatusEnded {
		return Transition{}, qerrors.TerminalStateError{SessionID: session.ID, Action: string(action)}
	}

	switch action {
	case ActionStart:
		if session.Status != models.SessionStatusPending {
			return Transition{}, invalid(session, action, "already started")
		}
		return Transition{
			Action:        action,
			Status:        models.SessionStatusStarted,
			StatusChanged: true,
			Event:         ws.EventStarted,
		}, nil

	case ActionAdvance:
		if err := requireStarted(session, action); err != nil {
			return Transition{}, err
		}
		q, ok := session.Game.QuestionByID(questionID)
		if !ok {
			return Transition{}, qerrors.NotFoundError{Resource: "question", ID: strconv.FormatUint(uint64(questionID), 10)}
		}
		return openQuestion(session, action, q, now)

	case ActionNext:
		if err := requireStarted(session, action); err != nil {
			return Transition{}, err
		}
		q, ok := nextQuestion(session)
		if !ok {
			return Transition{}, invalid(session, action, "no more questions")
		}
		return openQuestion(session, action, q, now)

	case ActionDisplay:
		if err := requireStarted(session, action); err != nil {
			return Transition{}, err
		}
		q, ok := session.Game.QuestionByID(questionID)
		if !ok {
			return Transition{}, qerrors.NotFoundError{Resource: "question", ID: strconv.FormatUint(uint64(questionID), 10)}
		}
		if !completedSet(session).Contains(q.ID) {
			return Transition{}, invalid(session, action, "question has not been opened yet")
		}
		return Transition{Action: action, Status: session.Status, Question: q, Event: ws.EventQuestionDisplay}, nil

	case ActionRevealLeaderboard:
		if err := requireStarted(session, action); err != nil {
			return Transition{}, err
		}
		return Transition{Action: action, Status: session.Status, Event: ws.EventLeaderboard}, nil

	case ActionEnd:
		if err := requireStarted(session, action); err != nil {
			return Transition{}, err
		}
		return Transition{
			Action:        action,
			Status:        models.SessionStatusEnded,
			StatusChanged: true,
			Event:         ws.EventEnded,
		}, nil
	}

	return Transition{}, qerrors.ValidationError{Field: "action", Message: "unknown action " + string(action)}
}

func openQuestion(session *models.Session, action Action, q *models.Question, now time.Time) (Transition, error) {
	current := session.State()
	if completedSet(session).Contains(q.ID) {
		return Transition{}, invalid(session, action, "question already completed")
	}

	id := q.ID
	index := q.Index
	startedAt := now.UTC()
	data := models.SessionData{
		CurrentQuestion:      &id,
		CurrentQuestionIndex: &index,
		CompletedQuestions:   append(slices.Clone(current.CompletedQuestions), id),
		QuestionStartedAt:    &startedAt,
	}
	return Transition{
		Action:   action,
		Status:   session.Status,
		Data:     &data,
		Question: q,
		Event:    ws.EventQuestionChange,
	}, nil
}

// nextQuestion returns the first unopened question after the current index.
func nextQuestion(session *models.Session) (*models.Question, bool) {
	after := -1
	if idx := session.State().CurrentQuestionIndex; idx != nil {
		after = *idx
	}
	done := completedSet(session)

	var best *models.Question
	for i := range session.Game.Questions {
		q := &session.Game.Questions[i]
		if q.Index <= after || done.Contains(q.ID) {
			continue
		}
		if best == nil || q.Index < best.Index {
			best = q
		}
	}
	return best, best != nil
}

func completedSet(session *models.Session) *set.Set[uint] {
	return set.From(session.State().CompletedQuestions)
}

func requireStarted(session *models.Session, action Action) error {
	if session.Status != models.SessionStatusStarted {
		return invalid(session, action, "session has not started")
	}
	return nil
}

func invalid(session *models.Session, action Action, reason string) error {
	return qerrors.InvalidTransitionError{From: session.Status, Action: string(action), Reason: reason}
}

// ValidateQuestionOrder checks that questions occupy indexes 0..N-1 exactly once.
func ValidateQuestionOrder(questions []models.Question) error {
	if len(questions) == 0 {
		return qerrors.ValidationError{Field: "questions", Message: "game has no questions"}
	}
	seen := set.New[int](len(questions))
	for _, q := range questions {
		if q.Index < 0 || q.Index >= len(questions) || !seen.Insert(q.Index) {
			return qerrors.ValidationError{Field: "questions", Message: "question indexes must be dense and unique"}
		}
	}
	return nil
}
