package services

import (
	"bytes"
	"math"

	"github.com/goccy/go-json"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
)

const maxQuestionScore = 100

// Submission is a decoded answer payload. Each question type has exactly one
// implementation; new types must be added to DecodeSubmission and Score.
type Submission interface {
	QuestionType() models.QuestionType
}

// MultipleChoiceSubmission: AnswerID is nil when the client auto-submitted with nothing selected.
type MultipleChoiceSubmission struct {
	AnswerID *uint `json:"answer_id"`
}

func (MultipleChoiceSubmission) QuestionType() models.QuestionType {
	return models.QuestionTypeMultipleChoice
}

type Match struct {
	AnswerID     uint   `json:"answer_id"`
	MatchingText string `json:"matching_text"`
}

type MatchingSubmission struct {
	Matches []Match `json:"matches"`
}

func (MatchingSubmission) QuestionType() models.QuestionType {
	return models.QuestionTypeMatching
}

// DrawingSubmission keeps the stroke data opaque; it is stored for host review only.
type DrawingSubmission struct {
	Paths json.RawMessage `json:"paths"`
}

func (DrawingSubmission) QuestionType() models.QuestionType {
	return models.QuestionTypeDrawing
}

// DecodeSubmission parses answer_data for the given answer type. An empty or null
// payload decodes to the empty submission of that type.
func DecodeSubmission(answerType models.QuestionType, raw []byte) (Submission, error) {
	if !answerType.Valid() {
		return nil, qerrors.ValidationError{Field: "answer_type", Message: "unknown answer type " + string(answerType)}
	}
	raw = bytes.TrimSpace(raw)
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	switch answerType {
	case models.QuestionTypeMultipleChoice:
		var sub MultipleChoiceSubmission
		if !empty {
			if err := json.Unmarshal(raw, &sub); err != nil {
				return nil, qerrors.ValidationError{Field: "answer_data", Message: err.Error()}
			}
		}
		return sub, nil

	case models.QuestionTypeMatching:
		var sub MatchingSubmission
		if empty {
			return sub, nil
		}
		// Clients may send the bare list of pairs.
		if raw[0] == '[' {
			if err := json.Unmarshal(raw, &sub.Matches); err != nil {
				return nil, qerrors.ValidationError{Field: "answer_data", Message: err.Error()}
			}
			return sub, nil
		}
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, qerrors.ValidationError{Field: "answer_data", Message: err.Error()}
		}
		return sub, nil

	case models.QuestionTypeDrawing:
		var sub DrawingSubmission
		if !empty {
			if err := json.Unmarshal(raw, &sub); err != nil {
				return nil, qerrors.ValidationError{Field: "answer_data", Message: err.Error()}
			}
		}
		return sub, nil
	}
	return nil, qerrors.ValidationError{Field: "answer_type", Message: "unknown answer type " + string(answerType)}
}

// ScoringService computes score deltas. It is stateless; the same inputs always
// produce the same score.
type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

// Score returns the points sub earns on q when submitted with timeLeft seconds remaining.
func (s *ScoringService) Score(q *models.Question, sub Submission, timeLeft float64) (int, error) {
	if sub.QuestionType() != q.Type {
		return 0, qerrors.ValidationError{
			Field:   "answer_type",
			Message: "expected " + string(q.Type) + ", got " + string(sub.QuestionType()),
		}
	}

	switch v := sub.(type) {
	case MultipleChoiceSubmission:
		return scoreMultipleChoice(q, v, timeLeft), nil
	case MatchingSubmission:
		return scoreMatching(q, v, timeLeft), nil
	case DrawingSubmission:
		return 0, nil
	default:
		return 0, qerrors.ValidationError{Field: "answer_type", Message: "unsupported submission"}
	}
}

func scoreMultipleChoice(q *models.Question, sub MultipleChoiceSubmission, timeLeft float64) int {
	if sub.AnswerID == nil {
		return 0
	}
	answer, ok := q.AnswerByID(*sub.AnswerID)
	if !ok || !answer.IsCorrect {
		return 0
	}
	return clampScore(math.Round(timeFraction(timeLeft, q.Time) * maxQuestionScore))
}

// scoreMatching counts each answer of q at most once. Pairs for unknown answers are
// ignored and answers without a pair count as wrong.
func scoreMatching(q *models.Question, sub MatchingSubmission, timeLeft float64) int {
	total := len(q.Answers)
	if total == 0 {
		return 0
	}

	counted := make(map[uint]struct{}, len(sub.Matches))
	correct := 0
	for _, m := range sub.Matches {
		if _, dup := counted[m.AnswerID]; dup {
			continue
		}
		answer, ok := q.AnswerByID(m.AnswerID)
		if !ok {
			continue
		}
		counted[m.AnswerID] = struct{}{}
		if answer.MatchingText == m.MatchingText {
			correct++
		}
	}

	ratio := float64(correct) / float64(total)
	return clampScore(math.Round(timeFraction(timeLeft, q.Time) * ratio * maxQuestionScore))
}

func timeFraction(timeLeft float64, total int) float64 {
	if total <= 0 || timeLeft <= 0 {
		return 0
	}
	return timeLeft / float64(total)
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > maxQuestionScore:
		return maxQuestionScore
	default:
		return int(v)
	}
}
