package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
)

const (
	MoveUp   = "up"
	MoveDown = "down"
)

// GameService manages authored games. A game is frozen while one of its sessions is started.
type GameService struct {
	db *gorm.DB
}

func NewGameService(db *gorm.DB) *GameService {
	return &GameService{db: db}
}

type GameInput struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type AnswerInput struct {
	Text         string `json:"text"`
	IsCorrect    bool   `json:"is_correct"`
	MatchingText string `json:"matching_text,omitempty"`
}

type QuestionInput struct {
	Type     models.QuestionType `json:"type"`
	Text     string              `json:"text"`
	MediaURL string              `json:"media_url"`
	Time     int                 `json:"time"`
	Answers  []AnswerInput       `json:"answers"`
}

func (s *GameService) ListGames(ctx context.Context, hostID uint) ([]models.Game, error) {
	var games []models.Game
	err := s.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Preload("Questions", orderByIndex).
		Preload("Questions.Answers", orderByID).
		Order("created_at DESC").
		Find(&games).Error
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "list_games", Err: err}
	}
	return games, nil
}

func (s *GameService) CreateGame(ctx context.Context, hostID uint, input GameInput) (*models.Game, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, qerrors.ValidationError{Field: "title", Message: "is required"}
	}
	game := models.Game{HostID: hostID, Title: title, Description: input.Description}
	if err := s.db.WithContext(ctx).Create(&game).Error; err != nil {
		return nil, qerrors.DatabaseError{Operation: "create_game", Err: err}
	}
	return &game, nil
}

func (s *GameService) GetGame(ctx context.Context, gameID, hostID uint) (*models.Game, error) {
	var game models.Game
	err := s.db.WithContext(ctx).
		Where("id = ? AND host_id = ?", gameID, hostID).
		Preload("Questions", orderByIndex).
		Preload("Questions.Answers", orderByID).
		First(&game).Error
	if err != nil {
		return nil, notFoundOr(err, "game", gameID, "get_game")
	}
	return &game, nil
}

func (s *GameService) UpdateGame(ctx context.Context, gameID, hostID uint, input GameInput) (*models.Game, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, qerrors.ValidationError{Field: "title", Message: "is required"}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := ownedGame(tx, gameID, hostID)
		if err != nil {
			return err
		}
		return tx.Model(game).Updates(map[string]any{"title": title, "description": input.Description}).Error
	})
	if err != nil {
		return nil, wrapDB(err, "update_game")
	}
	return s.GetGame(ctx, gameID, hostID)
}

// DeleteGame removes a game together with its pending and ended sessions, their
// participants and submissions. A started session blocks deletion.
func (s *GameService) DeleteGame(ctx context.Context, gameID, hostID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := ownedGame(tx, gameID, hostID)
		if err != nil {
			return err
		}
		if err := requireEditable(tx, gameID); err != nil {
			return err
		}

		sessionIDs := func() *gorm.DB {
			return tx.Model(&models.Session{}).Select("id").Where("game_id = ?", gameID)
		}
		if err := tx.Where("session_id IN (?)", sessionIDs()).Delete(&models.ParticipantAnswer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN (?)", sessionIDs()).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", gameID).Delete(&models.Session{}).Error; err != nil {
			return err
		}

		if err := tx.Where("question_id IN (?)", tx.Model(&models.Question{}).Select("id").Where("game_id = ?", gameID)).
			Delete(&models.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", gameID).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		return tx.Delete(game).Error
	})
	return wrapDB(err, "delete_game")
}

// AddQuestion appends a question at the next free index.
func (s *GameService) AddQuestion(ctx context.Context, gameID, hostID uint, input QuestionInput) (*models.Question, error) {
	if err := validateQuestion(input); err != nil {
		return nil, err
	}

	var question models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownedGame(tx, gameID, hostID); err != nil {
			return err
		}
		if err := requireEditable(tx, gameID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Question{}).Where("game_id = ?", gameID).Count(&count).Error; err != nil {
			return err
		}

		question = models.Question{
			GameID:   gameID,
			Index:    int(count),
			Type:     input.Type,
			Text:     strings.TrimSpace(input.Text),
			MediaURL: input.MediaURL,
			Time:     input.Time,
		}
		for _, a := range input.Answers {
			question.Answers = append(question.Answers, models.Answer{
				Text:         a.Text,
				IsCorrect:    a.IsCorrect,
				MatchingText: a.MatchingText,
			})
		}
		return tx.Create(&question).Error
	})
	if err != nil {
		return nil, wrapDB(err, "add_question")
	}
	return &question, nil
}

// UpdateQuestionTime changes the time limit in seconds.
func (s *GameService) UpdateQuestionTime(ctx context.Context, questionID, hostID uint, seconds int) (*models.Question, error) {
	if seconds <= 0 {
		return nil, qerrors.ValidationError{Field: "time", Message: "must be positive"}
	}

	var question models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := ownedQuestion(tx, questionID, hostID)
		if err != nil {
			return err
		}
		if err := requireEditable(tx, q.GameID); err != nil {
			return err
		}
		if err := tx.Model(q).Update("time", seconds).Error; err != nil {
			return err
		}
		question = *q
		question.Time = seconds
		return nil
	})
	if err != nil {
		return nil, wrapDB(err, "update_question_time")
	}
	return &question, nil
}

// MoveQuestion swaps the question with its neighbour in the given direction.
// Moving past either end is a no-op.
func (s *GameService) MoveQuestion(ctx context.Context, questionID, hostID uint, direction string) (*models.Game, error) {
	var step int
	switch direction {
	case MoveUp:
		step = -1
	case MoveDown:
		step = 1
	default:
		return nil, qerrors.ValidationError{Field: "direction", Message: "must be up or down"}
	}

	var gameID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := ownedQuestion(tx, questionID, hostID)
		if err != nil {
			return err
		}
		gameID = q.GameID
		if err := requireEditable(tx, q.GameID); err != nil {
			return err
		}

		var neighbour models.Question
		err = tx.Where("game_id = ? AND question_index = ?", q.GameID, q.Index+step).First(&neighbour).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&neighbour).Update("question_index", q.Index).Error; err != nil {
			return err
		}
		return tx.Model(q).Update("question_index", q.Index+step).Error
	})
	if err != nil {
		return nil, wrapDB(err, "move_question")
	}
	return s.GetGame(ctx, gameID, hostID)
}

// DeleteQuestion removes the question and closes the gap in the index sequence.
func (s *GameService) DeleteQuestion(ctx context.Context, questionID, hostID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := ownedQuestion(tx, questionID, hostID)
		if err != nil {
			return err
		}
		if err := requireEditable(tx, q.GameID); err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", q.ID).Delete(&models.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(q).Error; err != nil {
			return err
		}
		return tx.Model(&models.Question{}).
			Where("game_id = ? AND question_index > ?", q.GameID, q.Index).
			Update("question_index", gorm.Expr("question_index - 1")).Error
	})
	return wrapDB(err, "delete_question")
}

func validateQuestion(input QuestionInput) error {
	if strings.TrimSpace(input.Text) == "" {
		return qerrors.ValidationError{Field: "text", Message: "is required"}
	}
	if input.Time <= 0 {
		return qerrors.ValidationError{Field: "time", Message: "must be positive"}
	}

	if !input.Type.Valid() {
		return qerrors.ValidationError{Field: "type", Message: "unknown question type " + string(input.Type)}
	}

	switch input.Type {
	case models.QuestionTypeMultipleChoice:
		if len(input.Answers) < 2 || len(input.Answers) > 6 {
			return qerrors.ValidationError{Field: "answers", Message: "multiple choice must have 2 to 6 answers"}
		}
		correct := 0
		for _, a := range input.Answers {
			if a.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			return qerrors.ValidationError{Field: "answers", Message: "at least one answer must be correct"}
		}

	case models.QuestionTypeMatching:
		if len(input.Answers) < 2 || len(input.Answers) > 8 {
			return qerrors.ValidationError{Field: "answers", Message: "matching must have 2 to 8 pairs"}
		}
		for _, a := range input.Answers {
			if strings.TrimSpace(a.MatchingText) == "" {
				return qerrors.ValidationError{Field: "answers", Message: "each matching answer needs a matching_text"}
			}
		}

	case models.QuestionTypeDrawing:
		if len(input.Answers) > 0 {
			return qerrors.ValidationError{Field: "answers", Message: "drawing questions have no predefined answers"}
		}
	}
	return nil
}

func ownedGame(tx *gorm.DB, gameID, hostID uint) (*models.Game, error) {
	var game models.Game
	if err := tx.Where("id = ? AND host_id = ?", gameID, hostID).First(&game).Error; err != nil {
		return nil, notFoundOr(err, "game", gameID, "load_game")
	}
	return &game, nil
}

func ownedQuestion(tx *gorm.DB, questionID, hostID uint) (*models.Question, error) {
	var q models.Question
	if err := tx.First(&q, questionID).Error; err != nil {
		return nil, notFoundOr(err, "question", questionID, "load_question")
	}
	if _, err := ownedGame(tx, q.GameID, hostID); err != nil {
		return nil, qerrors.NotFoundError{Resource: "question", ID: strconv.FormatUint(uint64(questionID), 10)}
	}
	return &q, nil
}

// requireEditable rejects edits while a session plays the game.
func requireEditable(tx *gorm.DB, gameID uint) error {
	var live int64
	err := tx.Model(&models.Session{}).
		Where("game_id = ? AND status = ?", gameID, models.SessionStatusStarted).
		Count(&live).Error
	if err != nil {
		return err
	}
	if live > 0 {
		return qerrors.ValidationError{Field: "game", Message: "cannot be edited while a session is being played"}
	}
	return nil
}

func orderByIndex(db *gorm.DB) *gorm.DB {
	return db.Order("question_index ASC")
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func notFoundOr(err error, resource string, id uint, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return qerrors.NotFoundError{Resource: resource, ID: strconv.FormatUint(uint64(id), 10)}
	}
	return qerrors.DatabaseError{Operation: op, Err: err}
}

// wrapDB leaves typed errors alone and wraps raw storage failures.
func wrapDB(err error, op string) error {
	if err == nil || qerrors.IsClientError(err) {
		return err
	}
	var dbErr qerrors.DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return qerrors.DatabaseError{Operation: op, Err: err}
}
