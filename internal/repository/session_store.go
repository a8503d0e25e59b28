// Package repository is the durable Session Store. Every method is a single short
// transaction; concurrent writers are arbitrated by the database through the
// session version column, row locks and the unique (participant, question) index.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quiz-session-backend/internal/database"
	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
)

const (
	TableSessions     = "sessions"
	TableParticipants = "participants"

	OpInsert = "INSERT"
	OpUpdate = "UPDATE"

	codeAttempts = 20
)

// Change describes one committed row mutation. Seq grows per row (session version,
// participant score) so subscribers can discard notifications that arrive out of order.
type Change struct {
	Table     string `json:"table"`
	Op        string `json:"op"`
	SessionID uint   `json:"session_id"`
	RowKey    string `json:"row_key"`
	Seq       int64  `json:"seq"`
	Row       any    `json:"row"`
}

type ChangeListener func(ctx context.Context, change Change)

type SessionStore struct {
	db *gorm.DB

	mu        sync.RWMutex
	listeners []ChangeListener
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// OnChange registers l to be called after each committed write.
func (s *SessionStore) OnChange(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *SessionStore) notify(ctx context.Context, changes ...Change) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(ctx, c)
		}
	}
}

func (s *SessionStore) CreateSession(ctx context.Context, gameID, hostID uint) (*models.Session, error) {
	db := s.db.WithContext(ctx)

	for range codeAttempts {
		code := fmt.Sprintf("%06d", rand.IntN(1000000))

		var count int64
		if err := db.Model(&models.Session{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return nil, qerrors.DatabaseError{Operation: "create_session", Err: err}
		}
		if count > 0 {
			continue
		}

		session := models.Session{
			Code:    code,
			GameID:  gameID,
			HostID:  hostID,
			Status:  models.SessionStatusPending,
			Data:    datatypes.NewJSONType(models.SessionData{CompletedQuestions: []uint{}}),
			Version: 1,
		}
		err := db.Create(&session).Error
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, qerrors.DatabaseError{Operation: "create_session", Err: err}
		}
		return &session, nil
	}
	return nil, qerrors.DatabaseError{Operation: "create_session", Err: errors.New("no free join code")}
}

// GetSession reads the session with its game, ordered questions, answers, participants
// and submissions in one read-only transaction.
func (s *SessionStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.
			Preload("Game.Questions", func(db *gorm.DB) *gorm.DB {
				return db.Order("question_index ASC")
			}).
			Preload("Game.Questions.Answers", func(db *gorm.DB) *gorm.DB {
				return db.Order("id ASC")
			}).
			Preload("Participants", func(db *gorm.DB) *gorm.DB {
				return db.Order("score DESC, created_at ASC")
			}).
			Preload("Submissions", func(db *gorm.DB) *gorm.DB {
				return db.Order("id ASC")
			}).
			First(&session, id).Error
	}, snapshotOptions(s.db)...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qerrors.NotFoundError{Resource: "session", ID: strconv.FormatUint(uint64(id), 10)}
	}
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "get_session", Err: err}
	}
	return &session, nil
}

// GetSessionByCode resolves a join code to a session snapshot.
func (s *SessionStore) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	var row models.Session
	err := s.db.WithContext(ctx).Select("id").Where("code = ?", strings.TrimSpace(code)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qerrors.NotFoundError{Resource: "session", ID: code}
	}
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "get_session_by_code", Err: err}
	}
	return s.GetSession(ctx, row.ID)
}

func (s *SessionStore) ListSessions(ctx context.Context, hostID uint) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Preload("Game").
		Preload("Participants").
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "list_sessions", Err: err}
	}
	return sessions, nil
}

// GetGame reads a game with its ordered questions and answers.
func (s *SessionStore) GetGame(ctx context.Context, id uint) (*models.Game, error) {
	var game models.Game
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_index ASC")
		}).
		Preload("Questions.Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&game, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qerrors.NotFoundError{Resource: "game", ID: strconv.FormatUint(uint64(id), 10)}
	}
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "get_game", Err: err}
	}
	return &game, nil
}

// UpdateSessionStatus moves the session to status if its version still equals
// expectedVersion. It returns the new version.
func (s *SessionStore) UpdateSessionStatus(ctx context.Context, id uint, expectedVersion int, status string) (int, error) {
	updates := map[string]any{
		"status":  status,
		"version": gorm.Expr("version + 1"),
	}
	now := time.Now()
	switch status {
	case models.SessionStatusStarted:
		updates["started_at"] = now
	case models.SessionStatusEnded:
		updates["ended_at"] = now
	}
	return s.compareAndSet(ctx, "update_session_status", id, expectedVersion, updates)
}

// UpdateSessionData replaces session_data if the version still equals expectedVersion.
func (s *SessionStore) UpdateSessionData(ctx context.Context, id uint, expectedVersion int, data models.SessionData) (int, error) {
	if data.CompletedQuestions == nil {
		data.CompletedQuestions = []uint{}
	}
	updates := map[string]any{
		"session_data": datatypes.NewJSONType(data),
		"version":      gorm.Expr("version + 1"),
	}
	return s.compareAndSet(ctx, "update_session_data", id, expectedVersion, updates)
}

func (s *SessionStore) compareAndSet(ctx context.Context, op string, id uint, expectedVersion int, updates map[string]any) (int, error) {
	var row models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Session{}).
			Where("id = ? AND version = ? AND status <> ?", id, expectedVersion, models.SessionStatusEnded).
			Updates(updates)
		if res.Error != nil {
			return qerrors.DatabaseError{Operation: op, Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return classifyMissedWrite(tx, id, expectedVersion, op)
		}
		if err := tx.First(&row, id).Error; err != nil {
			return qerrors.DatabaseError{Operation: op, Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notify(ctx, sessionChange(&row))
	return row.Version, nil
}

// classifyMissedWrite explains why a compare-and-set touched no row.
func classifyMissedWrite(tx *gorm.DB, id uint, expectedVersion int, op string) error {
	var current models.Session
	err := tx.Select("id", "status", "version").First(&current, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return qerrors.NotFoundError{Resource: "session", ID: strconv.FormatUint(uint64(id), 10)}
	}
	if err != nil {
		return qerrors.DatabaseError{Operation: op, Err: err}
	}
	if current.Status == models.SessionStatusEnded {
		return qerrors.TerminalStateError{SessionID: id, Action: op}
	}
	return qerrors.ConcurrentModificationError{SessionID: id, ExpectedVersion: expectedVersion}
}

// UpsertParticipant creates the participant or, when the id is already known in this
// session, updates the nickname. It reports whether a row was inserted.
func (s *SessionStore) UpsertParticipant(ctx context.Context, id, nickname string, sessionID uint) (*models.Participant, bool, error) {
	var (
		p       models.Participant
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status, err := lockSessionStatus(tx, sessionID, "join")
		if err != nil {
			return err
		}
		if status == models.SessionStatusEnded {
			return qerrors.TerminalStateError{SessionID: sessionID, Action: "join"}
		}

		// A concurrent join with the same id commits first or loses here; either
		// way the loser falls through to the update path.
		p = models.Participant{ID: id, SessionID: sessionID, Nickname: nickname, Version: 1}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&p)
		if res.Error != nil {
			return qerrors.DatabaseError{Operation: "upsert_participant", Err: res.Error}
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}

		p = models.Participant{}
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return qerrors.DatabaseError{Operation: "upsert_participant", Err: err}
		}
		if p.SessionID != sessionID {
			return qerrors.ValidationError{Field: "participant_id", Message: "already joined another session"}
		}
		if p.Nickname == nickname {
			return nil
		}
		err = tx.Model(&models.Participant{}).
			Where("id = ?", id).
			Updates(map[string]any{"nickname": nickname, "version": gorm.Expr("version + 1")}).Error
		if err != nil {
			return qerrors.DatabaseError{Operation: "upsert_participant", Err: err}
		}
		p.Nickname = nickname
		p.Version++
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	op := OpUpdate
	if created {
		op = OpInsert
	}
	s.notify(ctx, participantChange(op, &p))
	return &p, created, nil
}

// InsertParticipantAnswer appends a submission. A second answer for the same
// (participant, question) fails with DuplicateSubmissionError.
func (s *SessionStore) InsertParticipantAnswer(ctx context.Context, answer *models.ParticipantAnswer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireStarted(tx, answer.SessionID, "submit_answer"); err != nil {
			return err
		}
		return insertAnswer(tx, answer)
	})
}

// AddToScore atomically increments the participant's score and returns the new total.
func (s *SessionStore) AddToScore(ctx context.Context, participantID string, delta int) (int, error) {
	var p models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = addToScore(tx, participantID, delta)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.notify(ctx, participantChange(OpUpdate, &p))
	return p.Score, nil
}

// RecordSubmission inserts the answer and applies its score delta in one transaction,
// so a duplicate never reaches the score.
func (s *SessionStore) RecordSubmission(ctx context.Context, answer *models.ParticipantAnswer) (*models.Participant, error) {
	var p models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireStarted(tx, answer.SessionID, "submit_answer"); err != nil {
			return err
		}
		if err := insertAnswer(tx, answer); err != nil {
			return err
		}
		var err error
		p, err = addToScore(tx, answer.ParticipantID, answer.Score)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, participantChange(OpUpdate, &p))
	return &p, nil
}

func insertAnswer(tx *gorm.DB, answer *models.ParticipantAnswer) error {
	var count int64
	err := tx.Model(&models.ParticipantAnswer{}).
		Where("participant_id = ? AND question_id = ?", answer.ParticipantID, answer.QuestionID).
		Count(&count).Error
	if err != nil {
		return qerrors.DatabaseError{Operation: "insert_participant_answer", Err: err}
	}
	if count > 0 {
		return qerrors.DuplicateSubmissionError{ParticipantID: answer.ParticipantID, QuestionID: answer.QuestionID}
	}

	err = tx.Create(answer).Error
	if isUniqueViolation(err) {
		return qerrors.DuplicateSubmissionError{ParticipantID: answer.ParticipantID, QuestionID: answer.QuestionID}
	}
	if err != nil {
		return qerrors.DatabaseError{Operation: "insert_participant_answer", Err: err}
	}
	return nil
}

func addToScore(tx *gorm.DB, participantID string, delta int) (models.Participant, error) {
	var p models.Participant
	res := tx.Model(&models.Participant{}).
		Where("id = ?", participantID).
		Updates(map[string]any{
			"score":   gorm.Expr("score + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return p, qerrors.DatabaseError{Operation: "add_to_score", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return p, qerrors.NotFoundError{Resource: "participant", ID: participantID}
	}
	if err := tx.First(&p, "id = ?", participantID).Error; err != nil {
		return p, qerrors.DatabaseError{Operation: "add_to_score", Err: err}
	}
	return p, nil
}

// lockSessionStatus reads the session status under a share lock on postgres so
// a concurrent end() is ordered before or after the caller's writes.
func lockSessionStatus(tx *gorm.DB, sessionID uint, op string) (string, error) {
	q := tx.Model(&models.Session{}).Select("id", "status")
	if database.IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var row models.Session
	err := q.First(&row, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", qerrors.NotFoundError{Resource: "session", ID: strconv.FormatUint(uint64(sessionID), 10)}
	}
	if err != nil {
		return "", qerrors.DatabaseError{Operation: op, Err: err}
	}
	return row.Status, nil
}

func requireStarted(tx *gorm.DB, sessionID uint, op string) error {
	status, err := lockSessionStatus(tx, sessionID, op)
	if err != nil {
		return err
	}
	switch status {
	case models.SessionStatusStarted:
		return nil
	case models.SessionStatusEnded:
		return qerrors.TerminalStateError{SessionID: sessionID, Action: op}
	default:
		return qerrors.InvalidTransitionError{From: status, Action: op, Reason: "no question is open"}
	}
}

func snapshotOptions(db *gorm.DB) []*sql.TxOptions {
	if !database.IsPostgres(db) {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func sessionChange(row *models.Session) Change {
	return Change{
		Table:     TableSessions,
		Op:        OpUpdate,
		SessionID: row.ID,
		RowKey:    "session:" + strconv.FormatUint(uint64(row.ID), 10),
		Seq:       int64(row.Version),
		Row:       *row,
	}
}

func participantChange(op string, p *models.Participant) Change {
	row := *p
	row.Answers = nil
	return Change{
		Table:     TableParticipants,
		Op:        op,
		SessionID: p.SessionID,
		RowKey:    "participant:" + p.ID,
		Seq:       int64(p.Version),
		Row:       row,
	}
}
