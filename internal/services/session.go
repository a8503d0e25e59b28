package services

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/metrics"
	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/repository"
	"quiz-session-backend/internal/ws"
)

const maxNicknameLength = 100

// SessionStore is the persistence the runtime needs. *repository.SessionStore implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, gameID, hostID uint) (*models.Session, error)
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	ListSessions(ctx context.Context, hostID uint) ([]models.Session, error)
	GetGame(ctx context.Context, id uint) (*models.Game, error)
	UpdateSessionStatus(ctx context.Context, id uint, expectedVersion int, status string) (int, error)
	UpdateSessionData(ctx context.Context, id uint, expectedVersion int, data models.SessionData) (int, error)
	UpsertParticipant(ctx context.Context, id, nickname string, sessionID uint) (*models.Participant, bool, error)
	RecordSubmission(ctx context.Context, answer *models.ParticipantAnswer) (*models.Participant, error)
}

// Broadcaster publishes ephemeral events on a session channel.
type Broadcaster interface {
	PublishBroadcast(ctx context.Context, sessionID uint, event string, payload any) error
}

type SessionOptions struct {
	MaxRetries        int
	TimeLeftTolerance time.Duration
}

// SessionService runs live sessions. It holds no per-session state besides the advisory
// countdowns: each call re-reads the store, plans with the state machine and writes with CAS.
type SessionService struct {
	store     SessionStore
	hub       Broadcaster
	scoring   *ScoringService
	countdown *Countdown
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      SessionOptions
	now       func() time.Time
}

func NewSessionService(store SessionStore, hub Broadcaster, scoring *ScoringService, m *metrics.Metrics, logger *slog.Logger, opts SessionOptions) *SessionService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	s := &SessionService{
		store:   store,
		hub:     hub,
		scoring: scoring,
		metrics: m,
		logger:  logger.With("component", "session"),
		opts:    opts,
		now:     time.Now,
	}
	s.countdown = NewCountdown(m, s.questionExpired)
	return s
}

// Shutdown stops every armed countdown.
func (s *SessionService) Shutdown() {
	s.countdown.StopAll()
}

// RelayChanges forwards committed store writes to the hub as change notifications.
func RelayChanges(hub *ws.Hub, logger *slog.Logger) repository.ChangeListener {
	return func(ctx context.Context, c repository.Change) {
		changeType := c.Table + "." + strings.ToLower(c.Op)
		if err := hub.PublishChange(ctx, c.SessionID, changeType, c.RowKey, c.Seq, c.Row); err != nil {
			logger.Warn("change_publish_failed", "session_id", c.SessionID, "row", c.RowKey, "err", err)
		}
	}
}

type SessionSummary struct {
	ID               uint       `json:"id"`
	Code             string     `json:"code"`
	GameID           uint       `json:"game_id"`
	GameTitle        string     `json:"game_title"`
	Status           string     `json:"status"`
	ParticipantCount int        `json:"participant_count"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

type LeaderboardEntry struct {
	Position      int    `json:"position"`
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
}

type AnswerReview struct {
	QuestionID    uint                `json:"question_id"`
	QuestionIndex int                 `json:"question_index"`
	QuestionText  string              `json:"question_text"`
	AnswerType    models.QuestionType `json:"answer_type"`
	Content       datatypes.JSON      `json:"content"`
	TimeLeft      float64             `json:"time_left"`
	Score         int                 `json:"score"`
}

type ParticipantResult struct {
	LeaderboardEntry
	Answers []AnswerReview `json:"answers"`
}

type JoinResult struct {
	Participant *models.Participant `json:"participant"`
	Rejoined    bool                `json:"rejoined"`
	State       *ParticipantState   `json:"state"`
}

// ParticipantState is the full-state fetch a participant client resyncs from.
type ParticipantState struct {
	SessionID       uint                `json:"session_id"`
	Code            string              `json:"code"`
	GameTitle       string              `json:"game_title"`
	Status          string              `json:"status"`
	Data            models.SessionData  `json:"session_data"`
	TotalQuestions  int                 `json:"total_questions"`
	CurrentQuestion *models.Question    `json:"current_question,omitempty"`
	TimeLeft        *float64            `json:"time_left,omitempty"`
	Participant     *models.Participant `json:"participant,omitempty"`
	AnsweredCurrent bool                `json:"answered_current"`
	Leaderboard     []LeaderboardEntry  `json:"leaderboard"`
}

type SubmitAnswerInput struct {
	ParticipantID string              `json:"p_id"`
	QuestionID    uint                `json:"question_id"`
	AnswerType    models.QuestionType `json:"answer_type"`
	AnswerData    json.RawMessage     `json:"answer_data"`
	TimeLeft      float64             `json:"time_left"`
}

type SubmissionResult struct {
	ParticipantID string `json:"p_id"`
	QuestionID    uint   `json:"question_id"`
	Score         int    `json:"score"`
	TotalScore    int    `json:"total_score"`
}

// CreateSession opens a pending session on one of the host's games.
func (s *SessionService) CreateSession(ctx context.Context, gameID, hostID uint) (*models.Session, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.HostID != hostID {
		return nil, qerrors.NotFoundError{Resource: "game", ID: strconv.FormatUint(uint64(gameID), 10)}
	}
	if err := ValidateQuestionOrder(game.Questions); err != nil {
		return nil, err
	}
	for _, q := range game.Questions {
		if q.Time <= 0 {
			return nil, qerrors.ValidationError{Field: "time", Message: "question " + strconv.Itoa(q.Index) + " has no time limit"}
		}
	}

	created, err := s.store.CreateSession(ctx, gameID, hostID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session_created", "session_id", created.ID, "code", created.Code, "game_id", gameID)
	return s.store.GetSession(ctx, created.ID)
}

// GetSession returns the host view of a session.
func (s *SessionService) GetSession(ctx context.Context, id, hostID uint) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(session, hostID); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSessionByCode resolves a join code to the participant lobby view.
func (s *SessionService) GetSessionByCode(ctx context.Context, code string) (*ParticipantState, error) {
	session, err := s.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.participantState(session, ""), nil
}

func (s *SessionService) ListSessions(ctx context.Context, hostID uint) ([]SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx, hostID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			ID:               sess.ID,
			Code:             sess.Code,
			GameID:           sess.GameID,
			GameTitle:        sess.Game.Title,
			Status:           sess.Status,
			ParticipantCount: len(sess.Participants),
			CreatedAt:        sess.CreatedAt,
			StartedAt:        sess.StartedAt,
			EndedAt:          sess.EndedAt,
		})
	}
	return out, nil
}

func (s *SessionService) Start(ctx context.Context, sessionID, hostID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionStart, 0)
}

// Advance opens questionID. Opening an already completed question is rejected.
func (s *SessionService) Advance(ctx context.Context, sessionID, hostID, questionID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionAdvance, questionID)
}

// Next opens the first unopened question after the current index.
func (s *SessionService) Next(ctx context.Context, sessionID, hostID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionNext, 0)
}

// Display re-shows a completed question without reopening it.
func (s *SessionService) Display(ctx context.Context, sessionID, hostID, questionID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionDisplay, questionID)
}

func (s *SessionService) RevealLeaderboard(ctx context.Context, sessionID, hostID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionRevealLeaderboard, 0)
}

func (s *SessionService) End(ctx context.Context, sessionID, hostID uint) (*models.Session, error) {
	return s.apply(ctx, sessionID, hostID, ActionEnd, 0)
}

// apply runs one host action: read, plan, compare-and-set, publish. A lost CAS race
// is retried from a fresh read; every other error stops immediately.
func (s *SessionService) apply(ctx context.Context, sessionID, hostID uint, action Action, questionID uint) (*models.Session, error) {
	var (
		session *models.Session
		tr      Transition
	)
	attempt := func() error {
		var err error
		session, err = s.store.GetSession(ctx, sessionID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := Authorize(session, hostID); err != nil {
			return backoff.Permanent(err)
		}
		tr, err = PlanTransition(session, action, questionID, s.now())
		if err != nil {
			return backoff.Permanent(err)
		}

		if !tr.Persists() {
			return nil
		}
		version := session.Version
		if tr.StatusChanged {
			version, err = s.store.UpdateSessionStatus(ctx, sessionID, version, tr.Status)
		} else {
			version, err = s.store.UpdateSessionData(ctx, sessionID, version, *tr.Data)
		}
		if err != nil {
			if qerrors.IsConcurrentModification(err) {
				s.logger.Debug("session_cas_retry", "session_id", sessionID, "action", action)
				return err
			}
			return backoff.Permanent(err)
		}

		session.Version = version
		session.Status = tr.Status
		if tr.Data != nil {
			session.Data = datatypes.NewJSONType(*tr.Data)
		}
		return nil
	}

	err := backoff.Retry(attempt, s.retryPolicy(ctx))
	s.metrics.Transitions.WithLabelValues(string(action), metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, session, tr)
	return session, nil
}

func (s *SessionService) retryPolicy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.MaxInterval = 250 * time.Millisecond
	exp.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxRetries)), ctx)
}

// afterTransition runs the side effects of a committed transition. Broadcast failures
// are logged and never undo the write.
func (s *SessionService) afterTransition(ctx context.Context, session *models.Session, tr Transition) {
	var payload any
	switch tr.Action {
	case ActionStart:
		payload = map[string]any{"session_id": session.ID, "status": session.Status}
	case ActionAdvance, ActionNext:
		s.countdown.Start(session.ID, tr.Question.ID, time.Duration(tr.Question.Time)*time.Second)
		payload = map[string]any{
			"question":            tr.Question,
			"question_started_at": tr.Data.QuestionStartedAt,
		}
	case ActionDisplay:
		payload = map[string]any{"question": tr.Question}
	case ActionRevealLeaderboard:
		payload = map[string]any{
			"is_show_leaderboard": true,
			"leaderboard":         leaderboard(session.Participants),
		}
	case ActionEnd:
		s.countdown.Stop(session.ID)
		payload = map[string]any{"session_id": session.ID, "status": session.Status}
	}

	if err := s.hub.PublishBroadcast(ctx, session.ID, tr.Event, payload); err != nil {
		s.logger.Warn("broadcast_failed", "session_id", session.ID, "event", tr.Event, "err", err)
	}
	s.logger.Info("session_transition", "session_id", session.ID, "action", tr.Action, "status", session.Status, "version", session.Version)
}

func (s *SessionService) questionExpired(sessionID, questionID uint) {
	payload := map[string]uint{"question_id": questionID}
	if err := s.hub.PublishBroadcast(context.Background(), sessionID, ws.EventQuestionTimeout, payload); err != nil {
		s.logger.Warn("timeout_broadcast_failed", "session_id", sessionID, "question_id", questionID, "err", err)
	}
}

// Join registers a participant by join code. An empty participantID gets a fresh id;
// a known id in the same session keeps its score and takes the new nickname.
func (s *SessionService) Join(ctx context.Context, code, participantID, nickname string) (*JoinResult, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, qerrors.ValidationError{Field: "nickname", Message: "is required"}
	}
	if len([]rune(nickname)) > maxNicknameLength {
		return nil, qerrors.ValidationError{Field: "nickname", Message: "is too long"}
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		participantID = uuid.NewString()
	}
	if len(participantID) > 64 {
		return nil, qerrors.ValidationError{Field: "participant_id", Message: "is too long"}
	}

	session, err := s.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	p, created, err := s.store.UpsertParticipant(ctx, participantID, nickname, session.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("participant_joined", "session_id", session.ID, "participant_id", p.ID, "rejoin", !created)

	fresh, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{
		Participant: p,
		Rejoined:    !created,
		State:       s.participantState(fresh, p.ID),
	}, nil
}

// GetParticipantState is the resync read for a participant client.
func (s *SessionService) GetParticipantState(ctx context.Context, sessionID uint, participantID string) (*ParticipantState, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if participantID != "" {
		if _, ok := session.Participant(participantID); !ok {
			return nil, qerrors.NotFoundError{Resource: "participant", ID: participantID}
		}
	}
	return s.participantState(session, participantID), nil
}

func (s *SessionService) participantState(session *models.Session, participantID string) *ParticipantState {
	data := session.State()
	state := &ParticipantState{
		SessionID:      session.ID,
		Code:           session.Code,
		GameTitle:      session.Game.Title,
		Status:         session.Status,
		Data:           data,
		TotalQuestions: len(session.Game.Questions),
		Leaderboard:    leaderboard(session.Participants),
	}
	if session.Status == models.SessionStatusStarted && data.CurrentQuestion != nil {
		if q, ok := session.Game.QuestionByID(*data.CurrentQuestion); ok {
			state.CurrentQuestion = q
			if data.QuestionStartedAt != nil {
				left := TimeLeft(*data.QuestionStartedAt, q.Time, s.now())
				state.TimeLeft = &left
			}
		}
	}
	if p, ok := session.Participant(participantID); ok {
		state.Participant = p
		if data.CurrentQuestion != nil {
			state.AnsweredCurrent = slices.ContainsFunc(session.Submissions, func(a models.ParticipantAnswer) bool {
				return a.ParticipantID == p.ID && a.QuestionID == *data.CurrentQuestion
			})
		}
	}
	return state
}

// SubmitAnswer scores and records one answer. The second submission for the same
// question fails with DuplicateSubmissionError and leaves the score untouched.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID uint, in SubmitAnswerInput) (*SubmissionResult, error) {
	result, answerType, err := s.submit(ctx, sessionID, in)
	s.metrics.Submissions.WithLabelValues(string(answerType), metrics.Result(err)).Inc()
	return result, err
}

func (s *SessionService) submit(ctx context.Context, sessionID uint, in SubmitAnswerInput) (*SubmissionResult, models.QuestionType, error) {
	answerType := in.AnswerType
	if math.IsNaN(in.TimeLeft) || math.IsInf(in.TimeLeft, 0) {
		return nil, answerType, qerrors.ValidationError{Field: "time_left", Message: "must be a finite number"}
	}
	if in.ParticipantID == "" {
		return nil, answerType, qerrors.ValidationError{Field: "p_id", Message: "is required"}
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, answerType, err
	}
	switch session.Status {
	case models.SessionStatusEnded:
		return nil, answerType, qerrors.TerminalStateError{SessionID: sessionID, Action: "submit_answer"}
	case models.SessionStatusPending:
		return nil, answerType, qerrors.InvalidTransitionError{From: session.Status, Action: "submit_answer", Reason: "no question is open"}
	}
	if _, ok := session.Participant(in.ParticipantID); !ok {
		return nil, answerType, qerrors.NotFoundError{Resource: "participant", ID: in.ParticipantID}
	}
	q, ok := session.Game.QuestionByID(in.QuestionID)
	if !ok {
		return nil, answerType, qerrors.NotFoundError{Resource: "question", ID: strconv.FormatUint(uint64(in.QuestionID), 10)}
	}
	if !completedSet(session).Contains(q.ID) {
		return nil, answerType, qerrors.InvalidTransitionError{From: session.Status, Action: "submit_answer", Reason: "question has not been opened"}
	}
	if answerType == "" {
		answerType = q.Type
	}

	sub, err := DecodeSubmission(answerType, in.AnswerData)
	if err != nil {
		return nil, answerType, err
	}
	timeLeft := max(in.TimeLeft, 0)
	score, err := s.scoring.Score(q, sub, timeLeft)
	if err != nil {
		return nil, answerType, err
	}
	s.checkDrift(session, q, in.ParticipantID, timeLeft)

	content, err := json.Marshal(sub)
	if err != nil {
		return nil, answerType, qerrors.ValidationError{Field: "answer_data", Message: err.Error()}
	}
	p, err := s.store.RecordSubmission(ctx, &models.ParticipantAnswer{
		SessionID:     sessionID,
		ParticipantID: in.ParticipantID,
		QuestionID:    q.ID,
		AnswerType:    answerType,
		Content:       datatypes.JSON(content),
		TimeLeft:      timeLeft,
		Score:         score,
	})
	if err != nil {
		return nil, answerType, err
	}

	event := map[string]any{
		"p_id":        in.ParticipantID,
		"question_id": q.ID,
		"answer_type": answerType,
		"answer_data": json.RawMessage(content),
		"time_left":   timeLeft,
		"score":       score,
	}
	if err := s.hub.PublishBroadcast(ctx, sessionID, ws.EventSubmitAnswer, event); err != nil {
		s.logger.Warn("broadcast_failed", "session_id", sessionID, "event", ws.EventSubmitAnswer, "err", err)
	}

	s.logger.Debug("answer_recorded", "session_id", sessionID, "participant_id", p.ID, "question_id", q.ID, "score", score)
	return &SubmissionResult{
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		Score:         score,
		TotalScore:    p.Score,
	}, answerType, nil
}

// checkDrift flags a reported time_left that the persisted question start cannot explain.
// The reported value is still the one scored.
func (s *SessionService) checkDrift(session *models.Session, q *models.Question, participantID string, reported float64) {
	data := session.State()
	if data.CurrentQuestion == nil || *data.CurrentQuestion != q.ID || data.QuestionStartedAt == nil {
		return
	}
	expected := TimeLeft(*data.QuestionStartedAt, q.Time, s.now())
	if reported <= expected+s.opts.TimeLeftTolerance.Seconds() {
		return
	}
	s.metrics.TimeLeftDrift.Inc()
	s.logger.Warn("time_left_drift",
		"session_id", session.ID,
		"participant_id", participantID,
		"question_id", q.ID,
		"reported", reported,
		"expected", expected,
	)
}

func (s *SessionService) GetLeaderboard(ctx context.Context, sessionID, hostID uint) ([]LeaderboardEntry, error) {
	session, err := s.GetSession(ctx, sessionID, hostID)
	if err != nil {
		return nil, err
	}
	return leaderboard(session.Participants), nil
}

// GetResults lists every participant in leaderboard order with their answers by question index.
func (s *SessionService) GetResults(ctx context.Context, sessionID, hostID uint) ([]ParticipantResult, error) {
	session, err := s.GetSession(ctx, sessionID, hostID)
	if err != nil {
		return nil, err
	}

	byParticipant := make(map[string][]AnswerReview, len(session.Participants))
	for _, a := range session.Submissions {
		review := AnswerReview{
			QuestionID: a.QuestionID,
			AnswerType: a.AnswerType,
			Content:    a.Content,
			TimeLeft:   a.TimeLeft,
			Score:      a.Score,
		}
		if q, ok := session.Game.QuestionByID(a.QuestionID); ok {
			review.QuestionIndex = q.Index
			review.QuestionText = q.Text
		}
		byParticipant[a.ParticipantID] = append(byParticipant[a.ParticipantID], review)
	}

	board := leaderboard(session.Participants)
	results := make([]ParticipantResult, 0, len(board))
	for _, entry := range board {
		answers := byParticipant[entry.ParticipantID]
		slices.SortFunc(answers, func(a, b AnswerReview) int { return a.QuestionIndex - b.QuestionIndex })
		if answers == nil {
			answers = []AnswerReview{}
		}
		results = append(results, ParticipantResult{LeaderboardEntry: entry, Answers: answers})
	}
	return results, nil
}

// leaderboard orders by score descending, then by join time.
func leaderboard(participants []models.Participant) []LeaderboardEntry {
	sorted := slices.Clone(participants)
	slices.SortStableFunc(sorted, func(a, b models.Participant) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	entries := make([]LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, LeaderboardEntry{
			Position:      i + 1,
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
		})
	}
	return entries
}
