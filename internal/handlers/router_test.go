package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-backend/internal/config"
	"quiz-session-backend/internal/logging"
	"quiz-session-backend/internal/metrics"
	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/repository"
	"quiz-session-backend/internal/services"
	"quiz-session-backend/internal/testutil"
	"quiz-session-backend/internal/ws"
)

type testServer struct {
	router *gin.Engine
	hub    *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	m := metrics.New()
	logger := logging.Discard()
	store := repository.NewSessionStore(db)
	hub := ws.NewHub(64, m, logger)
	store.OnChange(services.RelayChanges(hub, logger))

	sessions := services.NewSessionService(store, hub, services.NewScoringService(), m, logger, services.SessionOptions{
		MaxRetries:        5,
		TimeLeftTolerance: 2 * time.Second,
	})
	t.Cleanup(sessions.Shutdown)

	router := NewRouter(Deps{
		Auth:     services.NewAuthService(db, "test-secret"),
		Games:    services.NewGameService(db),
		Sessions: sessions,
		Hub:      hub,
		Metrics:  m,
		Logger:   logger,
		Server:   config.ServerConfig{CORSOrigins: []string{"*"}},
		Runtime:  config.RuntimeConfig{WSMessagesPerSecond: 100, WSBurst: 100},
		Health: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	return &testServer{router: router, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", CredentialsRequest{Username: username, Password: "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[AuthResponse](t, w).Token
}

// seedSession creates a game with one multiple choice question (time 30) and a pending session.
func (s *testServer) seedSession(t *testing.T, token string) (models.Session, models.Question) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/games", token, GameRequest{Title: "Capitals"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	game := decode[models.Game](t, w)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/games/%d/questions", game.ID), token, services.QuestionInput{
		Type: models.QuestionTypeMultipleChoice,
		Text: "Capital of France?",
		Time: 30,
		Answers: []services.AnswerInput{
			{Text: "Paris", IsCorrect: true},
			{Text: "Lyon"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	question := decode[models.Question](t, w)

	w = s.do(t, http.MethodPost, "/api/v1/sessions", token, CreateSessionRequest{GameID: game.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Session](t, w), question
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHostRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/games", "/api/v1/sessions"} {
		w := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestLoginWithWrongPasswordIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "host1")

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", "", CredentialsRequest{Username: "host1", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", CredentialsRequest{Username: "host1", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	auth := decode[AuthResponse](t, w)
	assert.NotEmpty(t, auth.Token)
	assert.Equal(t, "host1", auth.Host.Username)
	assert.NotZero(t, auth.Host.ID)
	assert.True(t, auth.ExpiresAt.After(time.Now()))

	w = s.do(t, http.MethodGet, "/api/v1/auth/me", auth.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, auth.Host.ID, decode[HostProfile](t, w).ID)

	w = s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "host1")
	session, question := s.seedSession(t, token)
	base := fmt.Sprintf("/api/v1/sessions/%d", session.ID)

	w := s.do(t, http.MethodGet, "/api/v1/play/codes/"+session.Code, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionStatusPending, decode[services.ParticipantState](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/play/codes/"+session.Code+"/join", "", PlayJoinRequest{ParticipantID: "p-1", Nickname: "ana"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, base+"/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, base+"/start", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/advance", token, QuestionRequest{QuestionID: question.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, base+"/advance", token, QuestionRequest{QuestionID: question.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	answer := services.SubmitAnswerInput{
		ParticipantID: "p-1",
		QuestionID:    question.ID,
		AnswerData:    json.RawMessage(fmt.Sprintf(`{"answer_id":%d}`, question.Answers[0].ID)),
		TimeLeft:      15,
	}
	answersPath := fmt.Sprintf("/api/v1/play/sessions/%d/answers", session.ID)
	w = s.do(t, http.MethodPost, answersPath, "", answer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[services.SubmissionResult](t, w)
	assert.Equal(t, 50, result.Score)

	w = s.do(t, http.MethodPost, answersPath, "", answer)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, base+"/leaderboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[[]services.LeaderboardEntry](t, w)
	require.Len(t, board, 1)
	assert.Equal(t, 50, board[0].Score)

	w = s.do(t, http.MethodPost, base+"/end", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, base+"/next", token, nil)
	assert.Equal(t, http.StatusGone, w.Code)
	answer.ParticipantID = "p-2"
	w = s.do(t, http.MethodPost, answersPath, "", answer)
	assert.Equal(t, http.StatusGone, w.Code)

	w = s.do(t, http.MethodGet, base+"/results", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	results := decode[[]services.ParticipantResult](t, w)
	require.Len(t, results, 1)
	require.Len(t, results[0].Answers, 1)
	assert.Equal(t, question.ID, results[0].Answers[0].QuestionID)
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "host1")
	other := s.register(t, "host2")
	session, _ := s.seedSession(t, token)

	w := s.do(t, http.MethodGet, "/api/v1/play/codes/000000", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "not found")

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/start", session.ID), other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/end", session.ID), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/sessions/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/play/codes/"+session.Code+"/join", "", map[string]string{"nickname": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketReceivesQuestionAndAnswersInline(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "host1")
	session, question := s.seedSession(t, token)

	w := s.do(t, http.MethodPost, "/api/v1/play/codes/"+session.Code+"/join", "", PlayJoinRequest{ParticipantID: "p-1", Nickname: "ana"})
	require.Equal(t, http.StatusOK, w.Code)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/ws/sessions/%d", session.ID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers(session.ID) == 1 }, time.Second, 10*time.Millisecond)

	base := fmt.Sprintf("/api/v1/sessions/%d", session.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/start", token, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/advance", token, QuestionRequest{QuestionID: question.ID}).Code)

	readUntil := func(event string) ws.WSMessage {
		t.Helper()
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			var msg ws.WSMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Type == event {
				return msg
			}
		}
	}
	readUntil(ws.EventQuestionChange)

	submit, err := json.Marshal(services.SubmitAnswerInput{
		ParticipantID: "p-1",
		QuestionID:    question.ID,
		AnswerData:    json.RawMessage(fmt.Sprintf(`{"answer_id":%d}`, question.Answers[0].ID)),
		TimeLeft:      30,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.Inbound{Type: ws.EventSubmitAnswer, Data: submit}))

	reply := readUntil(ws.EventAnswerResult)
	var result services.SubmissionResult
	require.NoError(t, json.Unmarshal(reply.Data, &result))
	assert.Equal(t, 100, result.Score)

	require.NoError(t, conn.WriteJSON(ws.Inbound{Type: ws.EventStarted}))
	errFrame := readUntil(ws.EventError)
	assert.Contains(t, string(errFrame.Data), "unsupported event")
}

func TestWebSocketUnknownSessionIsNotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/ws/sessions/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
