package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/services"
)

type SessionHandler struct {
	sessionService *services.SessionService
}

func NewSessionHandler(sessionService *services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type CreateSessionRequest struct {
	GameID uint `json:"game_id" binding:"required" example:"1"`
}

type QuestionRequest struct {
	QuestionID uint `json:"question_id" binding:"required" example:"3"`
}

// CreateSession godoc
// @Summary      Create a session
// @Description  Open a pending session on one of the host's games and generate a join code
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateSessionRequest true "Session data"
// @Success      201 {object} Session
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), req.GameID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions godoc
// @Summary      List host sessions
// @Description  Get all sessions created by the authenticated host, newest first
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} services.SessionSummary
// @Router       /api/v1/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListSessions(c.Request.Context(), hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession godoc
// @Summary      Get a session
// @Description  Full snapshot: game, questions, participants and submissions
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} Session
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Start godoc
// @Summary      Start a session
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} Session
// @Failure      409 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	h.transition(c, h.sessionService.Start)
}

// Advance godoc
// @Summary      Open a question
// @Description  Make the question current, start its countdown and broadcast question_change
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body QuestionRequest true "Question to open"
// @Success      200 {object} Session
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/advance [post]
func (h *SessionHandler) Advance(c *gin.Context) {
	h.questionTransition(c, h.sessionService.Advance)
}

// Next godoc
// @Summary      Open the next question
// @Description  Open the first unopened question after the current index
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} Session
// @Failure      409 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/next [post]
func (h *SessionHandler) Next(c *gin.Context) {
	h.transition(c, h.sessionService.Next)
}

// Display godoc
// @Summary      Show a completed question again
// @Description  Broadcast question_display for an already opened question; nothing is persisted
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body QuestionRequest true "Question to display"
// @Success      200 {object} Session
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/display [post]
func (h *SessionHandler) Display(c *gin.Context) {
	h.questionTransition(c, h.sessionService.Display)
}

// RevealLeaderboard godoc
// @Summary      Show the leaderboard
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} Session
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/leaderboard [post]
func (h *SessionHandler) RevealLeaderboard(c *gin.Context) {
	h.transition(c, h.sessionService.RevealLeaderboard)
}

// End godoc
// @Summary      End a session
// @Description  Move the session to ended; every later write fails with 410
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} Session
// @Failure      409 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	h.transition(c, h.sessionService.End)
}

// GetLeaderboard godoc
// @Summary      Get leaderboard
// @Description  Participants sorted by score, then by join time
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {array} services.LeaderboardEntry
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/leaderboard [get]
func (h *SessionHandler) GetLeaderboard(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	entries, err := h.sessionService.GetLeaderboard(c.Request.Context(), sessionID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetResults godoc
// @Summary      Review answers
// @Description  Per participant answers with awarded score, ordered by question index
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {array} services.ParticipantResult
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/results [get]
func (h *SessionHandler) GetResults(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	results, err := h.sessionService.GetResults(c.Request.Context(), sessionID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type transitionFunc func(ctx context.Context, sessionID, hostID uint) (*models.Session, error)

type questionTransitionFunc func(ctx context.Context, sessionID, hostID, questionID uint) (*models.Session, error)

func (h *SessionHandler) transition(c *gin.Context, fn transitionFunc) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := fn(c.Request.Context(), sessionID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) questionTransition(c *gin.Context, fn questionTransitionFunc) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := fn(c.Request.Context(), sessionID, hostID(c), req.QuestionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
