package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-session-backend/internal/services"
)

// PlayHandler serves participants. Participants are identified by their
// client-generated id, not by a token.
type PlayHandler struct {
	sessionService *services.SessionService
}

func NewPlayHandler(sessionService *services.SessionService) *PlayHandler {
	return &PlayHandler{sessionService: sessionService}
}

type PlayJoinRequest struct {
	ParticipantID string `json:"participant_id" binding:"max=64" example:"6f1c2a9e-3b5d-4c1e-9a77-2f0d8b7c4e11"`
	Nickname      string `json:"nickname" binding:"required,min=1,max=100" example:"ana"`
}

// GetByCode godoc
// @Summary      Look up a session by join code
// @Tags         play
// @Produce      json
// @Param        code path string true "Join code"
// @Success      200 {object} services.ParticipantState
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/play/codes/{code} [get]
func (h *PlayHandler) GetByCode(c *gin.Context) {
	state, err := h.sessionService.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Join godoc
// @Summary      Join a session
// @Description  Register with a join code. Rejoining with the same participant_id keeps the score.
// @Tags         play
// @Accept       json
// @Produce      json
// @Param        code path string true "Join code"
// @Param        request body PlayJoinRequest true "Participant"
// @Success      200 {object} services.JoinResult
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/play/codes/{code}/join [post]
func (h *PlayHandler) Join(c *gin.Context) {
	var req PlayJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.sessionService.Join(c.Request.Context(), c.Param("code"), req.ParticipantID, req.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitAnswer godoc
// @Summary      Submit an answer
// @Description  Score and record one answer per participant and question
// @Tags         play
// @Accept       json
// @Produce      json
// @Param        id path int true "Session ID"
// @Param        request body services.SubmitAnswerInput true "Answer"
// @Success      201 {object} services.SubmissionResult
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      410 {object} ErrorResponse
// @Router       /api/v1/play/sessions/{id}/answers [post]
func (h *PlayHandler) SubmitAnswer(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.SubmitAnswerInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.sessionService.SubmitAnswer(c.Request.Context(), sessionID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetState godoc
// @Summary      Resync participant state
// @Description  Current question, remaining time and standings for a reconnecting participant
// @Tags         play
// @Produce      json
// @Param        id path int true "Session ID"
// @Param        p_id query string false "Participant ID"
// @Success      200 {object} services.ParticipantState
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/play/sessions/{id}/state [get]
func (h *PlayHandler) GetState(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	state, err := h.sessionService.GetParticipantState(c.Request.Context(), sessionID, c.Query("p_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
