package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-session-backend/internal/services"
)

type GameHandler struct {
	gameService *services.GameService
}

func NewGameHandler(gameService *services.GameService) *GameHandler {
	return &GameHandler{gameService: gameService}
}

type GameRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=255" example:"World capitals"`
	Description string `json:"description" example:"Warm-up round"`
}

type UpdateTimeRequest struct {
	Time int `json:"time" binding:"required" example:"30"`
}

type MoveQuestionRequest struct {
	Direction string `json:"direction" binding:"required,oneof=up down" example:"up"`
}

// ListGames godoc
// @Summary      List games
// @Description  Get all games authored by the authenticated host
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} Game
// @Failure      401 {object} ErrorResponse
// @Router       /api/v1/games [get]
func (h *GameHandler) ListGames(c *gin.Context) {
	games, err := h.gameService.ListGames(c.Request.Context(), hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, games)
}

// CreateGame godoc
// @Summary      Create a game
// @Tags         games
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body GameRequest true "Game data"
// @Success      201 {object} Game
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/games [post]
func (h *GameHandler) CreateGame(c *gin.Context) {
	var req GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	game, err := h.gameService.CreateGame(c.Request.Context(), hostID(c), services.GameInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, game)
}

// GetGame godoc
// @Summary      Get a game
// @Description  Get a game with its questions in index order
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Game ID"
// @Success      200 {object} Game
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/games/{id} [get]
func (h *GameHandler) GetGame(c *gin.Context) {
	gameID, ok := parseID(c, "id")
	if !ok {
		return
	}
	game, err := h.gameService.GetGame(c.Request.Context(), gameID, hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, game)
}

// UpdateGame godoc
// @Summary      Update a game
// @Tags         games
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Game ID"
// @Param        request body GameRequest true "Game data"
// @Success      200 {object} Game
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/games/{id} [put]
func (h *GameHandler) UpdateGame(c *gin.Context) {
	gameID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	game, err := h.gameService.UpdateGame(c.Request.Context(), gameID, hostID(c), services.GameInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, game)
}

// DeleteGame godoc
// @Summary      Delete a game
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Game ID"
// @Success      200 {object} MessageResponse
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/games/{id} [delete]
func (h *GameHandler) DeleteGame(c *gin.Context) {
	gameID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.gameService.DeleteGame(c.Request.Context(), gameID, hostID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "game deleted"})
}

// AddQuestion godoc
// @Summary      Add a question
// @Description  Append a question to the game; it takes the next free index
// @Tags         questions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Game ID"
// @Param        request body services.QuestionInput true "Question data"
// @Success      201 {object} Question
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/games/{id}/questions [post]
func (h *GameHandler) AddQuestion(c *gin.Context) {
	gameID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	question, err := h.gameService.AddQuestion(c.Request.Context(), gameID, hostID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

// UpdateQuestionTime godoc
// @Summary      Change a question time limit
// @Tags         questions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Question ID"
// @Param        request body UpdateTimeRequest true "Time limit in seconds"
// @Success      200 {object} Question
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/questions/{id}/time [put]
func (h *GameHandler) UpdateQuestionTime(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	question, err := h.gameService.UpdateQuestionTime(c.Request.Context(), questionID, hostID(c), req.Time)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

// MoveQuestion godoc
// @Summary      Move a question up or down
// @Tags         questions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Question ID"
// @Param        request body MoveQuestionRequest true "Direction"
// @Success      200 {object} Game
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/questions/{id}/move [post]
func (h *GameHandler) MoveQuestion(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req MoveQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	game, err := h.gameService.MoveQuestion(c.Request.Context(), questionID, hostID(c), req.Direction)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, game)
}

// DeleteQuestion godoc
// @Summary      Delete a question
// @Description  Remove a question and shift the following ones up
// @Tags         questions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Question ID"
// @Success      200 {object} MessageResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/questions/{id} [delete]
func (h *GameHandler) DeleteQuestion(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.gameService.DeleteQuestion(c.Request.Context(), questionID, hostID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "question deleted"})
}
