package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/middleware"
	"quiz-session-backend/internal/models"
)

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

type MessageResponse struct {
	Message string `json:"message" example:"operation successful"`
}

// Type aliases so swag can resolve models in annotations.
type Game = models.Game
type Question = models.Question
type Session = models.Session
type Participant = models.Participant

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	var (
		notFound   qerrors.NotFoundError
		invalid    qerrors.InvalidTransitionError
		terminal   qerrors.TerminalStateError
		conflict   qerrors.ConcurrentModificationError
		duplicate  qerrors.DuplicateSubmissionError
		validation qerrors.ValidationError
		denied     qerrors.AccessDeniedError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusConflict
	case errors.As(err, &terminal):
		return http.StatusGone
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &duplicate):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &denied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError records err on the context for the request logger and writes the JSON body.
// Server errors are not echoed to the client.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func hostID(c *gin.Context) uint {
	return middleware.HostID(c)
}
