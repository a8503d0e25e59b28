package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"quiz-session-backend/internal/services"
	"quiz-session-backend/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	sessionService *services.SessionService
	limit          rate.Limit
	burst          int
	logger         *slog.Logger
}

func NewWSHandler(hub *ws.Hub, sessionService *services.SessionService, messagesPerSecond float64, burst int, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:            hub,
		sessionService: sessionService,
		limit:          rate.Limit(messagesPerSecond),
		burst:          burst,
		logger:         logger.With("component", "ws"),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errUnsupportedEvent = errors.New("unsupported event")

// HandleWebSocket godoc
// @Summary      WebSocket connection for a session channel
// @Description  Receive broadcasts and change notifications for the session. The only frame a
// @Description  connection may send is {"type":"submit_answer","data":{...}}.
// @Tags         websocket
// @Param        id path int true "Session ID"
// @Failure      404 {object} ErrorResponse
// @Router       /ws/sessions/{id} [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.sessionService.GetParticipantState(c.Request.Context(), sessionID, ""); err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", "session_id", sessionID, "err", err)
		return
	}

	client := ws.NewClient(conn, h.hub.Subscribe(sessionID), rate.NewLimiter(h.limit, h.burst), h.logger)
	client.Run(c.Request.Context(), h.handleInbound)
}

func (h *WSHandler) handleInbound(ctx context.Context, client *ws.Client, in ws.Inbound) (*ws.WSMessage, error) {
	if in.Type != ws.EventSubmitAnswer {
		return nil, errUnsupportedEvent
	}

	var input services.SubmitAnswerInput
	if err := json.Unmarshal(in.Data, &input); err != nil {
		return nil, errors.New("malformed submit_answer")
	}

	result, err := h.sessionService.SubmitAnswer(ctx, client.SessionID(), input)
	if err != nil {
		if StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("ws_submit_failed", "session_id", client.SessionID(), "err", err)
			return nil, errors.New("internal server error")
		}
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ws.WSMessage{
		Kind:      ws.KindBroadcast,
		Type:      ws.EventAnswerResult,
		SessionID: client.SessionID(),
		Data:      data,
	}, nil
}
