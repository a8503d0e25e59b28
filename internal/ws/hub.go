package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"quiz-session-backend/internal/metrics"
)

// Broadcast events carried on a session channel.
const (
	EventStarted         = "started"
	EventQuestionChange  = "question_change"
	EventQuestionDisplay = "question_display"
	EventQuestionTimeout = "question_timeout"
	EventLeaderboard     = "leaderboard"
	EventEnded           = "ended"
	EventSubmitAnswer    = "submit_answer"

	// Direct replies to one connection, never fanned out.
	EventAnswerResult = "answer_result"
	EventError        = "error"
)

type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindChange    Kind = "change"
)

// WSMessage is the frame delivered to subscribers. Change notifications carry the
// row key and sequence used to keep per-row order.
type WSMessage struct {
	Kind      Kind            `json:"kind"`
	Type      string          `json:"type"`
	SessionID uint            `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	RowKey    string          `json:"row_key,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// Relay forwards locally published messages to other server instances.
type Relay interface {
	Publish(ctx context.Context, msg WSMessage) error
}

// Hub fans messages out to the subscribers of each session channel. Delivery is
// best effort: a subscriber whose buffer is full misses the message.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uint]*channel

	bufferSize int
	instanceID string
	relay      Relay
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type channel struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	lastSeq map[string]int64
}

func NewHub(bufferSize int, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		sessions:   make(map[uint]*channel),
		bufferSize: bufferSize,
		instanceID: uuid.NewString(),
		logger:     logger.With(slog.String("component", "hub")),
		metrics:    m,
	}
}

// SetRelay must be called before the hub is shared.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Subscription is one consumer of a session channel. Messages published before
// Subscribe returned are never delivered to it.
type Subscription struct {
	SessionID uint

	ch        chan WSMessage
	hub       *Hub
	closeOnce sync.Once
}

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan WSMessage {
	return s.ch
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
}

func (h *Hub) Subscribe(sessionID uint) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		ch:        make(chan WSMessage, h.bufferSize),
		hub:       h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.sessions[sessionID]
	if !ok {
		c = &channel{
			subs:    make(map[*Subscription]struct{}),
			lastSeq: make(map[string]int64),
		}
		h.sessions[sessionID] = c
	}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	total := len(c.subs)
	c.mu.Unlock()

	h.metrics.Subscribers.Inc()
	h.logger.Debug("subscribed", slog.Uint64("session_id", uint64(sessionID)), slog.Int("total", total))
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.sessions[sub.SessionID]
	if !ok {
		return
	}
	c.mu.Lock()
	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.ch)
		h.metrics.Subscribers.Dec()
	}
	empty := len(c.subs) == 0
	c.mu.Unlock()

	if empty {
		delete(h.sessions, sub.SessionID)
	}
	h.logger.Debug("unsubscribed", slog.Uint64("session_id", uint64(sub.SessionID)))
}

// Subscribers returns the number of open subscriptions on a session channel.
func (h *Hub) Subscribers(sessionID uint) int {
	h.mu.RLock()
	c, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// PublishBroadcast sends an ephemeral event to every subscriber of the session.
func (h *Hub) PublishBroadcast(ctx context.Context, sessionID uint, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.Publish(ctx, WSMessage{Kind: KindBroadcast, Type: event, SessionID: sessionID, Data: data})
	return nil
}

// PublishChange relays a committed row change. seq must grow per rowKey.
func (h *Hub) PublishChange(ctx context.Context, sessionID uint, changeType, rowKey string, seq int64, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	h.Publish(ctx, WSMessage{
		Kind:      KindChange,
		Type:      changeType,
		SessionID: sessionID,
		Data:      data,
		RowKey:    rowKey,
		Seq:       seq,
	})
	return nil
}

// Publish delivers msg locally and hands it to the relay. Relay failures are
// logged and not retried.
func (h *Hub) Publish(ctx context.Context, msg WSMessage) {
	msg.Origin = h.instanceID
	h.deliver(msg)

	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, msg); err != nil {
		h.metrics.Dropped.WithLabelValues("relay").Inc()
		h.logger.Warn("relay_publish_failed",
			slog.Uint64("session_id", uint64(msg.SessionID)),
			slog.String("type", msg.Type),
			slog.Any("err", err),
		)
	}
}

// DeliverRemote hands a message received from another instance to local subscribers.
func (h *Hub) DeliverRemote(msg WSMessage) {
	if msg.Origin == h.instanceID {
		return
	}
	h.deliver(msg)
}

func (h *Hub) deliver(msg WSMessage) {
	h.mu.RLock()
	c, ok := h.sessions[msg.SessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Kind == KindChange && msg.RowKey != "" {
		if last, seen := c.lastSeq[msg.RowKey]; seen && msg.Seq < last {
			h.metrics.Dropped.WithLabelValues("stale_change").Inc()
			return
		}
		c.lastSeq[msg.RowKey] = msg.Seq
	}

	h.metrics.Broadcasts.WithLabelValues(string(msg.Kind), msg.Type).Inc()
	for sub := range c.subs {
		select {
		case sub.ch <- msg:
		default:
			h.metrics.Dropped.WithLabelValues("slow_subscriber").Inc()
			h.logger.Warn("subscriber_buffer_full",
				slog.Uint64("session_id", uint64(msg.SessionID)),
				slog.String("type", msg.Type),
			)
		}
	}
}
