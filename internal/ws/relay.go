package ws

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"quiz-session-backend/internal/config"
	qerrors "quiz-session-backend/internal/errors"
)

const relayDialTimeout = 5 * time.Second

func NewValkeyClient(cfg config.ValkeyConfig) (valkey.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("valkey addr is empty")
	}
	opts := valkey.ClientOption{
		InitAddress:  []string{addr},
		Password:     cfg.Password,
		DisableCache: true,
	}
	opts.Dialer.Timeout = relayDialTimeout

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, qerrors.RelayError{Operation: "connect", Err: err}
	}
	return client, nil
}

// ValkeyRelay shares session channels between server instances over valkey pub/sub.
// Each session maps to the channel <prefix><session id>.
type ValkeyRelay struct {
	client valkey.Client
	prefix string
	logger *slog.Logger
}

func NewValkeyRelay(client valkey.Client, prefix string, logger *slog.Logger) *ValkeyRelay {
	return &ValkeyRelay{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "relay")),
	}
}

func (r *ValkeyRelay) Channel(sessionID uint) string {
	return r.prefix + strconv.FormatUint(uint64(sessionID), 10)
}

func (r *ValkeyRelay) Publish(ctx context.Context, msg WSMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return qerrors.RelayError{Operation: "encode", Err: err}
	}
	cmd := r.client.B().Publish().Channel(r.Channel(msg.SessionID)).Message(string(payload)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return qerrors.RelayError{Operation: "publish", Err: err}
	}
	return nil
}

// Run delivers messages published by other instances to hub until ctx is cancelled.
func (r *ValkeyRelay) Run(ctx context.Context, hub *Hub) error {
	r.logger.Info("relay_started", slog.String("pattern", r.prefix+"*"))
	err := r.client.Receive(ctx, r.client.B().Psubscribe().Pattern(r.prefix+"*").Build(), func(m valkey.PubSubMessage) {
		r.handle(hub, m.Message)
	})
	if ctx.Err() != nil {
		r.logger.Info("relay_stopped")
		return nil
	}
	if err != nil {
		return qerrors.RelayError{Operation: "receive", Err: err}
	}
	return nil
}

func (r *ValkeyRelay) handle(hub *Hub, payload string) {
	var msg WSMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("relay_frame_invalid", slog.Any("err", err))
		return
	}
	hub.DeliverRemote(msg)
}
