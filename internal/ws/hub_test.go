package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-backend/internal/logging"
	"quiz-session-backend/internal/metrics"
)

func newTestHub(buffer int) (*Hub, *metrics.Metrics) {
	m := metrics.New()
	return NewHub(buffer, m, logging.Discard()), m
}

func receive(t *testing.T, sub *Subscription) WSMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return WSMessage{}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message %+v", msg)
	default:
	}
}

func TestBroadcastFansOutPerSession(t *testing.T) {
	hub, _ := newTestHub(8)
	ctx := context.Background()

	a := hub.Subscribe(1)
	b := hub.Subscribe(1)
	other := hub.Subscribe(2)
	defer a.Close()
	defer b.Close()
	defer other.Close()

	require.NoError(t, hub.PublishBroadcast(ctx, 1, EventQuestionChange, map[string]any{"question": map[string]int{"id": 10}}))

	for _, sub := range []*Subscription{a, b} {
		msg := receive(t, sub)
		assert.Equal(t, KindBroadcast, msg.Kind)
		assert.Equal(t, EventQuestionChange, msg.Type)
		assert.JSONEq(t, `{"question":{"id":10}}`, string(msg.Data))
		assert.Equal(t, hub.InstanceID(), msg.Origin)
	}
	assertEmpty(t, other)
}

func TestLateSubscriberMissesEarlierBroadcast(t *testing.T) {
	hub, _ := newTestHub(8)
	ctx := context.Background()

	early := hub.Subscribe(1)
	defer early.Close()
	require.NoError(t, hub.PublishBroadcast(ctx, 1, EventQuestionChange, nil))

	late := hub.Subscribe(1)
	defer late.Close()

	receive(t, early)
	assertEmpty(t, late)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub, m := newTestHub(1)
	ctx := context.Background()

	slow := hub.Subscribe(1)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for range 5 {
			_ = hub.PublishBroadcast(ctx, 1, EventLeaderboard, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Dropped.WithLabelValues("slow_subscriber")))
	receive(t, slow)
}

func TestChangeNotificationsKeepPerRowOrder(t *testing.T) {
	hub, m := newTestHub(8)
	ctx := context.Background()
	sub := hub.Subscribe(1)
	defer sub.Close()

	require.NoError(t, hub.PublishChange(ctx, 1, "sessions.update", "session:1", 3, map[string]int{"version": 3}))
	require.NoError(t, hub.PublishChange(ctx, 1, "sessions.update", "session:1", 2, map[string]int{"version": 2}))
	require.NoError(t, hub.PublishChange(ctx, 1, "participants.insert", "participant:p1", 0, map[string]string{"id": "p1"}))
	require.NoError(t, hub.PublishChange(ctx, 1, "participants.update", "participant:p1", 0, map[string]string{"id": "p1"}))

	first := receive(t, sub)
	assert.Equal(t, int64(3), first.Seq)
	assert.Equal(t, "participants.insert", receive(t, sub).Type)
	assert.Equal(t, "participants.update", receive(t, sub).Type)
	assertEmpty(t, sub)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("stale_change")))
}

func TestCloseIsIdempotentAndClosesChannel(t *testing.T) {
	hub, _ := newTestHub(8)
	sub := hub.Subscribe(5)
	assert.Equal(t, 1, hub.Subscribers(5))

	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(5))

	require.NoError(t, hub.PublishBroadcast(context.Background(), 5, EventEnded, nil))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	hub, _ := newTestHub(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		sub := hub.Subscribe(1)
		go func() {
			defer wg.Done()
			_ = hub.PublishBroadcast(ctx, 1, EventSubmitAnswer, map[string]int{"n": i})
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers(1))
}

type recordingRelay struct {
	mu   sync.Mutex
	msgs []WSMessage
	err  error
}

func (r *recordingRelay) Publish(_ context.Context, msg WSMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestRelayReceivesLocalPublishes(t *testing.T) {
	hub, m := newTestHub(8)
	relay := &recordingRelay{}
	hub.SetRelay(relay)

	require.NoError(t, hub.PublishBroadcast(context.Background(), 9, EventStarted, nil))
	require.Len(t, relay.msgs, 1)
	assert.Equal(t, uint(9), relay.msgs[0].SessionID)

	relay.err = errors.New("down")
	require.NoError(t, hub.PublishBroadcast(context.Background(), 9, EventEnded, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("relay")))
}

func TestDeliverRemoteSkipsOwnMessages(t *testing.T) {
	hub, _ := newTestHub(8)
	sub := hub.Subscribe(3)
	defer sub.Close()

	data, _ := json.Marshal(map[string]bool{"is_show_leaderboard": true})
	hub.DeliverRemote(WSMessage{Kind: KindBroadcast, Type: EventLeaderboard, SessionID: 3, Data: data, Origin: hub.InstanceID()})
	assertEmpty(t, sub)

	hub.DeliverRemote(WSMessage{Kind: KindBroadcast, Type: EventLeaderboard, SessionID: 3, Data: data, Origin: "other"})
	assert.Equal(t, EventLeaderboard, receive(t, sub).Type)
}
