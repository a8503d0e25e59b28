package services

import (
	"sync"
	"time"

	"quiz-session-backend/internal/metrics"
)

// ExpireFunc is called once when a question's time runs out.
type ExpireFunc func(sessionID, questionID uint)

// Countdown arms one timer per session for the open question. It only signals
// expiry; submissions are never rejected because of it.
type Countdown struct {
	mu       sync.Mutex
	timers   map[uint]*questionTimer
	onExpire ExpireFunc
	metrics  *metrics.Metrics
}

type questionTimer struct {
	questionID uint
	timer      *time.Timer
}

func NewCountdown(m *metrics.Metrics, onExpire ExpireFunc) *Countdown {
	return &Countdown{
		timers:   make(map[uint]*questionTimer),
		onExpire: onExpire,
		metrics:  m,
	}
}

// Start arms the countdown for questionID, replacing any running one for the session.
func (c *Countdown) Start(sessionID, questionID uint, limit time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.timers[sessionID]; ok {
		prev.timer.Stop()
		c.metrics.ActiveTimers.Dec()
	}

	qt := &questionTimer{questionID: questionID}
	qt.timer = time.AfterFunc(limit, func() {
		c.expire(sessionID, qt)
	})
	c.timers[sessionID] = qt
	c.metrics.ActiveTimers.Inc()
}

// Stop cancels the session's countdown without signalling expiry.
func (c *Countdown) Stop(sessionID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if qt, ok := c.timers[sessionID]; ok {
		qt.timer.Stop()
		delete(c.timers, sessionID)
		c.metrics.ActiveTimers.Dec()
	}
}

// StopAll cancels every countdown.
func (c *Countdown) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, qt := range c.timers {
		qt.timer.Stop()
		delete(c.timers, id)
		c.metrics.ActiveTimers.Dec()
	}
}

// Active returns the number of armed countdowns.
func (c *Countdown) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Countdown) expire(sessionID uint, qt *questionTimer) {
	c.mu.Lock()
	current, ok := c.timers[sessionID]
	if !ok || current != qt {
		c.mu.Unlock()
		return
	}
	delete(c.timers, sessionID)
	c.metrics.ActiveTimers.Dec()
	c.mu.Unlock()

	if c.onExpire != nil {
		c.onExpire(sessionID, qt.questionID)
	}
}

// TimeLeft is the server-side estimate of the seconds remaining on a question that
// started at startedAt with a limit of total seconds. It never goes below zero.
func TimeLeft(startedAt time.Time, total int, now time.Time) float64 {
	left := float64(total) - now.Sub(startedAt).Seconds()
	if left < 0 {
		return 0
	}
	return left
}
