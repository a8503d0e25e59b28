package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	qerrors "quiz-session-backend/internal/errors"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "rejected", Result(qerrors.DuplicateSubmissionError{ParticipantID: "p", QuestionID: 1}))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Broadcasts.WithLabelValues("broadcast", "question_change").Inc()
	m.TimeLeftDrift.Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues("broadcast", "question_change")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TimeLeftDrift))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quiz_hub_messages_total")
	assert.Contains(t, rec.Body.String(), "quiz_time_left_drift_total 2")
}
