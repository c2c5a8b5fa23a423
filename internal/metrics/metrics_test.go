package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kebairia/backupd/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Emit(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	at := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)

	c.Emit(orchestrator.Event{Kind: orchestrator.EventUploadFailed, Attempt: 1})
	c.Emit(orchestrator.Event{Kind: orchestrator.EventRunFailed, Attempt: 1, Duration: time.Second})
	c.Emit(orchestrator.Event{Kind: orchestrator.EventRetryScheduled, Attempt: 1})
	c.Emit(orchestrator.Event{Kind: orchestrator.EventRunSucceeded, Attempt: 2, Time: at, Duration: 3 * time.Second})
	c.Emit(orchestrator.Event{Kind: orchestrator.EventNotifyFailed, Attempt: 2})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("1", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("2", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("upload")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("dump")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifyFails))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(c.lastSuccess))
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Emit(orchestrator.Event{Kind: orchestrator.EventTickDropped})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "backupd_ticks_dropped_total 1")
}
