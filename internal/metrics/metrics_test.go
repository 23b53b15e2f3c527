package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	m.RunFinished("done", "")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
	m.RunFinished("decode", "decode_error")
	m.RunFinished("decode", "decode_error")
	m.TradeOutcome("skipped", "low_confidence")
	m.Orphaned()
	m.Warning("round_number_level")
	m.ObserveStage("recommend", 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("done", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Runs.WithLabelValues("decode", "decode_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeOutcomes.WithLabelValues("skipped", "low_confidence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orphans))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("done", "")
		m.TradeOutcome("placed", "")
		m.Orphaned()
		m.Warning("x")
		m.ObserveStage("x", time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Orphaned()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "signaldesk_pipeline_orphaned_records_total 1")
}
