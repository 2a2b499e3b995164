package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFrame(100)
		m.RecordUtterance(true, time.Second)
		m.RecordTurn("fallback")
		m.RecordTransmission("speech")
		m.RecordIdleExchange()
		m.RecordEngineCall("llm", time.Now(), errors.New("x"))
		m.RecordRestart()
	})
}

func TestRecordings(t *testing.T) {
	m := NewMetrics()
	m.RecordFrame(900)
	m.RecordFrame(1200)
	m.RecordUtterance(true, 2*time.Second)
	m.RecordUtterance(false, 0)
	m.RecordEngineCall("stt", time.Now(), errors.New("down"))
	m.RecordRestart()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesProcessed))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.InputLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Utterances.WithLabelValues("sealed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Utterances.WithLabelValues("discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineErrors.WithLabelValues("stt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restarts))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("addressing")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dispatcher_turns_total{rule="addressing"} 1`))
}
