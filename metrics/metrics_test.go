package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeMetrics_Observe(t *testing.T) {
	reg := NewRegistry()
	m := NewBridgeMetrics(reg)

	m.ObserveEnvelope()
	m.ObservePair("ok")
	m.ObservePair("ok")
	m.ObservePair("no_response")
	m.ObserveCommand("start", "ok")
	m.SetSuspended(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Envelopes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PairOutcomes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PairOutcomes.WithLabelValues("no_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("start", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SuspendedDevices))

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "bridge_envelopes_total 1"))
}

func TestBridgeMetrics_NilSafe(t *testing.T) {
	var m *BridgeMetrics
	assert.NotPanics(t, func() {
		m.ObserveEnvelope()
		m.ObservePair("ok")
		m.ObserveBlock("engine")
		m.ObserveCommand("stop", "error")
		m.ObserveRestorePoll("ok")
		m.ObserveBridgePoll("ok")
		m.SetSuspended(1)
	})
}
