package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorCounters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.EvaluationDone("play")
	m.EvaluationDone("play")
	m.EvaluationDone("none")
	m.CommandDone("play", true)
	m.CommandDone("stop", false)
	m.RefreshFailed()
	m.SwitchedBack()
	m.EventBlocked()
	m.EventBlocked()
	m.BridgesLive(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.evaluations.WithLabelValues("play")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.evaluations.WithLabelValues("none")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.commands.WithLabelValues("play", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.commands.WithLabelValues("stop", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.refreshFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.switchBacks))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.blockedEvents))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.bridges))
}

func TestStreamGauges(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.StreamOpened("castbridge_kitchen")
	m.StreamOpened("castbridge_kitchen")
	m.StreamClosed("castbridge_kitchen", 4096)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.streamClients.WithLabelValues("castbridge_kitchen")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.streamBytes.WithLabelValues("castbridge_kitchen")))
}

func TestHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.BridgesLive(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "castbridge_bridges 1")
	assert.Contains(t, string(body), "go_goroutines")
}
