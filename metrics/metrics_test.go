package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAgentCall(t *testing.T) {
	m := New()
	m.ObserveAgentCall("reason", "ok", 3*time.Second)
	m.ObserveAgentCall("reason", "ok", 7*time.Second)
	m.ObserveAgentCall("validate", "timeout", time.Minute)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AgentCalls.WithLabelValues("reason", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AgentCalls.WithLabelValues("validate", "timeout")))
}

func TestCountersAreIndependentPerInstance(t *testing.T) {
	a, b := New(), New()
	a.TasksPlanned.Add(6)
	assert.Equal(t, float64(6), testutil.ToFloat64(a.TasksPlanned))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.TasksPlanned))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Validations.WithLabelValues("vulnerability").Inc()
	m.FindingsSplit.Add(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `flowaudit_validations_total{status="vulnerability"} 1`)
	assert.Contains(t, string(body), "flowaudit_findings_split_total 4")
}

func TestServeStopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0", nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func TestServeRejectsBadAddr(t *testing.T) {
	m := New()
	err := m.Serve(context.Background(), "256.256.256.256:1", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listen"))
}
