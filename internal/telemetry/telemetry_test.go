package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/internal/queue"
)

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveStage("writing", time.Second, nil)
		m.ObserveJob("completed", time.Second)
		m.IncRetry()
		m.ObserveTokens("openrouter", 10, 20)
		m.SetQueueDepth(queue.Stats{})
	})
}

func TestNilMetricsHTTPMiddlewarePassesThrough(t *testing.T) {
	var m *Metrics
	called := false
	handler := m.HTTPMiddleware()(func(c echo.Context) error {
		called = true
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.True(t, called)
}

func TestObserveStageIncrementsErrorCounterOnFailure(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveStage("writing", 2*time.Second, errors.New("boom"))

	var metric dto.Metric
	require.NoError(t, m.stageErrors.WithLabelValues("writing").Write(&metric))
	require.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestStatusClassBucketsByHundreds(t *testing.T) {
	require.Equal(t, "2xx", statusClass(200))
	require.Equal(t, "3xx", statusClass(301))
	require.Equal(t, "4xx", statusClass(404))
	require.Equal(t, "5xx", statusClass(500))
}
