// Package telemetry implements C9: the Prometheus counters, histograms
// and gauges every other component reports into, registered on the
// registry C8 serves at /api/metrics. Every method is nil-receiver-safe
// so a component holding an unset *Metrics can call it unconditionally
// rather than branching on whether telemetry was wired.
package telemetry

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Makar0n1/art-automation/internal/queue"
)

// Metrics holds the collectors for one process (API or worker). Both
// roles register their own Metrics on their own registry; the sets
// overlap only in the shared stage/job counters a job can touch from
// either role during a resume.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec

	jobsTotal    *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobRetries   prometheus.Counter
	providerTokens *prometheus.CounterVec

	queueWaiting   prometheus.Gauge
	queueActive    prometheus.Gauge
	queueCompleted prometheus.Gauge
	queueFailed    prometheus.Gauge
}

// New registers every collector on reg and returns the handle. reg is
// typically the same *prometheus.Registry threaded through server.Deps.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artforge_http_requests_total",
			Help: "HTTP requests served, by method, route and status class.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artforge_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage execution time in seconds, by stage name.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artforge_pipeline_stage_errors_total",
			Help: "Pipeline stage failures, by stage name.",
		}, []string{"stage"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artforge_jobs_total",
			Help: "Generation jobs processed to a terminal outcome, by outcome.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artforge_job_duration_seconds",
			Help:    "End-to-end time from dequeue to terminal outcome, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artforge_job_retries_total",
			Help: "Job re-enqueues after a stage failure.",
		}),
		providerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artforge_provider_tokens_total",
			Help: "LLM tokens consumed, by provider and token kind.",
		}, []string{"provider", "kind"}),
		queueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artforge_queue_waiting",
			Help: "Jobs published but not yet claimed by a worker.",
		}),
		queueActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artforge_queue_active",
			Help: "Jobs claimed by a worker and not yet acknowledged.",
		}),
		queueCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artforge_queue_completed",
			Help: "Jobs that reached the completed status.",
		}),
		queueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artforge_queue_failed",
			Help: "Jobs that reached the failed status.",
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.stageDuration, m.stageErrors,
		m.jobsTotal, m.jobDuration, m.jobRetries, m.providerTokens,
		m.queueWaiting, m.queueActive, m.queueCompleted, m.queueFailed,
	)
	return m
}

// ObserveStage satisfies pipeline.Metrics.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveJob records one job reaching a terminal outcome.
func (m *Metrics) ObserveJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// IncRetry records one job re-enqueue after a stage failure.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.jobRetries.Inc()
}

// ObserveTokens records LLM token consumption for one job's run.
func (m *Metrics) ObserveTokens(provider string, prompt, completion int) {
	if m == nil {
		return
	}
	m.providerTokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	m.providerTokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

// SetQueueDepth mirrors the latest queue.Stats snapshot into gauges, so
// queue depth is visible on the metrics endpoint as well as the
// generations/queue/stats HTTP route.
func (m *Metrics) SetQueueDepth(s queue.Stats) {
	if m == nil {
		return
	}
	m.queueWaiting.Set(float64(s.Waiting))
	m.queueActive.Set(float64(s.Active))
	m.queueCompleted.Set(float64(s.Completed))
	m.queueFailed.Set(float64(s.Failed))
}

// HTTPMiddleware times every request and counts it by status class,
// grouped by the echo route pattern rather than the raw path so that
// per-id routes (/api/generations/:id) don't fragment into one series
// per id.
func (m *Metrics) HTTPMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			started := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := statusClass(c.Response().Status)
			m.httpRequests.WithLabelValues(c.Request().Method, path, status).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(started).Seconds())
			return err
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
