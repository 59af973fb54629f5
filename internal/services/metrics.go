package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// AI request metrics
	AIRequests       *prometheus.CounterVec
	AIRequestLatency *prometheus.HistogramVec
	AIErrors         *prometheus.CounterVec
	AITokens         *prometheus.CounterVec

	// Streams that ended before the provider's completion sentinel
	StreamsIncomplete prometheus.Counter

	UsageTrackFailures prometheus.Counter
	LimitRejections    prometheus.Counter

	MigrationsApplied *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	JobRuns           *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics registers the metrics once per process and returns them
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_ai_requests_total",
				Help: "Total number of AI requests by feature, model and mode",
			}, []string{"feature", "model", "mode"}), // mode: "stream" or "blocking"

			AIRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "daybook_ai_request_duration_seconds",
				Help:    "AI request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"feature", "mode"}),

			AIErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_ai_errors_total",
				Help: "Total number of AI errors by feature and type",
			}, []string{"feature", "error_type"}),

			AITokens: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_ai_tokens_total",
				Help: "Estimated tokens by feature and direction",
			}, []string{"feature", "direction"}), // direction: "request", "response"

			StreamsIncomplete: promauto.NewCounter(prometheus.CounterOpts{
				Name: "daybook_ai_streams_incomplete_total",
				Help: "Streams that ended without a completion sentinel",
			}),

			UsageTrackFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "daybook_usage_track_failures_total",
				Help: "Usage events that could not be delivered",
			}),

			LimitRejections: promauto.NewCounter(prometheus.CounterOpts{
				Name: "daybook_ai_limit_rejections_total",
				Help: "AI requests rejected by the free tier daily limit",
			}),

			MigrationsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_migrations_applied_total",
				Help: "Per-user data migrations applied",
			}, []string{"migration"}),

			WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_webhook_events_total",
				Help: "Payment webhook events by type and outcome",
			}, []string{"type", "outcome"}),

			JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "daybook_job_runs_total",
				Help: "Background job runs by job and outcome",
			}, []string{"job", "outcome"}),
		}
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return InitMetrics()
}

// RecordAIRequest records one AI call
func (m *Metrics) RecordAIRequest(feature, model string, streaming bool, seconds float64) {
	mode := "blocking"
	if streaming {
		mode = "stream"
	}
	m.AIRequests.WithLabelValues(feature, model, mode).Inc()
	m.AIRequestLatency.WithLabelValues(feature, mode).Observe(seconds)
}

// RecordAIError records a failed AI call
func (m *Metrics) RecordAIError(feature, errorType string) {
	m.AIErrors.WithLabelValues(feature, errorType).Inc()
}

// RecordTokens records estimated token usage
func (m *Metrics) RecordTokens(feature string, requestTokens, responseTokens int) {
	m.AITokens.WithLabelValues(feature, "request").Add(float64(requestTokens))
	m.AITokens.WithLabelValues(feature, "response").Add(float64(responseTokens))
}

// RecordJobRun records a background job outcome
func (m *Metrics) RecordJobRun(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
}
