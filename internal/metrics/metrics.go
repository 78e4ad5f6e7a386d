// Package metrics exposes Prometheus instrumentation for the curator.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "curator"

// Judge call and batch post outcomes.
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"

	OutcomeSkippedSelf     = "skipped_self"
	OutcomeSkippedExisting = "skipped_existing"
)

// Metrics holds the curator's collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	judgeCalls    *prometheus.CounterVec
	judgeRetries  prometheus.Counter
	judgeDuration *prometheus.HistogramVec
	batchPosts    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		judgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_calls_total",
			Help:      "Judge invocations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		judgeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_retries_total",
			Help:      "Oracle calls retried after a rate-limit signal.",
		}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_call_duration_seconds",
			Help:      "Wall time of judge invocations including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"kind"}),
		batchPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_posts_total",
			Help:      "Posts seen by batch runs by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.judgeCalls,
		m.judgeRetries,
		m.judgeDuration,
		m.batchPosts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JudgeCall records one judge invocation.
func (m *Metrics) JudgeCall(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.judgeCalls.WithLabelValues(kind, outcome).Inc()
	m.judgeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// JudgeRetry records one backoff before a retried oracle call.
func (m *Metrics) JudgeRetry() {
	if m == nil {
		return
	}
	m.judgeRetries.Inc()
}

// BatchPost records the fate of one post in a batch run.
func (m *Metrics) BatchPost(outcome string) {
	if m == nil {
		return
	}
	m.batchPosts.WithLabelValues(outcome).Inc()
}
