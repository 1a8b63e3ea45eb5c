package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	ChatOutcomes      *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec
	UpstreamAttempts  *prometheus.CounterVec
	UpstreamLatency   prometheus.Histogram
	SummaryJobs       *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	LoginAttempts     *prometheus.CounterVec
	ActiveSockets     prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		ChatOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_outcomes_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_stage_latency_ms",
			Help:      "Latency of each chat request stage in milliseconds.",
			Buckets:   []float64{1, 5, 20, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000},
		}, []string{"stage"}),
		UpstreamAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Completion attempts by result.",
		}, []string{"result"}),
		UpstreamLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ms",
			Help:      "Latency of a single completion attempt in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		SummaryJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_jobs_total",
			Help:      "Background summarization jobs by outcome.",
		}, []string{"outcome"}),
		PersistenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Store failures by operation.",
		}, []string{"op"}),
		LoginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		ActiveSockets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_sockets",
			Help:      "Number of open websocket chat connections.",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	m.UpstreamLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
