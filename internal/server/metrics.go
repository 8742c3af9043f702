package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "conflict", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each answered
	// question from request receipt to final answer.
	chatDurationSeconds *prometheus.HistogramVec

	// activeSessions is the number of live sessions in the registry.
	activeSessions prometheus.Gauge

	// feedbackTotal counts submitted feedback, partitioned by rating.
	feedbackTotal *prometheus.CounterVec

	// retrievalDocuments records how many citations backed each answer. A
	// spike at zero means the corpus is not covering what users ask.
	retrievalDocuments prometheus.Histogram

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, keeping unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policychat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "policychat",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of answered questions from receipt to final answer.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "policychat",
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Number of live conversation sessions.",
		}),

		feedbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policychat",
			Subsystem: "chat",
			Name:      "feedback_total",
			Help:      "Total number of feedback submissions, partitioned by rating.",
		}, []string{"rating"}),

		retrievalDocuments: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "policychat",
			Subsystem: "retrieval",
			Name:      "citation_documents",
			Help:      "Number of citation documents backing each answer.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policychat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "policychat",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),
	}
}
