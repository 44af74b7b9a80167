// Package metrics exposes Prometheus counters for the authentication
// pipeline and serves them on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "sessions_started_total",
		Help:      "Authentication sessions opened.",
	})

	SessionsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "sessions_decided_total",
		Help:      "Terminal session decisions by outcome.",
	}, []string{"decision"})

	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "credentials_issued_total",
		Help:      "One-time credentials issued.",
	})

	CredentialRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "credential_rejections_total",
		Help:      "Credential verification failures by cause.",
	}, []string{"cause"})

	AnomalyGateTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "anomaly_gate_timeouts_total",
		Help:      "Anomaly score lookups resolved by the timeout policy.",
	})

	AuditDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lqap",
		Name:      "audit_deferred_total",
		Help:      "Audit records parked in the fallback queue.",
	})

	AuthDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lqap",
		Name:      "authentication_duration_seconds",
		Help:      "Wall time from session start to terminal decision.",
		Buckets:   prometheus.DefBuckets,
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server on addr. The addr may be empty when
// metrics are disabled; the caller guards ListenAndServe accordingly.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
