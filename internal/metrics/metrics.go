// Package metrics exposes Prometheus collectors for the monitoring cycle and
// a small HTTP server for /metrics and /healthz.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/kickoffwatch/internal/logger"
)

// HealthFunc reports whether the service is healthy
type HealthFunc func(ctx context.Context) error

// Metrics holds the cycle collectors
type Metrics struct {
	RecordsFetched      *prometheus.CounterVec
	SourceFailures      *prometheus.CounterVec
	RecordsDropped      *prometheus.CounterVec
	Groups              prometheus.Gauge
	MultiSourceGroups   prometheus.Gauge
	ReportsDetected     prometheus.Counter
	OutliersBySource    *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	LastCycleSuccess    prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickoffwatch_records_fetched_total",
			Help: "fixture records fetched per source",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickoffwatch_source_failures_total",
			Help: "failed fetches per source",
		}, []string{"source"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickoffwatch_records_dropped_total",
			Help: "records dropped before grouping, by reason",
		}, []string{"reason"}),
		Groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kickoffwatch_groups",
			Help: "fixture groups in the last cycle",
		}),
		MultiSourceGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kickoffwatch_multi_source_groups",
			Help: "groups seen by at least two sources in the last cycle",
		}),
		ReportsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kickoffwatch_reports_detected_total",
			Help: "kickoff discrepancy reports detected",
		}),
		OutliersBySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickoffwatch_outliers_total",
			Help: "times a source disagreed with the majority kickoff",
		}, []string{"source"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickoffwatch_notifications_failed_total",
			Help: "failed deliveries per notifier",
		}, []string{"notifier"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kickoffwatch_cycle_duration_seconds",
			Help:    "duration of a full monitoring cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastCycleSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kickoffwatch_last_cycle_success_timestamp_seconds",
			Help: "unix time of the last successful cycle",
		}),
	}

	reg.MustRegister(
		m.RecordsFetched,
		m.SourceFailures,
		m.RecordsDropped,
		m.Groups,
		m.MultiSourceGroups,
		m.ReportsDetected,
		m.OutliersBySource,
		m.NotificationsFailed,
		m.CycleDuration,
		m.LastCycleSuccess,
	)
	return m
}

// Handler serves /metrics from gatherer and /healthz from healthFn
func Handler(gatherer prometheus.Gatherer, healthFn HealthFunc) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if healthFn != nil {
			if err := healthFn(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// StartServer serves Handler on addr in the background
func StartServer(addr string, gatherer prometheus.Gatherer, healthFn HealthFunc) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(gatherer, healthFn),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()

	return srv
}
