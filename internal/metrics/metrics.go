// Package metrics exposes run statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
)

const namespace = "municipal_events"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	events        *prometheus.CounterVec
	geocoding     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastSuccessTS *prometheus.GaugeVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Collector runs by final status",
	}, []string{"collector", "status"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Records handled by outcome (new, updated, skipped, invalid)",
	}, []string{"collector", "outcome"})
	m.geocoding = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocoding_total",
		Help:      "Geocoding calls by outcome",
	}, []string{"collector", "status"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Time spent in one collector run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"collector"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful run",
	}, []string{"collector"})

	m.registry.MustRegister(
		m.runs, m.events, m.geocoding, m.runDuration, m.lastSuccessTS,
	)
	return m
}

// ObserveRecord counts one record handed to a run by its outcome.
func (m *Metrics) ObserveRecord(collector, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(collector, strings.ToLower(outcome)).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(collector string, log *scrapelog.ScrapeLog) {
	if m == nil || log == nil {
		return
	}
	m.runs.WithLabelValues(collector, string(log.Status)).Inc()

	c := log.Counters
	m.geocoding.WithLabelValues(collector, "success").Add(float64(c.Geo.Success))
	m.geocoding.WithLabelValues(collector, "multiple").Add(float64(c.Geo.Multiple))
	m.geocoding.WithLabelValues(collector, "not_found").Add(float64(c.Geo.NotFound))
	m.geocoding.WithLabelValues(collector, "error").Add(float64(c.Geo.Errors))

	if log.FinishedAt != nil {
		m.runDuration.WithLabelValues(collector).Observe(log.Duration().Seconds())
		if log.Status == scrapelog.StatusSuccess {
			m.lastSuccessTS.WithLabelValues(collector).Set(float64(log.FinishedAt.Unix()))
		}
	}
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", logger.Fields{"addr": addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
