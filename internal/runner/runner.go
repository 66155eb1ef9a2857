// Package runner is the default sequential driver: it opens a run record,
// hands a reconciliation session to a collector and closes the record no
// matter how the collector ends.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/collector"
	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/metrics"
	"github.com/pfrederiksen/municipal-events/internal/reconcile"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/storage"
	"github.com/pfrederiksen/municipal-events/internal/tracker"
)

// ErrUnknownCollector is returned for names not in the registry.
var ErrUnknownCollector = errors.New("unknown collector")

// Result is the outcome of one run as reported to the operator.
type Result struct {
	Collector string             `json:"collector"`
	Source    string             `json:"source"`
	RunID     int64              `json:"run_id,omitempty"`
	Status    scrapelog.Status   `json:"status"`
	Counters  scrapelog.Counters `json:"counters"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Failed reports whether the run did not complete.
func (r *Result) Failed() bool {
	return r.Status != scrapelog.StatusSuccess
}

// Option configures a Runner.
type Option func(*Runner)

// WithFetcherConfig sets the HTTP settings of every run.
func WithFetcherConfig(cfg collector.FetcherConfig) Option {
	return func(r *Runner) { r.fetcherCfg = cfg }
}

// WithMetrics records every finished run.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithDebug logs each record's outcome.
func WithDebug(debug bool) Option {
	return func(r *Runner) { r.debug = debug }
}

// Runner executes collectors one at a time.
type Runner struct {
	store      storage.Store
	registry   *collector.Registry
	reconciler *reconcile.Reconciler
	tracker    *tracker.Tracker
	fetcherCfg collector.FetcherConfig
	metrics    *metrics.Metrics
	debug      bool
}

// New creates a Runner. geocoder may be nil, in which case new locations
// without coordinates stay pending.
func New(store storage.Store, registry *collector.Registry, geocoder geocode.Geocoder, opts ...Option) *Runner {
	r := &Runner{
		store:      store,
		registry:   registry,
		reconciler: reconcile.New(store, geocoder),
		tracker:    tracker.New(store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named collector once. A collector error or panic fails
// the run and is reported in the Result; the returned error is reserved for
// an unknown name or a run record that could not be opened or closed.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	entry, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollector, name)
	}

	run, err := r.tracker.Begin(ctx, entry.Name, entry.Info)
	if err != nil {
		return nil, err
	}

	log := logger.Default().With(logger.Fields{
		"collector": entry.Name,
		"source":    run.Source.Name,
		"run_id":    run.Log.ID,
	})
	opts := []reconcile.SessionOption{
		reconcile.WithLogger(log),
		reconcile.WithDebug(r.debug),
	}
	if r.metrics != nil {
		opts = append(opts, reconcile.WithObserver(func(_ event.Record, o reconcile.Outcome) {
			r.metrics.ObserveRecord(entry.Name, string(o))
		}))
	}
	session := r.reconciler.Session(run.Source, entry.Info.GeocodeRegion, opts...)

	runErr := r.collect(ctx, entry, session)

	// The run record is closed even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if err := r.tracker.Finish(finishCtx, run, session.Counters(), runErr); err != nil {
		return nil, err
	}
	r.metrics.ObserveRun(entry.Name, run.Log)

	return &Result{
		Collector: entry.Name,
		Source:    run.Source.Name,
		RunID:     run.Log.ID,
		Status:    run.Log.Status,
		Counters:  run.Log.Counters,
		Error:     run.Log.ErrorMessage,
		StartedAt: run.Log.StartedAt,
		Duration:  run.Log.Duration(),
	}, nil
}

func (r *Runner) collect(ctx context.Context, entry collector.Entry, sink collector.Sink) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("collector panic: %v", p)
		}
	}()

	c, err := entry.New(collector.NewFetcher(r.fetcherCfg))
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}
	return c.Collect(ctx, sink)
}

// RunAll executes every registered collector in name order. Sources an
// operator deactivated are skipped. One collector failing does not stop the
// others; the returned error only reports a cancelled context.
func (r *Runner) RunAll(ctx context.Context) ([]*Result, error) {
	names := r.registry.Names()
	results := make([]*Result, 0, len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		src, err := r.store.GetSourceByCollector(ctx, name)
		switch {
		case err == nil && !src.Active:
			logger.Info("Skipping inactive source", logger.Fields{"collector": name, "source": src.Name})
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			logger.Error("Looking up source failed", logger.Fields{"collector": name}, err)
			results = append(results, infraFailure(name, err))
			continue
		}

		res, err := r.Run(ctx, name)
		if err != nil {
			logger.Error("Run could not be recorded", logger.Fields{"collector": name}, err)
			results = append(results, infraFailure(name, err))
			continue
		}
		results = append(results, res)
	}

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	logger.Info("All collectors finished", logger.Fields{
		"collectors": len(results),
		"failed":     failed,
	})
	return results, nil
}

func infraFailure(name string, err error) *Result {
	return &Result{
		Collector: name,
		Status:    scrapelog.StatusFailed,
		Error:     err.Error(),
		StartedAt: time.Now().UTC(),
	}
}
