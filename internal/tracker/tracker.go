// Package tracker opens and closes the per-run provenance records.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// Tracker records run start and finish.
type Tracker struct {
	store storage.Store
	now   func() time.Time
}

// New creates a Tracker.
func New(store storage.Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Run is an open run record together with its source.
type Run struct {
	Source *source.Source
	Log    *scrapelog.ScrapeLog
}

// Begin creates the source on first use of collector and opens a running
// record for it.
func (t *Tracker) Begin(ctx context.Context, collector string, info source.Info) (*Run, error) {
	src, err := t.store.EnsureSource(ctx, collector, info)
	if err != nil {
		return nil, fmt.Errorf("ensuring source %s: %w", collector, err)
	}

	log := &scrapelog.ScrapeLog{
		SourceID:  src.ID,
		StartedAt: t.now().UTC(),
		Status:    scrapelog.StatusRunning,
	}
	if err := t.store.InsertScrapeLog(ctx, log); err != nil {
		return nil, fmt.Errorf("opening run for %s: %w", collector, err)
	}

	logger.Info("Run started", logger.Fields{
		"collector": collector,
		"source":    src.Name,
		"run_id":    log.ID,
	})
	return &Run{Source: src, Log: log}, nil
}

// Finish closes the run exactly once: success when runErr is nil, failed with
// its message otherwise. The source's last-run timestamp is updated either
// way. Counters are stored for failed runs too, reflecting partial progress.
func (t *Tracker) Finish(ctx context.Context, run *Run, counters scrapelog.Counters, runErr error) error {
	if run.Log.Status.Terminal() {
		return fmt.Errorf("closing run %d: %w", run.Log.ID, storage.ErrRunFinished)
	}

	finished := t.now().UTC()
	run.Log.FinishedAt = &finished
	run.Log.Counters = counters
	run.Log.Status = scrapelog.StatusSuccess
	run.Log.ErrorMessage = ""
	if runErr != nil {
		run.Log.Status = scrapelog.StatusFailed
		run.Log.ErrorMessage = runErr.Error()
		if run.Log.ErrorMessage == "" {
			run.Log.ErrorMessage = "unknown error"
		}
	}

	finishErr := t.store.FinishScrapeLog(ctx, run.Log)
	touchErr := t.store.TouchSource(ctx, run.Source.ID, finished)

	fields := logger.Fields{
		"source":   run.Source.Name,
		"run_id":   run.Log.ID,
		"status":   string(run.Log.Status),
		"found":    counters.Found,
		"new":      counters.New,
		"updated":  counters.Updated,
		"skipped":  counters.Skipped,
		"invalid":  counters.Invalid,
		"geocoded": counters.Geo.Total(),
		"duration": run.Log.Duration().String(),
	}
	if runErr != nil {
		logger.Error("Run failed", fields, runErr)
	} else {
		logger.Info("Run finished", fields)
	}

	if finishErr != nil {
		return fmt.Errorf("closing run %d: %w", run.Log.ID, finishErr)
	}
	if touchErr != nil {
		return fmt.Errorf("updating last run of source %d: %w", run.Source.ID, touchErr)
	}
	return nil
}
