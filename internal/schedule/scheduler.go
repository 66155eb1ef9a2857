package schedule

import (
	"context"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/logger"
)

// Scheduler runs a job at every time matched by a Cron until its context is
// cancelled. Jobs run in the scheduler goroutine, so a slow job delays
// rather than overlaps the next one.
type Scheduler struct {
	cron  *Cron
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Scheduler for c.
func New(c *Cron) *Scheduler {
	return &Scheduler{cron: c, now: time.Now, after: time.After}
}

// Next is the next time the job will run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Next(s.now())
}

// Run blocks until ctx is cancelled. A job still running at cancellation
// receives the cancelled context and is waited for.
func (s *Scheduler) Run(ctx context.Context, job func(context.Context)) error {
	logger.Info("Scheduler started", logger.Fields{"schedule": s.cron.String()})

	for {
		next := s.Next()
		if next.IsZero() {
			logger.Warn("Schedule never matches, stopping", logger.Fields{"schedule": s.cron.String()})
			<-ctx.Done()
			return nil
		}
		logger.Info("Next run scheduled", logger.Fields{"at": next.Format(time.RFC3339)})

		select {
		case <-ctx.Done():
		case <-s.after(next.Sub(s.now())):
		}
		if ctx.Err() != nil {
			logger.Info("Scheduler stopped", nil)
			return nil
		}

		job(ctx)
	}
}
