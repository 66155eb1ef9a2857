package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/metrics"
	"github.com/pfrederiksen/municipal-events/internal/schedule"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func (a *app) newScheduleCmd() *cobra.Command {
	var (
		once      bool
		noMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run all collectors on the configured weekly schedule",
		Long: `Block and run all collectors at the configured days and time
(default Tuesday and Friday 06:00 Europe/Berlin). Serves Prometheus
metrics on /metrics and a health check on /healthz. Stops on SIGINT or
SIGTERM after the current run is recorded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.cfg.Schedule.Cron()
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				m := metrics.New()
				r, err := a.newRunner(store, m, false)
				if err != nil {
					return err
				}

				runAll := func(ctx context.Context) {
					results, err := r.RunAll(ctx)
					if err != nil {
						logger.Warn("Scheduled run interrupted", logger.Fields{"error": err.Error()})
					}
					if err := WriteResults(cmd.OutOrStdout(), results, a.outputFormat()); err != nil {
						logger.Error("Writing results failed", nil, err)
					}
				}

				if once {
					runAll(ctx)
					return nil
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				var wg sync.WaitGroup
				if !noMetrics {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if err := m.Serve(ctx, a.cfg.Metrics.ListenAddress); err != nil {
							logger.Error("Metrics server failed", logger.Fields{"addr": a.cfg.Metrics.ListenAddress}, err)
						}
					}()
				}

				sched := schedule.New(c)
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduler running (%s), next run %s\n", c, sched.Next().Format("Mon 2006-01-02 15:04 MST"))
				err = sched.Run(ctx, runAll)
				cancel()
				wg.Wait()
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run all collectors once immediately and exit")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Do not serve Prometheus metrics")
	return cmd
}
