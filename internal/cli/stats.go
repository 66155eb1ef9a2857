package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func (a *app) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show counts of events, locations and sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				return writeStats(cmd.OutOrStdout(), stats, a.outputFormat())
			})
		},
	}
}

func (a *app) newLogsCmd() *cobra.Command {
	var (
		sourceRef string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent scrape runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				filter := storage.ScrapeLogFilter{Limit: limit}
				if sourceRef != "" {
					src, err := resolveSource(ctx, store, sourceRef)
					if err != nil {
						return err
					}
					filter.SourceID = src.ID
				}
				logs, err := store.ListScrapeLogs(ctx, filter)
				if err != nil {
					return err
				}
				return writeLogs(cmd.OutOrStdout(), logs, a.outputFormat())
			})
		},
	}

	cmd.Flags().StringVar(&sourceRef, "source", "", "Only runs of this source (collector name or id)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}
