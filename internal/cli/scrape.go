package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/runner"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func (a *app) newScrapeCmd() *cobra.Command {
	var (
		all   bool
		debug bool
		list  bool
	)

	cmd := &cobra.Command{
		Use:   "scrape [collector...]",
		Short: "Run one or more collectors",
		Long: `Run the named collectors, or every registered collector with --all.
Each run is recorded; a failing collector does not stop the others.
Exits with status 2 when at least one run failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return a.listCollectors(cmd)
			}
			if all == (len(args) > 0) {
				return fmt.Errorf("name one or more collectors or use --all")
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				r, err := a.newRunner(store, nil, debug)
				if err != nil {
					return err
				}

				var results []*runner.Result
				if all {
					results, err = r.RunAll(ctx)
					if err != nil {
						return err
					}
				} else {
					for _, name := range args {
						res, err := r.Run(ctx, name)
						if err != nil {
							return err
						}
						results = append(results, res)
					}
				}

				if err := WriteResults(cmd.OutOrStdout(), results, a.outputFormat()); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
				for _, res := range results {
					if res.Failed() {
						return ErrRunsFailed
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Run all collectors of active sources")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log every record with its outcome")
	cmd.Flags().BoolVar(&list, "list", false, "List registered collectors and exit")
	return cmd
}

func (a *app) listCollectors(cmd *cobra.Command) error {
	registry, err := a.registry()
	if err != nil {
		return err
	}
	entries := registry.Entries()
	if a.outputFormat() == FormatJSON {
		type item struct {
			Name      string `json:"name"`
			Source    string `json:"source"`
			URL       string `json:"url"`
			GeoRegion string `json:"geocode_region,omitempty"`
		}
		items := make([]item, 0, len(entries))
		for _, e := range entries {
			items = append(items, item{e.Name, e.Info.Name, e.Info.BaseURL, e.Info.GeocodeRegion})
		}
		return writeJSON(cmd.OutOrStdout(), items)
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "COLLECTOR\tSOURCE\tREGION\tURL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Info.Name, e.Info.GeocodeRegion, e.Info.BaseURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d collectors\n", registry.Len())
	return nil
}
