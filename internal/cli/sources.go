package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func (a *app) newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List and manage event sources",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				sources, err := store.ListSources(ctx)
				if err != nil {
					return err
				}
				return writeSources(cmd.OutOrStdout(), sources, a.outputFormat())
			})
		},
	})

	cmd.AddCommand(
		a.newSourceActiveCmd("activate", "Include a source in scheduled runs", true),
		a.newSourceActiveCmd("deactivate", "Exclude a source from scheduled runs", false),
	)
	return cmd
}

func (a *app) newSourceActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <collector|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				src, err := resolveSource(ctx, store, args[0])
				if err != nil {
					return err
				}
				if err := store.SetSourceActive(ctx, src.ID, active); err != nil {
					return err
				}
				state := "inactive"
				if active {
					state = "active"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source %d (%s) is now %s\n", src.ID, src.Name, state)
				return nil
			})
		},
	}
}
