package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/storage"
	"github.com/pfrederiksen/municipal-events/internal/transfer"
)

func (a *app) newLocationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "locations",
		Aliases: []string{"loc"},
		Short:   "Review and curate venues",
	}

	cmd.AddCommand(
		a.newLocationsListCmd(),
		a.newLocationStatusCmd("confirm", "Mark a location as reviewed", location.StatusConfirmed),
		a.newLocationStatusCmd("ignore", "Mark a location as not a real venue", location.StatusIgnored),
		a.newLocationStatusCmd("reset", "Put a location back into the review queue", location.StatusPending),
		a.newLocationUpdateCmd(),
		a.newLocationsExportCmd(),
		a.newLocationsImportCmd(),
	)
	return cmd
}

func (a *app) newLocationsListCmd() *cobra.Command {
	var status, sourceRef string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				filter, err := locationFilter(ctx, store, status, sourceRef)
				if err != nil {
					return err
				}
				locs, err := store.ListLocations(ctx, filter)
				if err != nil {
					return err
				}
				return writeLocations(cmd.OutOrStdout(), locs, a.outputFormat())
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only locations with this status (pending, confirmed, ignored)")
	cmd.Flags().StringVar(&sourceRef, "source", "", "Only locations of this source (collector name or id)")
	return cmd
}

func locationFilter(ctx context.Context, store storage.Store, status, sourceRef string) (storage.LocationFilter, error) {
	var filter storage.LocationFilter
	if status != "" {
		s, err := location.ParseStatus(status)
		if err != nil {
			return filter, err
		}
		filter.Status = s
	}
	if sourceRef != "" {
		src, err := resolveSource(ctx, store, sourceRef)
		if err != nil {
			return filter, err
		}
		filter.SourceID = src.ID
	}
	return filter, nil
}

func (a *app) newLocationStatusCmd(use, short string, to location.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				loc, err := store.GetLocation(ctx, id)
				if err != nil {
					return err
				}
				if err := loc.Transition(to); err != nil {
					return err
				}
				if err := store.UpdateLocation(ctx, loc); err != nil {
					return err
				}
				return writeLocation(cmd.OutOrStdout(), loc, a.outputFormat())
			})
		},
	}
}

func (a *app) newLocationUpdateCmd() *cobra.Command {
	var (
		displayName, street, houseNumber, postalCode, city, country string
		lat, lon                                                    float64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit the curated name, address or coordinates of a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			var u location.Update
			str := func(name string, v *string) *string {
				if flags.Changed(name) {
					return v
				}
				return nil
			}
			u.DisplayName = str("display-name", &displayName)
			u.Street = str("street", &street)
			u.HouseNumber = str("house-number", &houseNumber)
			u.PostalCode = str("postal-code", &postalCode)
			u.City = str("city", &city)
			u.Country = str("country", &country)

			if flags.Changed("lat") != flags.Changed("lon") {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			if flags.Changed("lat") {
				if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
					return fmt.Errorf("coordinates out of range: %f, %f", lat, lon)
				}
				u.Coordinates = &location.Coordinates{Latitude: lat, Longitude: lon}
			}
			if u.Empty() {
				return fmt.Errorf("nothing to update")
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				loc, err := store.GetLocation(ctx, id)
				if err != nil {
					return err
				}
				if _, err := loc.Apply(u); err != nil {
					return err
				}
				if err := store.UpdateLocation(ctx, loc); err != nil {
					return err
				}
				return writeLocation(cmd.OutOrStdout(), loc, a.outputFormat())
			})
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "Curated display name")
	cmd.Flags().StringVar(&street, "street", "", "Street")
	cmd.Flags().StringVar(&houseNumber, "house-number", "", "House number")
	cmd.Flags().StringVar(&postalCode, "postal-code", "", "Postal code")
	cmd.Flags().StringVar(&city, "city", "", "City")
	cmd.Flags().StringVar(&country, "country", "", "Country")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	return cmd
}

func (a *app) newLocationsExportCmd() *cobra.Command {
	var status, output, fileFormat string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export locations as CSV or JSON for bulk editing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := transferFormat(fileFormat, output)
			if err != nil {
				return err
			}
			var filterStatus location.Status
			if status != "" {
				if filterStatus, err = location.ParseStatus(status); err != nil {
					return err
				}
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				rows, err := transfer.Rows(ctx, store, filterStatus)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating export file: %w", err)
					}
					defer file.Close()
					w = file
				}
				if err := transfer.Write(w, f, rows); err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d locations to %s\n", len(rows), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only locations with this status")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&fileFormat, "file-format", "", "csv or json (default: from file extension, else csv)")
	return cmd
}

func (a *app) newLocationsImportCmd() *cobra.Command {
	var fileFormat string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Apply edited locations from a CSV or JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := transferFormat(fileFormat, args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening import file: %w", err)
			}
			defer file.Close()

			rows, err := transfer.Read(file, f)
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				res, err := transfer.Import(ctx, store, rows)
				if err != nil {
					return err
				}
				if a.outputFormat() == FormatJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Updated %d locations, skipped %d\n", res.Updated, res.Skipped)
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  error: %s\n", e)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fileFormat, "file-format", "", "csv or json (default: from file extension)")
	return cmd
}

func transferFormat(name, path string) (transfer.Format, error) {
	if name != "" {
		return transfer.ParseFormat(name)
	}
	return transfer.FormatFromPath(path), nil
}
