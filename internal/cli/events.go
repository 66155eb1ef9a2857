package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/calendar"
	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func (a *app) newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List, hide and export events",
	}

	cmd.AddCommand(
		a.newEventsListCmd(),
		a.newEventDeletedCmd("delete", "Hide an event until the next run sees it again", true),
		a.newEventDeletedCmd("restore", "Unhide a deleted event", false),
		a.newEventsICSCmd(),
	)
	return cmd
}

// eventQuery holds the filter flags shared by list and ics.
type eventQuery struct {
	sourceRef string
	from      string
	all       bool
	limit     int
}

func (q *eventQuery) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.sourceRef, "source", "", "Only events of this source (collector name or id)")
	cmd.Flags().StringVar(&q.from, "from", "", "Only events on or after this date (YYYY-MM-DD, or 'today')")
	cmd.Flags().BoolVar(&q.all, "all", false, "Include deleted events")
	cmd.Flags().IntVar(&q.limit, "limit", 0, "Maximum number of events (0 for all)")
}

func (q *eventQuery) filter(ctx context.Context, store storage.Store) (storage.EventFilter, error) {
	filter := storage.EventFilter{IncludeDeleted: q.all, Limit: q.limit}
	switch q.from {
	case "", "today":
	default:
		from, err := time.Parse(event.DateLayout, q.from)
		if err != nil {
			return filter, fmt.Errorf("invalid --from date %q (expected YYYY-MM-DD)", q.from)
		}
		filter.From = from
	}
	if q.sourceRef != "" {
		src, err := resolveSource(ctx, store, q.sourceRef)
		if err != nil {
			return filter, err
		}
		filter.SourceID = src.ID
	}
	return filter, nil
}

// list runs the query. "today" keeps multi-day events that started earlier
// but have not ended yet.
func (q *eventQuery) list(ctx context.Context, store storage.Store, now time.Time) ([]*event.Event, error) {
	filter, err := q.filter(ctx, store)
	if err != nil {
		return nil, err
	}
	if q.from == "today" {
		limit := filter.Limit
		filter.Limit = 0
		events, err := store.ListEvents(ctx, filter)
		if err != nil {
			return nil, err
		}
		upcoming := events[:0]
		for _, evt := range events {
			if !evt.IsPast(now) {
				upcoming = append(upcoming, evt)
			}
		}
		if limit > 0 && len(upcoming) > limit {
			upcoming = upcoming[:limit]
		}
		return upcoming, nil
	}
	return store.ListEvents(ctx, filter)
}

func (a *app) newEventsListCmd() *cobra.Command {
	var (
		q       eventQuery
		sortBy  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseSortOrder(sortBy)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				events, err := q.list(ctx, store, time.Now())
				if err != nil {
					return err
				}
				sortEvents(events, order)
				return writeEvents(cmd.OutOrStdout(), events, a.outputFormat(), verbose)
			})
		},
	}

	q.register(cmd)
	cmd.Flags().StringVar(&sortBy, "sort", string(SortByDate), "Sort order: date, source or title")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show external id, venue and URL")
	return cmd
}

func (a *app) newEventDeletedCmd(use, short string, deleted bool) *cobra.Command {
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
				evt, err := store.GetEvent(ctx, id)
				if err != nil {
					return err
				}
				var at *time.Time
				if deleted {
					now := time.Now().UTC()
					at = &now
				}
				if err := store.SetEventDeleted(ctx, evt.ID, at); err != nil {
					return err
				}
				evt.DeletedAt = at

				if a.outputFormat() == FormatJSON {
					return writeJSON(cmd.OutOrStdout(), evt)
				}
				state := "restored"
				if deleted {
					state = "deleted"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Event %d (%s) %s\n", evt.ID, evt.Title, state)
				return nil
			})
		},
	}
}

func (a *app) newEventsICSCmd() *cobra.Command {
	var (
		q      eventQuery
		tzName string
		name   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "ics",
		Short: "Export events as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tzName == "" {
				tzName = a.cfg.Schedule.Timezone
			}
			tz, err := time.LoadLocation(tzName)
			if err != nil {
				return fmt.Errorf("invalid time zone %q: %w", tzName, err)
			}
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				events, err := q.list(ctx, store, time.Now().In(tz))
				if err != nil {
					return err
				}
				sortEvents(events, SortByDate)

				entries, err := calendarEntries(ctx, store, events)
				if err != nil {
					return err
				}
				ics := calendar.GenerateICS(entries, name, tz)
				if ics == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "No events to export.")
					return nil
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating calendar file: %w", err)
					}
					defer file.Close()
					w = file
				}
				if _, err := io.WriteString(w, ics); err != nil {
					return fmt.Errorf("writing calendar: %w", err)
				}
				return nil
			})
		},
	}

	q.register(cmd)
	cmd.Flags().StringVar(&tzName, "tz", "", "Time zone the event times are given in (default: schedule time zone)")
	cmd.Flags().StringVar(&name, "name", "Municipal Events", "Calendar name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

// calendarEntries attaches source names and resolved locations to events.
func calendarEntries(ctx context.Context, store storage.Store, events []*event.Event) ([]calendar.Entry, error) {
	sources, err := store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(sources))
	for _, src := range sources {
		names[src.ID] = src.Name
	}

	locs := make(map[int64]*location.Location)
	entries := make([]calendar.Entry, 0, len(events))
	for _, evt := range events {
		entry := calendar.Entry{Event: evt, Source: names[evt.SourceID]}
		if evt.LocationID != nil {
			loc, ok := locs[*evt.LocationID]
			if !ok {
				loc, err = store.GetLocation(ctx, *evt.LocationID)
				if err != nil {
					return nil, err
				}
				locs[*evt.LocationID] = loc
			}
			entry.Location = loc
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
