package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/runner"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func parseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// writeJSON outputs v as indented JSON
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// WriteResults prints the outcome of one or more runs.
func WriteResults(w io.Writer, results []*runner.Result, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No collectors run.")
		return nil
	}

	failed := 0
	for _, res := range results {
		c := res.Counters
		if res.Failed() {
			failed++
			fmt.Fprintf(w, "FAILED %s: %s\n", res.Collector, res.Error)
		} else {
			fmt.Fprintf(w, "OK %s (%s) in %s\n", res.Collector, res.Source, res.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(w, "   found %d, new %d, updated %d, skipped duplicates %d, invalid %d\n",
			c.Found, c.New, c.Updated, c.Skipped, c.Invalid)
		if c.Geo.Total() > 0 {
			fmt.Fprintf(w, "   geocoding: %d success, %d multiple, %d not found, %d errors\n",
				c.Geo.Success, c.Geo.Multiple, c.Geo.NotFound, c.Geo.Errors)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d runs, %d failed\n", len(results), failed)
	return nil
}

func writeSources(w io.Writer, sources []*source.Source, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, sources)
	}
	if len(sources) == 0 {
		fmt.Fprintln(w, "No sources found.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tCOLLECTOR\tNAME\tACTIVE\tLAST RUN\tURL")
	for _, src := range sources {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n",
			src.ID, src.Collector, src.Name, src.Active, formatTime(src.LastScrapedAt), src.BaseURL)
	}
	return tw.Flush()
}

func writeLocations(w io.Writer, locs []*location.Location, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, locs)
	}
	if len(locs) == 0 {
		fmt.Fprintln(w, "No locations found.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tGEOCODING\tNAME\tADDRESS\tCOORDINATES")
	for _, loc := range locs {
		coords := "-"
		if loc.Coordinates != nil {
			coords = fmt.Sprintf("%.6f, %.6f", loc.Coordinates.Latitude, loc.Coordinates.Longitude)
		}
		geo := string(loc.GeocodeStatus)
		if geo == "" {
			geo = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			loc.ID, loc.SourceID, loc.Status, geo, loc.Name(), loc.FullAddress(), coords)
	}
	return tw.Flush()
}

func writeLocation(w io.Writer, loc *location.Location, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, loc)
	}
	fmt.Fprintf(w, "Location %d (%s): %s\n", loc.ID, loc.Status, loc.Name())
	if addr := loc.FullAddress(); addr != "" {
		fmt.Fprintf(w, "  Address: %s\n", addr)
	}
	if loc.Coordinates != nil {
		fmt.Fprintf(w, "  Coordinates: %.8f, %.8f\n", loc.Coordinates.Latitude, loc.Coordinates.Longitude)
	}
	return nil
}

func writeEvents(w io.Writer, events []*event.Event, format OutputFormat, verbose bool) error {
	if format == FormatJSON {
		return writeJSON(w, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, evt := range events {
		when := evt.Date.Format(event.DateLayout)
		if evt.Time != nil {
			when += " " + evt.Time.String()
		}
		marker := ""
		if evt.IsDeleted() {
			marker = " [deleted]"
		}
		fmt.Fprintf(w, "%d  %s  %s%s\n", evt.ID, when, evt.Title, marker)
		if verbose {
			fmt.Fprintf(w, "     External ID: %s\n", evt.ExternalID)
			if evt.RawLocation != "" {
				fmt.Fprintf(w, "     Location: %s\n", evt.RawLocation)
			}
			if evt.URL != "" {
				fmt.Fprintf(w, "     URL: %s\n", evt.URL)
			}
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
	return nil
}

func writeStats(w io.Writer, stats *storage.Stats, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, stats)
	}

	fmt.Fprintf(w, "Events:    %d active, %d deleted\n", stats.Events, stats.DeletedEvents)
	fmt.Fprintf(w, "Locations: %d total, %d pending review\n\n", stats.Locations, stats.PendingLocations)

	tw := newTable(w)
	fmt.Fprintln(tw, "SOURCE\tCOLLECTOR\tACTIVE\tEVENTS\tLAST RUN")
	for _, s := range stats.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", s.Name, s.Collector, s.Active, s.Events, formatTime(s.LastScrapedAt))
	}
	return tw.Flush()
}

func writeLogs(w io.Writer, logs []*scrapelog.ScrapeLog, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, logs)
	}
	if len(logs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tSOURCE\tSTARTED\tDURATION\tSTATUS\tFOUND\tNEW\tUPDATED\tGEOCODED\tERROR")
	for _, l := range logs {
		started := l.StartedAt
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			l.ID, l.SourceID, formatTime(&started), l.Duration().Round(time.Second), l.Status,
			l.Counters.Found, l.Counters.New, l.Counters.Updated, l.Counters.Geo.Total(), l.ErrorMessage)
	}
	return tw.Flush()
}
