package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/municipal-events/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate   SortOrder = "date"
	SortBySource SortOrder = "source"
	SortByTitle  SortOrder = "title"
)

func parseSortOrder(s string) (SortOrder, error) {
	order := SortOrder(strings.ToLower(strings.TrimSpace(s)))
	switch order {
	case SortByDate, SortBySource, SortByTitle:
		return order, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'date', 'source' or 'title')", s)
}

// sortEvents sorts a slice of events based on the specified sort order
func sortEvents(events []*event.Event, sortOrder SortOrder) {
	switch sortOrder {
	case SortByDate:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByDate(events[i], events[j])
		})
	case SortBySource:
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].SourceID != events[j].SourceID {
				return events[i].SourceID < events[j].SourceID
			}
			return compareByDate(events[i], events[j])
		})
	case SortByTitle:
		sort.SliceStable(events, func(i, j int) bool {
			ti, tj := strings.ToLower(events[i].Title), strings.ToLower(events[j].Title)
			if ti != tj {
				return ti < tj
			}
			return compareByDate(events[i], events[j])
		})
	}
}

// compareByDate orders by day, then start time; events without a time come
// first on their day.
func compareByDate(i, j *event.Event) bool {
	if !i.Date.Equal(j.Date) {
		return i.Date.Before(j.Date)
	}
	switch {
	case i.Time == nil && j.Time == nil:
	case i.Time == nil:
		return true
	case j.Time == nil:
		return false
	case *i.Time != *j.Time:
		return i.Time.Duration() < j.Time.Duration()
	}
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
