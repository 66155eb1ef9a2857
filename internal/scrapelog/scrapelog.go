// Package scrapelog holds the per-run provenance record and its counters.
package scrapelog

import (
	"time"

	"github.com/pfrederiksen/municipal-events/internal/location"
)

// Status is the lifecycle state of a run record.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// GeoStats tallies geocoding outcomes within one run.
type GeoStats struct {
	Success  int `json:"success"`
	Multiple int `json:"multiple"`
	NotFound int `json:"not_found"`
	Errors   int `json:"errors"`
}

// Record counts one geocoding outcome. Unset outcomes are not counted.
func (g *GeoStats) Record(status location.GeocodeStatus) {
	switch status {
	case location.GeocodeSuccess:
		g.Success++
	case location.GeocodeMultiple:
		g.Multiple++
	case location.GeocodeNotFound:
		g.NotFound++
	case location.GeocodeError:
		g.Errors++
	}
}

// Total is the number of geocoder calls made.
func (g GeoStats) Total() int {
	return g.Success + g.Multiple + g.NotFound + g.Errors
}

// Counters are the outcome numbers of one run. Found counts unique valid
// records; repeats within the run are Skipped and malformed records Invalid.
type Counters struct {
	Found   int      `json:"events_found"`
	New     int      `json:"events_new"`
	Updated int      `json:"events_updated"`
	Skipped int      `json:"skipped_duplicates"`
	Invalid int      `json:"invalid_records"`
	Geo     GeoStats `json:"geocoding"`
}

// ScrapeLog is the stored record of one collector run.
type ScrapeLog struct {
	ID           int64      `json:"id"`
	SourceID     int64      `json:"source_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       Status     `json:"status"`
	Counters     Counters   `json:"counters"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Duration is the run time, or zero while the run is open.
func (l *ScrapeLog) Duration() time.Duration {
	if l.FinishedAt == nil {
		return 0
	}
	return l.FinishedAt.Sub(l.StartedAt)
}
