package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrRunFinished is returned when finishing a run record that is no
	// longer running.
	ErrRunFinished = errors.New("run already finished")
)

// Store is the persistence contract shared by the backends. Implementations
// commit every write immediately.
type Store interface {
	// EnsureSource returns the source with info.BaseURL, creating it for
	// collector on first use.
	EnsureSource(ctx context.Context, collector string, info source.Info) (*source.Source, error)
	GetSource(ctx context.Context, id int64) (*source.Source, error)
	GetSourceByCollector(ctx context.Context, collector string) (*source.Source, error)
	ListSources(ctx context.Context) ([]*source.Source, error)
	SetSourceActive(ctx context.Context, id int64, active bool) error
	TouchSource(ctx context.Context, id int64, at time.Time) error

	// FindLocation looks up a location by its natural key.
	FindLocation(ctx context.Context, sourceID int64, rawName string) (*location.Location, error)
	GetLocation(ctx context.Context, id int64) (*location.Location, error)
	ListLocations(ctx context.Context, filter LocationFilter) ([]*location.Location, error)
	// InsertLocation stores loc and fills in its ID and timestamps.
	InsertLocation(ctx context.Context, loc *location.Location) error
	UpdateLocation(ctx context.Context, loc *location.Location) error

	// FindEvent looks up an event by its natural key, including soft-deleted
	// events.
	FindEvent(ctx context.Context, sourceID int64, externalID string) (*event.Event, error)
	GetEvent(ctx context.Context, id int64) (*event.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*event.Event, error)
	// InsertEvent stores evt and fills in its ID and timestamps.
	InsertEvent(ctx context.Context, evt *event.Event) error
	// UpdateEvent writes every mutable field of evt, including DeletedAt.
	UpdateEvent(ctx context.Context, evt *event.Event) error
	// SetEventDeleted sets or clears the soft-delete marker.
	SetEventDeleted(ctx context.Context, id int64, deletedAt *time.Time) error

	// InsertScrapeLog stores a new run record and fills in its ID.
	InsertScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error
	// FinishScrapeLog closes a running record. It returns ErrRunFinished if
	// the record was already closed.
	FinishScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error
	GetScrapeLog(ctx context.Context, id int64) (*scrapelog.ScrapeLog, error)
	ListScrapeLogs(ctx context.Context, filter ScrapeLogFilter) ([]*scrapelog.ScrapeLog, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// LocationFilter narrows ListLocations. Zero values match everything.
type LocationFilter struct {
	SourceID int64
	Status   location.Status
}

// EventFilter narrows ListEvents. Soft-deleted events are excluded unless
// IncludeDeleted is set.
type EventFilter struct {
	SourceID       int64
	From           time.Time
	IncludeDeleted bool
	Limit          int
}

// ScrapeLogFilter narrows ListScrapeLogs. Results are newest first.
type ScrapeLogFilter struct {
	SourceID int64
	Limit    int
}

// Stats summarizes the store contents.
type Stats struct {
	Events           int           `json:"events"`
	DeletedEvents    int           `json:"deleted_events"`
	Locations        int           `json:"locations"`
	PendingLocations int           `json:"pending_locations"`
	Sources          []SourceStats `json:"sources"`
}

// SourceStats is the per-source part of Stats.
type SourceStats struct {
	SourceID      int64      `json:"source_id"`
	Name          string     `json:"name"`
	Collector     string     `json:"collector"`
	Active        bool       `json:"active"`
	Events        int        `json:"events"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
}

// ExpandPath resolves a leading "~/" to the user's home directory and
// creates the parent directory of the resulting file path.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	return path, nil
}

// NotFound wraps ErrNotFound with the kind and key that missed.
func NotFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}
