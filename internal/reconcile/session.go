package reconcile

import (
	"context"
	"fmt"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
)

// Outcome is what happened to one record handed to a Session.
type Outcome string

const (
	OutcomeNew       Outcome = "NEW"
	OutcomeUpdated   Outcome = "UPDATED"
	OutcomeDuplicate Outcome = "SKIPPED"
	OutcomeInvalid   Outcome = "INVALID"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger, typically one carrying run fields.
func WithLogger(l *logger.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithDebug logs every record with its outcome.
func WithDebug(debug bool) SessionOption {
	return func(s *Session) { s.debug = debug }
}

// WithObserver registers a callback invoked after each record.
func WithObserver(fn func(event.Record, Outcome)) SessionOption {
	return func(s *Session) { s.observer = fn }
}

// Session is the per-run sink handed to a collector. It is not safe for
// concurrent use; a run is sequential.
type Session struct {
	reconciler *Reconciler
	source     *source.Source
	region     string
	seen       map[string]struct{}
	counters   scrapelog.Counters
	log        *logger.Logger
	debug      bool
	observer   func(event.Record, Outcome)
}

// Source returns the source the session writes to.
func (s *Session) Source() *source.Source {
	return s.source
}

// Counters returns the run totals so far.
func (s *Session) Counters() scrapelog.Counters {
	return s.counters
}

// UpsertEvent reconciles one record. Malformed records and external ids
// already seen in this run are dropped without a write and return id 0.
// A raw location on the record is resolved before the event is written;
// without one the event has no location link.
func (s *Session) UpsertEvent(ctx context.Context, rec event.Record) (int64, bool, error) {
	if err := rec.Validate(); err != nil {
		s.counters.Invalid++
		s.log.Warn("Dropping malformed record", logger.Fields{
			"external_id": rec.ExternalID,
			"title":       rec.Title,
			"reason":      err.Error(),
		})
		s.notify(rec, OutcomeInvalid)
		return 0, false, nil
	}

	key := rec.Key()
	if _, dup := s.seen[key]; dup {
		s.counters.Skipped++
		s.notify(rec, OutcomeDuplicate)
		return 0, false, nil
	}
	s.seen[key] = struct{}{}
	s.counters.Found++

	var locationID *int64
	if rec.HasLocation() {
		id, err := s.ResolveLocation(ctx, rec.RawLocation, rec.Hints)
		if err != nil {
			return 0, false, err
		}
		locationID = &id
	}

	evt, isNew, err := s.reconciler.Upsert(ctx, s.source.ID, rec, locationID)
	if err != nil {
		return 0, false, fmt.Errorf("saving event %s: %w", key, err)
	}

	if isNew {
		s.counters.New++
		s.notify(rec, OutcomeNew)
	} else {
		s.counters.Updated++
		s.notify(rec, OutcomeUpdated)
	}
	return evt.ID, isNew, nil
}

// ResolveLocation returns the id of the source's location named rawName,
// creating and geocoding it on first sight.
func (s *Session) ResolveLocation(ctx context.Context, rawName string, hints location.Hints) (int64, error) {
	loc, created, err := s.reconciler.resolver.Resolve(ctx, s.source.ID, s.region, rawName, hints)
	if err != nil {
		return 0, fmt.Errorf("resolving location %q: %w", location.NormalizeName(rawName), err)
	}
	if created {
		s.counters.Geo.Record(loc.GeocodeStatus)
	}
	return loc.ID, nil
}

// LocationExists reports whether rawName is already known for the source,
// letting collectors skip fetching venue details.
func (s *Session) LocationExists(ctx context.Context, rawName string) (bool, error) {
	return s.reconciler.resolver.Exists(ctx, s.source.ID, rawName)
}

func (s *Session) notify(rec event.Record, outcome Outcome) {
	if s.debug {
		s.log.Debug(string(outcome), logger.Fields{
			"external_id": rec.ExternalID,
			"title":       rec.Title,
			"date":        rec.Date.Format(event.DateLayout),
			"location":    rec.RawLocation,
		})
	}
	if s.observer != nil {
		s.observer(rec, outcome)
	}
}
