package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// Reconciler upserts events and resolves their locations.
type Reconciler struct {
	store    storage.Store
	resolver *Resolver
}

// New creates a Reconciler. geocoder may be nil.
func New(store storage.Store, geocoder geocode.Geocoder) *Reconciler {
	return &Reconciler{
		store:    store,
		resolver: NewResolver(store, geocoder),
	}
}

// Resolver returns the location resolver used by the reconciler.
func (r *Reconciler) Resolver() *Resolver {
	return r.resolver
}

// Upsert writes rec as the event (sourceID, rec.ExternalID) linked to
// locationID. A missing event is inserted and isNew is true. An existing one
// has all mutable fields overwritten and any soft delete cleared. Each call
// is one committed write.
func (r *Reconciler) Upsert(ctx context.Context, sourceID int64, rec event.Record, locationID *int64) (evt *event.Event, isNew bool, err error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}
	rec.ExternalID = rec.Key()

	existing, err := r.store.FindEvent(ctx, sourceID, rec.ExternalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		evt = event.New(sourceID, rec, locationID)
		if err := r.store.InsertEvent(ctx, evt); err != nil {
			return nil, false, err
		}
		return evt, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("looking up event %s: %w", rec.ExternalID, err)
	}

	if existing.IsDeleted() {
		logger.Info("Reactivating soft-deleted event", logger.Fields{
			"event_id":    existing.ID,
			"external_id": existing.ExternalID,
		})
	}
	existing.Apply(rec, locationID)
	if err := r.store.UpdateEvent(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Session starts the per-run state for one source.
func (r *Reconciler) Session(src *source.Source, region string, opts ...SessionOption) *Session {
	s := &Session{
		reconciler: r,
		source:     src,
		region:     region,
		seen:       make(map[string]struct{}),
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
