package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// Resolver finds or creates canonical locations.
type Resolver struct {
	store    storage.Store
	geocoder geocode.Geocoder
}

// NewResolver creates a Resolver. A nil geocoder disables geocoding; new
// locations without hinted coordinates are then created pending.
func NewResolver(store storage.Store, geocoder geocode.Geocoder) *Resolver {
	return &Resolver{store: store, geocoder: geocoder}
}

// Exists reports whether the source already knows rawName.
func (r *Resolver) Exists(ctx context.Context, sourceID int64, rawName string) (bool, error) {
	_, err := r.store.FindLocation(ctx, sourceID, rawName)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Resolve returns the location for (sourceID, rawName), creating it when
// missing. created reports whether a new row was inserted; only then does the
// location's GeocodeStatus describe a call made by this invocation.
func (r *Resolver) Resolve(ctx context.Context, sourceID int64, region, rawName string, hints location.Hints) (loc *location.Location, created bool, err error) {
	name := location.NormalizeName(rawName)
	if name == "" {
		return nil, false, fmt.Errorf("resolving location: empty name")
	}

	existing, err := r.store.FindLocation(ctx, sourceID, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up location %q: %w", name, err)
	}

	coords, outcome := r.locate(ctx, sourceID, region, name, hints)
	loc = location.New(sourceID, name, hints, coords, outcome)
	if err := r.store.InsertLocation(ctx, loc); err != nil {
		return nil, false, err
	}

	logger.Info("Location created", logger.Fields{
		"source_id":        sourceID,
		"location_id":      loc.ID,
		"raw_name":         name,
		"status":           string(loc.Status),
		"geocoding_status": string(loc.GeocodeStatus),
	})
	return loc, true, nil
}

// locate decides the coordinates of a new location: hinted coordinates win,
// otherwise the geocoder is asked when a region hint exists.
func (r *Resolver) locate(ctx context.Context, sourceID int64, region, name string, hints location.Hints) (*location.Coordinates, location.GeocodeStatus) {
	if c, ok := hints.Coordinates(); ok {
		return &c, location.GeocodeUnset
	}

	if region == "" || r.geocoder == nil {
		logger.Warn("Geocoding skipped, location left pending", logger.Fields{
			"source_id": sourceID,
			"raw_name":  name,
			"reason":    skipReason(region),
		})
		return nil, location.GeocodeUnset
	}

	result := r.geocoder.Geocode(ctx, name, region)
	fields := logger.Fields{
		"source_id":    sourceID,
		"raw_name":     name,
		"region":       region,
		"status":       string(result.Status),
		"result_count": result.ResultCount,
	}
	switch result.Status {
	case location.GeocodeSuccess:
		logger.Info("Geocoded location", fields)
	case location.GeocodeMultiple:
		logger.Warn("Geocoding ambiguous, using first result", fields)
	case location.GeocodeNotFound:
		logger.Warn("Geocoding found nothing", fields)
	default:
		fields["error_message"] = result.ErrorMessage
		logger.Warn("Geocoding failed", fields)
	}

	coords, _ := result.Coordinates()
	return coords, result.Status
}

func skipReason(region string) string {
	if region == "" {
		return "no geocoding region configured for source"
	}
	return "no geocoder configured"
}
