package geocode

import (
	"context"
	"sync"

	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
)

// DryRun is a Geocoder that makes no network call. Every query succeeds at
// 0,0 with a "[DRY-RUN]" formatted address.
type DryRun struct {
	mu      sync.Mutex
	queries []string
}

// NewDryRun creates a dry-run geocoder.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Geocode implements Geocoder.
func (d *DryRun) Geocode(_ context.Context, name, region string) Result {
	query := Query(name, region)

	d.mu.Lock()
	d.queries = append(d.queries, query)
	d.mu.Unlock()

	logger.Info("dry-run geocoding", logger.Fields{"query": query})
	return Result{
		Status:           location.GeocodeSuccess,
		FormattedAddress: "[DRY-RUN] " + query,
		ResultCount:      1,
	}
}

// Queries returns the search strings seen so far.
func (d *DryRun) Queries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}
