package geocode

import (
	"context"
	"strings"

	"github.com/pfrederiksen/municipal-events/internal/location"
)

// Result is the classified outcome of one geocoding call. Latitude and
// Longitude are only meaningful when Status.Resolved() is true.
type Result struct {
	Status           location.GeocodeStatus `json:"status"`
	Latitude         float64                `json:"latitude,omitempty"`
	Longitude        float64                `json:"longitude,omitempty"`
	FormattedAddress string                 `json:"formatted_address,omitempty"`
	ResultCount      int                    `json:"result_count"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
}

// Coordinates returns the result's coordinates when it carries any.
func (r Result) Coordinates() (*location.Coordinates, bool) {
	if !r.Status.Resolved() {
		return nil, false
	}
	return &location.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude}, true
}

// Geocoder resolves a place name within a region hint such as
// "74629 Pfedelbach".
type Geocoder interface {
	Geocode(ctx context.Context, name, region string) Result
}

// Query builds the search string sent to a provider.
func Query(name, region string) string {
	name = strings.TrimSpace(name)
	region = strings.TrimSpace(region)
	if region == "" {
		return name
	}
	return name + ", " + region
}
