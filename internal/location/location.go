package location

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultCountry is assigned to new locations when no country is known.
const DefaultCountry = "Deutschland"

// CoordinateScale is the number of fractional digits kept for coordinates.
const CoordinateScale = 8

// Status is the manual review state of a location.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusIgnored   Status = "ignored"
)

// Valid reports whether s is a known review status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusIgnored:
		return true
	}
	return false
}

// ParseStatus converts a case-insensitive status name into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid location status: %q (must be pending, confirmed or ignored)", s)
	}
	return status, nil
}

// GeocodeStatus is the outcome tag of the geocoding attempt made when the
// location was created. The zero value means no attempt was made.
type GeocodeStatus string

const (
	GeocodeUnset    GeocodeStatus = ""
	GeocodeSuccess  GeocodeStatus = "success"
	GeocodeMultiple GeocodeStatus = "multiple"
	GeocodeNotFound GeocodeStatus = "not_found"
	GeocodeError    GeocodeStatus = "error"
)

// Resolved reports whether the outcome carries usable coordinates.
func (g GeocodeStatus) Resolved() bool {
	return g == GeocodeSuccess || g == GeocodeMultiple
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Round returns c rounded to CoordinateScale fractional digits.
func (c Coordinates) Round() Coordinates {
	return Coordinates{
		Latitude:  RoundCoordinate(c.Latitude),
		Longitude: RoundCoordinate(c.Longitude),
	}
}

// RoundCoordinate rounds v to CoordinateScale fractional digits.
func RoundCoordinate(v float64) float64 {
	scale := math.Pow10(CoordinateScale)
	return math.Round(v*scale) / scale
}

// Hints carries address details a collector scraped directly from the page.
// They are only used when a location is created.
type Hints struct {
	Street     string   `json:"street,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	City       string   `json:"city,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Coordinates returns the hinted coordinates when both are present.
func (h Hints) Coordinates() (Coordinates, bool) {
	if h.Latitude == nil || h.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *h.Latitude, Longitude: *h.Longitude}, true
}

// Location is a venue as known to one source. SourceID and RawName form its
// natural key.
type Location struct {
	ID            int64         `json:"id"`
	SourceID      int64         `json:"source_id"`
	RawName       string        `json:"raw_name"`
	DisplayName   string        `json:"display_name,omitempty"`
	Street        string        `json:"street,omitempty"`
	HouseNumber   string        `json:"house_number,omitempty"`
	PostalCode    string        `json:"postal_code,omitempty"`
	City          string        `json:"city,omitempty"`
	Country       string        `json:"country"`
	Coordinates   *Coordinates  `json:"coordinates,omitempty"`
	GeocodeStatus GeocodeStatus `json:"geocoding_status,omitempty"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NormalizeName trims a scraped venue name into its lookup form.
func NormalizeName(raw string) string {
	return strings.TrimSpace(raw)
}

// New builds a not yet persisted location. The review status is derived once
// from whether coordinates are known: confirmed with coordinates, pending
// without.
func New(sourceID int64, rawName string, hints Hints, coords *Coordinates, geocode GeocodeStatus) *Location {
	status := StatusPending
	if coords != nil {
		rounded := coords.Round()
		coords = &rounded
		status = StatusConfirmed
	}
	return &Location{
		SourceID:      sourceID,
		RawName:       NormalizeName(rawName),
		Street:        strings.TrimSpace(hints.Street),
		PostalCode:    strings.TrimSpace(hints.PostalCode),
		City:          strings.TrimSpace(hints.City),
		Country:       DefaultCountry,
		Coordinates:   coords,
		GeocodeStatus: geocode,
		Status:        status,
	}
}

// Name returns the curated display name, falling back to the raw name.
func (l *Location) Name() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.RawName
}

// FullAddress formats the curated address, or returns "" when no street is
// known. The country is only appended when it differs from DefaultCountry.
func (l *Location) FullAddress() string {
	if l.Street == "" {
		return ""
	}

	parts := make([]string, 0, 3)
	street := l.Street
	if l.HouseNumber != "" {
		street += " " + l.HouseNumber
	}
	parts = append(parts, street)

	cityPart := strings.TrimSpace(strings.Join([]string{l.PostalCode, l.City}, " "))
	if cityPart != "" {
		parts = append(parts, cityPart)
	}

	if l.Country != "" && l.Country != DefaultCountry {
		parts = append(parts, l.Country)
	}

	return strings.Join(parts, ", ")
}

// Transition moves the location to the given review status. Every move between
// the three states is an explicit operator action; runs never call this.
func (l *Location) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("invalid location status: %q", to)
	}
	l.Status = to
	return nil
}
