package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/location"
)

// ErrInvalidRecord is returned by Validate for records missing a mandatory
// field.
var ErrInvalidRecord = errors.New("invalid record")

// Record is the normalized intermediate form every collector produces.
// ExternalID, Title and Date are mandatory; everything else is optional.
type Record struct {
	ExternalID  string            `json:"external_id"`
	Title       string            `json:"title"`
	Date        time.Time         `json:"date"`
	Time        *Clock            `json:"time,omitempty"`
	EndDate     *time.Time        `json:"end_date,omitempty"`
	EndTime     *Clock            `json:"end_time,omitempty"`
	URL         string            `json:"url,omitempty"`
	RawLocation string            `json:"raw_location,omitempty"`
	Hints       location.Hints    `json:"location_hints,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Validate checks the mandatory fields.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("%w: missing external id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: %s: missing title", ErrInvalidRecord, r.ExternalID)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: %s: missing date", ErrInvalidRecord, r.ExternalID)
	}
	return nil
}

// Key returns the trimmed external id used for deduplication.
func (r Record) Key() string {
	return strings.TrimSpace(r.ExternalID)
}

// HasLocation reports whether the record names a venue.
func (r Record) HasLocation() bool {
	return location.NormalizeName(r.RawLocation) != ""
}
