package event

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
)

// Event is one stored occurrence. SourceID and ExternalID form its natural key.
type Event struct {
	ID          int64      `json:"id"`
	SourceID    int64      `json:"source_id"`
	LocationID  *int64     `json:"location_id,omitempty"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Date        time.Time  `json:"date"`
	Time        *Clock     `json:"time,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	EndTime     *Clock     `json:"end_time,omitempty"`
	URL         string     `json:"url,omitempty"`
	RawLocation string     `json:"raw_location,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// GenerateID derives a deterministic external id for sites that do not
// publish one. The date is part of the key so recurring occurrences of the
// same title stay distinct.
func GenerateID(title string, date time.Time, extra ...string) string {
	h := sha1.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	h.Write([]byte("|" + date.Format(DateLayout)))
	for _, e := range extra {
		h.Write([]byte("|" + e))
	}
	return fmt.Sprintf("%x_%s", h.Sum(nil)[:8], date.Format(DateLayout))
}

// New creates an Event from a validated record.
func New(sourceID int64, rec Record, locationID *int64) *Event {
	evt := &Event{
		SourceID:   sourceID,
		ExternalID: strings.TrimSpace(rec.ExternalID),
	}
	evt.Apply(rec, locationID)
	return evt
}

// Apply overwrites every mutable field with the record's values, including
// clearing optional fields the record leaves empty, and reactivates a
// soft-deleted event. An event that disappears from a site and comes back
// needs no operator intervention.
func (e *Event) Apply(rec Record, locationID *int64) {
	e.Title = strings.TrimSpace(rec.Title)
	e.Date = DateOnly(rec.Date)
	e.Time = rec.Time
	e.EndDate = nil
	if rec.EndDate != nil {
		end := DateOnly(*rec.EndDate)
		e.EndDate = &end
	}
	e.EndTime = rec.EndTime
	e.URL = strings.TrimSpace(rec.URL)
	e.RawLocation = strings.TrimSpace(rec.RawLocation)
	e.LocationID = locationID
	e.DeletedAt = nil
}

// IsDeleted reports whether the event is soft-deleted.
func (e *Event) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Start returns the start of the event as wall-clock time in loc. Events
// without a start time begin at midnight.
func (e *Event) Start(loc *time.Location) time.Time {
	y, m, d := e.Date.Date()
	hour, minute := 0, 0
	if e.Time != nil {
		hour, minute = e.Time.Hour, e.Time.Minute
	}
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}

// End returns the end of the event in loc and whether one is known.
func (e *Event) End(loc *time.Location) (time.Time, bool) {
	if e.EndDate == nil && e.EndTime == nil {
		return time.Time{}, false
	}
	day := e.Date
	if e.EndDate != nil {
		day = *e.EndDate
	}
	y, m, d := day.Date()
	hour, minute := 0, 0
	if e.EndTime != nil {
		hour, minute = e.EndTime.Hour, e.EndTime.Minute
	}
	return time.Date(y, m, d, hour, minute, 0, 0, loc), true
}

// IsPast reports whether the event (or its end date, when set) lies before
// the day of now.
func (e *Event) IsPast(now time.Time) bool {
	last := e.Date
	if e.EndDate != nil {
		last = *e.EndDate
	}
	return last.Before(DateOnly(now))
}
