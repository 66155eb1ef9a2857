// Package calendar renders stored events as an iCalendar feed.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
)

const uidDomain = "municipal-events"

// Entry is one event together with its resolved venue, if any.
type Entry struct {
	Event    *event.Event
	Location *location.Location
	Source   string
}

// GenerateICS renders entries as one VCALENDAR. Event times are wall-clock
// times in tz. Returns "" for no entries.
func GenerateICS(entries []Entry, name string, tz *time.Location) string {
	if len(entries) == 0 {
		return ""
	}
	if tz == nil {
		tz = time.UTC
	}

	var ics strings.Builder
	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString("PRODID:-//Municipal Events//municipal-events//DE\r\n")
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	if name != "" {
		writeLine(&ics, "X-WR-CALNAME:"+escapeICS(name))
	}
	writeLine(&ics, "X-WR-TIMEZONE:"+tz.String())

	stamp := formatICSTime(time.Now())
	for _, e := range entries {
		writeEvent(&ics, e, tz, stamp)
	}

	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

func writeEvent(ics *strings.Builder, e Entry, tz *time.Location, stamp string) {
	evt := e.Event
	ics.WriteString("BEGIN:VEVENT\r\n")
	writeLine(ics, fmt.Sprintf("UID:%d-%s@%s", evt.SourceID, evt.ExternalID, uidDomain))
	writeLine(ics, "DTSTAMP:"+stamp)

	if evt.Time == nil {
		// All-day event; DTEND is exclusive.
		last := evt.Date
		if evt.EndDate != nil {
			last = *evt.EndDate
		}
		writeLine(ics, "DTSTART;VALUE=DATE:"+evt.Date.Format("20060102"))
		writeLine(ics, "DTEND;VALUE=DATE:"+last.AddDate(0, 0, 1).Format("20060102"))
	} else {
		writeLine(ics, "DTSTART:"+formatICSTime(evt.Start(tz)))
		if end, ok := evt.End(tz); ok && end.After(evt.Start(tz)) {
			writeLine(ics, "DTEND:"+formatICSTime(end))
		}
	}

	writeLine(ics, "SUMMARY:"+escapeICS(evt.Title))
	if e.Source != "" {
		writeLine(ics, "DESCRIPTION:"+escapeICS(e.Source))
	}
	if where := locationText(e); where != "" {
		writeLine(ics, "LOCATION:"+escapeICS(where))
	}
	if e.Location != nil && e.Location.Coordinates != nil {
		c := e.Location.Coordinates
		writeLine(ics, fmt.Sprintf("GEO:%.6f;%.6f", c.Latitude, c.Longitude))
	}
	if evt.URL != "" {
		writeLine(ics, "URL:"+evt.URL)
	}
	ics.WriteString("STATUS:CONFIRMED\r\n")
	ics.WriteString("TRANSP:OPAQUE\r\n")
	ics.WriteString("END:VEVENT\r\n")
}

// locationText prefers the curated venue and falls back to the scraped text.
func locationText(e Entry) string {
	if e.Location == nil || e.Location.Status == location.StatusIgnored {
		return e.Event.RawLocation
	}
	if addr := e.Location.FullAddress(); addr != "" {
		return e.Location.Name() + ", " + addr
	}
	return e.Location.Name()
}

// formatICSTime formats a time.Time as an iCalendar UTC datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeICS escapes text values per RFC 5545
func escapeICS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// writeLine folds content lines longer than 75 octets without splitting a
// UTF-8 sequence.
func writeLine(ics *strings.Builder, line string) {
	limit := 75
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		ics.WriteString(line[:cut])
		ics.WriteString("\r\n ")
		line = line[cut:]
		// Continuation lines start with the folding space.
		limit = 74
	}
	ics.WriteString(line)
	ics.WriteString("\r\n")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
