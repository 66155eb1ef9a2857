package event

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the storage and display format for event dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clock is a time of day without a date.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// NewClock validates hour and minute.
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid time of day %02d:%02d", hour, minute)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// String formats c as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Duration is the offset of c from midnight.
func (c Clock) Duration() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, ok := ParseClock(string(b))
	if !ok {
		return fmt.Errorf("invalid time of day %q", string(b))
	}
	*c = parsed
	return nil
}

var (
	clockPattern       = regexp.MustCompile(`(\d{1,2})[:.](\d{2})`)
	clockHourPattern   = regexp.MustCompile(`(?i)\b(\d{1,2})\s*uhr\b`)
	numericDatePattern = regexp.MustCompile(`(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{4}|\d{2})\b`)
	namedDatePattern   = regexp.MustCompile(`(?i)(\d{1,2})\.?\s*(januar|jan|februar|feb|märz|maerz|mär|mrz|april|apr|mai|juni|jun|juli|jul|august|aug|september|sept|sep|oktober|okt|november|nov|dezember|dez)\.?\s*(\d{4})?`)
	isoDatePattern     = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

var germanMonths = map[string]time.Month{
	"januar": time.January, "jan": time.January,
	"februar": time.February, "feb": time.February,
	"märz": time.March, "maerz": time.March, "mär": time.March, "mrz": time.March,
	"april": time.April, "apr": time.April,
	"mai":  time.May,
	"juni": time.June, "jun": time.June,
	"juli": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November,
	"dezember": time.December, "dez": time.December,
}

// ParseClock extracts the first time of day from text such as "20:00 Uhr",
// "19.30 Uhr" or "20 Uhr".
func ParseClock(text string) (Clock, bool) {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		c, err := NewClock(hour, minute)
		return c, err == nil
	}
	if m := clockHourPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if c, err := NewClock(hour, 0); err == nil {
			return c, true
		}
	}
	return Clock{}, false
}

// ParseClockRange extracts start and optional end time from text such as
// "20:00 Uhr bis 22:00 Uhr" or "14:00 - 18:00".
func ParseClockRange(text string) (start *Clock, end *Clock) {
	matches := clockPattern.FindAllStringSubmatch(text, 2)
	for i, m := range matches {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		c, err := NewClock(hour, minute)
		if err != nil {
			continue
		}
		if i == 0 {
			start = &c
		} else {
			end = &c
		}
	}
	if start == nil {
		if c, ok := ParseClock(text); ok {
			start = &c
		}
	}
	return start, end
}

// ParseDate extracts the first date from German date text.
// Returns time.Time{} (zero value) if parsing fails.
// Supports formats: "06.02.2026", "Fr, 6.2.26", "6. Februar 2026",
// "6. Feb" (no year, resolved against ref) and "2026-02-06".
func ParseDate(text string, ref time.Time) time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}
	}

	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse(DateLayout, m[0]); err == nil {
			return t
		}
	}

	if m := numericDatePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		return makeDate(year, time.Month(month), day)
	}

	if m := namedDatePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := germanMonths[strings.ToLower(m[2])]
		if m[3] != "" {
			year, _ := strconv.Atoi(m[3])
			return makeDate(year, month, day)
		}
		// No year given: take the next occurrence on or after ref's day.
		candidate := makeDate(ref.Year(), month, day)
		if !candidate.IsZero() && candidate.Before(DateOnly(ref)) {
			candidate = makeDate(ref.Year()+1, month, day)
		}
		return candidate
	}

	return time.Time{}
}

// ParseDateRange extracts a start and optional end date from text such as
// "06.02.2026 - 08.02.2026".
func ParseDateRange(text string, ref time.Time) (start time.Time, end *time.Time) {
	matches := numericDatePattern.FindAllString(text, 2)
	if len(matches) == 2 {
		start = ParseDate(matches[0], ref)
		if e := ParseDate(matches[1], ref); !e.IsZero() && !e.Equal(start) {
			end = &e
		}
		return start, end
	}
	return ParseDate(text, ref), nil
}

// makeDate builds a UTC date, rejecting overflow such as 31.02.
func makeDate(year int, month time.Month, day int) time.Time {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}
	}
	return t
}
