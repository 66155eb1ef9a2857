package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// set is a bitmask over the values 0-63.
type set uint64

func (s set) has(v int) bool { return s&(1<<uint(v)) != 0 }

func (s *set) add(v int) { *s |= 1 << uint(v) }

type field struct {
	name     string
	min, max int
	names    map[string]int
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	"so": 0, "mo": 1, "di": 2, "mi": 3, "do": 4, "fr": 5, "sa": 6,
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var fields = [5]field{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12, names: monthNames},
	{name: "day-of-week", min: 0, max: 6, names: weekdayNames},
}

// Cron is a parsed cron expression bound to a time zone.
type Cron struct {
	expr     string
	loc      *time.Location
	minutes  set
	hours    set
	days     set
	months   set
	weekdays set
}

// Parse parses expr, evaluating it in loc. A nil loc means UTC.
func Parse(expr string, loc *time.Location) (*Cron, error) {
	parts := strings.Fields(strings.ToLower(expr))
	if len(parts) != len(fields) {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}

	var sets [5]set
	for i, f := range fields {
		s, err := f.parse(parts[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, f.name, err)
		}
		sets[i] = s
	}

	if loc == nil {
		loc = time.UTC
	}
	return &Cron{
		expr:     expr,
		loc:      loc,
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

// Weekly builds the expression for "days at hour:minute", for example
// Weekly("tue,fri", 6, 0) is "0 6 * * tue,fri".
func Weekly(days string, hour, minute int) string {
	days = strings.ReplaceAll(strings.TrimSpace(days), " ", "")
	if days == "" {
		days = "*"
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, days)
}

// String returns the expression and zone.
func (c *Cron) String() string {
	return fmt.Sprintf("%s (%s)", c.expr, c.loc)
}

// Location is the zone the expression is evaluated in.
func (c *Cron) Location() *time.Location {
	return c.loc
}

// Next returns the first matching minute strictly after t, or the zero time
// if none exists within four years (e.g. "0 0 31 2 *").
func (c *Cron) Next(t time.Time) time.Time {
	t = t.In(c.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		switch {
		case !c.months.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, c.loc)
		case !c.days.has(t.Day()) || !c.weekdays.has(int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.loc)
		case !c.hours.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, c.loc)
		case !c.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

func (f field) parse(list string) (set, error) {
	var result set
	for _, term := range strings.Split(list, ",") {
		s, err := f.parseTerm(term)
		if err != nil {
			return 0, err
		}
		result |= s
	}
	return result, nil
}

// parseTerm handles *, */N, V, V-V and V-V/N.
func (f field) parseTerm(term string) (set, error) {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepPart)
		}
		step = n
	}

	lo, hi := f.min, f.max
	if rangePart != "*" {
		from, to, isRange := strings.Cut(rangePart, "-")
		var err error
		if lo, err = f.value(from); err != nil {
			return 0, err
		}
		hi = lo
		if isRange {
			if hi, err = f.value(to); err != nil {
				return 0, err
			}
		} else if hasStep {
			hi = f.max
		}
		if lo > hi {
			return 0, fmt.Errorf("range %q runs backwards", rangePart)
		}
	}

	var s set
	for v := lo; v <= hi; v += step {
		s.add(v)
	}
	return s, nil
}

func (f field) value(text string) (int, error) {
	if v, ok := f.names[text]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", v, f.min, f.max)
	}
	return v, nil
}
