package dastime

import (
	"strconv"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// Unit is a calendar block size.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
	Month
	Year
)

var unitNames = []string{"second", "minute", "hour", "day", "month", "year"}

func (u Unit) String() string {
	if u < Second || u > Year {
		return "unknown"
	}
	return unitNames[u]
}

// ParseUnit reads block sizes such as "1 day", "day" or "1 months".
func ParseUnit(s string) (Unit, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 2 {
		if fields[0] != "1" {
			return 0, errors.Query("block size %q: only single units are supported", s)
		}
		fields = fields[1:]
	}
	if len(fields) != 1 {
		return 0, errors.Query("unknown block size %q", s)
	}
	name := strings.TrimSuffix(fields[0], "s")
	for i, n := range unitNames {
		if n == name {
			return Unit(i), nil
		}
	}
	return 0, errors.Query("unknown block size %q", s)
}

// Floor returns the start of the unit containing t.
func Floor(t time.Time, u Unit) time.Time {
	t = t.UTC()
	switch u {
	case Year:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Hour:
		return t.Truncate(time.Hour)
	case Minute:
		return t.Truncate(time.Minute)
	default:
		return t.Truncate(time.Second)
	}
}

// Ceil returns t if it lies on a unit boundary and the start of the next
// unit otherwise.
func Ceil(t time.Time, u Unit) time.Time {
	f := Floor(t, u)
	if f.Equal(t) {
		return f
	}
	return Step(f, u)
}

// Step advances a boundary by one unit with calendar-aware arithmetic.
func Step(t time.Time, u Unit) time.Time {
	switch u {
	case Year:
		return t.AddDate(1, 0, 0)
	case Month:
		return t.AddDate(0, 1, 0)
	case Day:
		return t.AddDate(0, 0, 1)
	case Hour:
		return t.Add(time.Hour)
	case Minute:
		return t.Add(time.Minute)
	default:
		return t.Add(time.Second)
	}
}

// Range is a half open time interval.
type Range struct {
	Begin time.Time
	End   time.Time
}

// Blocks snaps [begin, end) outward to unit boundaries and returns the
// contained unit-sized blocks in order.
func Blocks(begin, end time.Time, u Unit) []Range {
	var out []Range
	start := Floor(begin, u)
	stop := Ceil(end, u)
	if !stop.After(start) {
		stop = Step(start, u)
	}
	for cur := start; cur.Before(stop); {
		next := Step(cur, u)
		out = append(out, Range{Begin: cur, End: next})
		cur = next
	}
	return out
}

var resolutionUnits = map[string]float64{
	"":            1,
	"s":           1,
	"sec":         1,
	"second":      1,
	"ms":          1e-3,
	"msec":        1e-3,
	"millisecond": 1e-3,
	"us":          1e-6,
	"microsecond": 1e-6,
	"min":         60,
	"minute":      60,
	"h":           3600,
	"hr":          3600,
	"hour":        3600,
	"d":           86400,
	"day":         86400,
}

// ParseResolution reads a resolution such as "60 s", "1.5min" or "120" into
// seconds. Empty strings and "intrinsic" mean raw resolution and return 0.
func ParseResolution(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "intrinsic" || s == "raw" {
		return 0, nil
	}
	i := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || (r >= 'a' && r <= 'z' && r != 'e')
	})
	if i < 0 {
		i = len(s)
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, errors.Query("unparseable resolution %q", s)
	}
	unit := strings.TrimSpace(s[i:])
	scale, ok := resolutionUnits[unit]
	if !ok {
		scale, ok = resolutionUnits[strings.TrimSuffix(unit, "s")]
	}
	if !ok {
		return 0, errors.Query("unknown resolution unit %q", unit)
	}
	if num < 0 {
		return 0, errors.Query("negative resolution %q", s)
	}
	return num * scale, nil
}

// FormatResolution renders seconds compactly, e.g. 60 -> "60s", 0.5 -> "500ms".
func FormatResolution(sec float64) string {
	switch {
	case sec <= 0:
		return "intrinsic"
	case sec < 1:
		return strconv.FormatFloat(sec*1000, 'f', -1, 64) + "ms"
	default:
		return strconv.FormatFloat(sec, 'f', -1, 64) + "s"
	}
}
