// Package dastime parses das time strings and does the calendar arithmetic
// used to snap requests onto cache block boundaries. All times are UTC.
package dastime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// ISOLayout is the millisecond-precision layout used in job records.
const ISOLayout = "2006-01-02T15:04:05.000"

var clockLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
	"15",
}

// Parse accepts YYYY, YYYY-MM, YYYY-MM-DD and YYYY-DDD dates, optionally
// followed by 'T' or a space and HH[:MM[:SS[.fff]]], with an optional
// trailing Z.
func Parse(s string) (time.Time, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	if s == "" {
		return time.Time{}, errors.Query("empty time value")
	}

	date, clock, hasClock := strings.Cut(strings.Replace(s, " ", "T", 1), "T")

	day, err := parseDate(date)
	if err != nil {
		return time.Time{}, errors.Query("unparseable time %q", raw)
	}
	if !hasClock || clock == "" {
		return day, nil
	}

	for _, layout := range clockLayouts {
		c, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		offset := c.Sub(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC))
		return day.Add(offset), nil
	}
	return time.Time{}, errors.Query("unparseable time %q", raw)
}

func parseDate(date string) (time.Time, error) {
	parts := strings.Split(date, "-")
	switch len(parts) {
	case 1:
		return time.Parse("2006", date)
	case 2:
		if len(parts[1]) == 3 {
			year, err := strconv.Atoi(parts[0])
			if err != nil || len(parts[0]) != 4 {
				return time.Time{}, fmt.Errorf("bad year %q", parts[0])
			}
			doy, err := strconv.Atoi(parts[1])
			if err != nil || doy < 1 || doy > daysIn(year) {
				return time.Time{}, fmt.Errorf("bad day of year %q", parts[1])
			}
			return time.Date(year, 1, doy, 0, 0, 0, 0, time.UTC), nil
		}
		return time.Parse("2006-01", date)
	case 3:
		return time.Parse("2006-01-02", date)
	}
	return time.Time{}, fmt.Errorf("bad date %q", date)
}

func daysIn(year int) int {
	return time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// ISO formats t with millisecond precision.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Compact formats t with trailing zero fields removed and no colons, for
// use in filenames: 2023-01-02, 2023-01-02T10-30, 2023-01-02T10-30-05.
func Compact(t time.Time) string {
	t = t.UTC()
	switch {
	case t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0:
		return t.Format("2006-01-02")
	case t.Second() == 0 && t.Nanosecond() == 0:
		return t.Format("2006-01-02T15-04")
	case t.Nanosecond() == 0:
		return t.Format("2006-01-02T15-04-05")
	default:
		return t.Format("2006-01-02T15-04-05.000")
	}
}
