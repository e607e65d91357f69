package filter

import (
	"fmt"
	"strings"
	"time"
)

// dateTimeFormats are tried in order, most specific first. The day-first
// forms at the end match the dates payment files carry.
var dateTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05.999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
}

// ParseDateTime parses a timestamp in any of the accepted layouts.
func ParseDateTime(value string) (time.Time, error) {
	for _, format := range dateTimeFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

// getDatePrecisionFromString infers how much of the timestamp the caller
// actually wrote. "2024-03-15" filtered with eq should cover the whole day,
// not midnight only; the precision drives that range expansion.
func getDatePrecisionFromString(dateStr string) string {
	if idx := strings.Index(dateStr, "."); idx != -1 {
		fraction := dateStr[idx+1:]
		fraction = strings.TrimSuffix(fraction, "Z")
		if cut := strings.IndexAny(fraction, "+-"); cut != -1 {
			fraction = fraction[:cut]
		}
		switch {
		case len(fraction) >= 6:
			return "microseconds"
		case len(fraction) > 0:
			return "milliseconds"
		}
	}

	switch strings.Count(dateStr, ":") {
	case 0:
	case 1:
		return "minute"
	default:
		return "second"
	}

	if strings.ContainsAny(dateStr, "T ") {
		return "hour"
	}
	return "day"
}

// getDatePrecisionFromTime is the fallback when only a parsed time is
// available: the finest non-zero component wins.
func getDatePrecisionFromTime(t time.Time) string {
	switch {
	case t.Nanosecond()%1000000 != 0:
		return "microseconds"
	case t.Nanosecond() != 0:
		return "milliseconds"
	case t.Second() != 0:
		return "second"
	case t.Minute() != 0:
		return "minute"
	case t.Hour() != 0:
		return "hour"
	}
	return "day"
}

// computeTimestampRange expands a timestamp to the half-open interval its
// precision covers, so equality filters on coarse dates become range scans.
func computeTimestampRange(ts TimestampValue) (floor time.Time, ceiling time.Time) {
	t := ts.Time
	switch ts.Precision {
	case "microseconds":
		floor = t.Truncate(time.Microsecond)
		ceiling = floor.Add(time.Microsecond)
	case "milliseconds":
		floor = t.Truncate(time.Millisecond)
		ceiling = floor.Add(time.Millisecond)
	case "second":
		floor = t.Truncate(time.Second)
		ceiling = floor.Add(time.Second)
	case "minute":
		floor = t.Truncate(time.Minute)
		ceiling = floor.Add(time.Minute)
	case "hour":
		floor = t.Truncate(time.Hour)
		ceiling = floor.Add(time.Hour)
	case "day":
		y, m, d := t.Date()
		floor = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
		ceiling = floor.AddDate(0, 0, 1)
	default:
		floor = t.Truncate(time.Second)
		ceiling = floor.Add(time.Second)
	}
	return floor, ceiling
}
