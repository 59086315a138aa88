package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxBackfill bounds how far back an initial collection start may lie.
// Arrays keep at most one year of performance history, so anything
// older can never be served.
const MaxBackfill = 365 * 24 * time.Hour

// iso8601Layouts are the accepted wall-clock forms, most specific
// first. Truncated forms (date only, date+hour, ...) are all valid.
var iso8601Layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseStart parses an initial collection start time given either as a
// UNIX timestamp in milliseconds or as an ISO-8601 string. The result
// must lie in the past and at most MaxBackfill before now.
func ParseStart(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty start time")
	}

	var ts time.Time
	if isDigits(value) {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing unix-ms timestamp %q: %w", value, err)
		}
		ts = time.UnixMilli(ms).UTC()
	} else {
		var err error
		ts, err = parseISO8601(value)
		if err != nil {
			return time.Time{}, err
		}
	}

	if ts.After(now) {
		return time.Time{}, fmt.Errorf("start time %s lies in the future", ts.Format(time.RFC3339))
	}
	if now.Sub(ts) > MaxBackfill {
		return time.Time{}, fmt.Errorf("start time %s is more than one year in the past", ts.Format(time.RFC3339))
	}
	return ts, nil
}

func parseISO8601(value string) (time.Time, error) {
	for _, layout := range iso8601Layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q (want unix-ms or ISO-8601)", value)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
