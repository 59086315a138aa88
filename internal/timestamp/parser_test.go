package timestamp

import (
	"testing"
	"time"
)

func TestParseStart_UnixMillis(t *testing.T) {
	now := time.Date(2021, 9, 1, 12, 0, 0, 0, time.UTC)

	ts, err := ParseStart("1627776000000", now) // 2021-08-01T00:00:00Z
	if err != nil {
		t.Fatalf("ParseStart: %v", err)
	}
	want := time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("ParseStart = %v, want %v", ts, want)
	}
}

func TestParseStart_ISO8601(t *testing.T) {
	now := time.Date(2021, 9, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"date only", "2021-08-01"},
		{"date and minutes", "2021-08-01T00:05"},
		{"full seconds", "2021-08-01T00:05:23"},
		{"millis", "2021-08-01T00:05:23.541"},
		{"rfc3339", "2021-08-01T00:05:23Z"},
		{"space separated", "2021-08-01 00:05:23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseStart(tt.input, now)
			if err != nil {
				t.Fatalf("ParseStart(%q): %v", tt.input, err)
			}
			if ts.Year() != 2021 || ts.Month() != time.August || ts.Day() != 1 {
				t.Errorf("ParseStart(%q) = %v, want 2021-08-01", tt.input, ts)
			}
		})
	}
}

func TestParseStart_Bounds(t *testing.T) {
	now := time.Date(2021, 9, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ParseStart("2020-01-01", now); err == nil {
		t.Error("expected error for start older than one year")
	}
	if _, err := ParseStart("2022-01-01", now); err == nil {
		t.Error("expected error for start in the future")
	}
	if _, err := ParseStart("not-a-time", now); err == nil {
		t.Error("expected error for garbage input")
	}
	if _, err := ParseStart("", now); err == nil {
		t.Error("expected error for empty input")
	}
}
