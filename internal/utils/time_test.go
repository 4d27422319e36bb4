package utils

import (
	"testing"
	"time"
)

func TestFormatDelta(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"zero", 0, "0:00:00"},
		{"seconds only", 5 * time.Second, "0:00:05"},
		{"minutes and seconds", 3*time.Minute + 7*time.Second, "0:03:07"},
		{"hours", 2*time.Hour + 15*time.Minute + 30*time.Second, "2:15:30"},
		{"rounds subsecond", 4*time.Second + 600*time.Millisecond, "0:00:05"},
		{"negative clamps to zero", -3 * time.Second, "0:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDelta(tt.d); got != tt.expected {
				t.Errorf("FormatDelta(%v) = %q, want %q", tt.d, got, tt.expected)
			}
		})
	}
}

func TestFormatClock(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := FormatClock(ts); got != "03-09 14:05:07" {
		t.Errorf("FormatClock = %q, want %q", got, "03-09 14:05:07")
	}
}
