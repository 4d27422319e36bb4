// Package utils provides small formatting helpers shared across pipemgr.
package utils

import (
	"fmt"
	"time"
)

// FormatDelta formats a duration as "H:MM:SS", the form used in profile
// rows and elapsed-time log lines.
func FormatDelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSeconds := int(d.Round(time.Second).Seconds())

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

// FormatClock formats a time as "MM-DD HH:MM:SS" for timestamp lines and
// the file headers written at pipeline start.
func FormatClock(t time.Time) string {
	return t.Format("01-02 15:04:05")
}

// Elapsed returns the whole seconds since the given anchor.
func Elapsed(since time.Time) time.Duration {
	return time.Since(since).Round(time.Second)
}
