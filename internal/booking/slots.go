// Package booking owns the durable appointment state: a SQLite store with
// race-free slot reservation, and the pure slot calendar derived from clinic
// hours.
package booking

import (
	"fmt"
	"time"
)

// Clinic hours: half-hour slots from 9:00 AM through 4:30 PM inclusive, with
// the lunch hour (12:00 PM and 12:30 PM) closed. Weekends are closed entirely.
const (
	openHour  = 9
	lastHour  = 16
	lunchHour = 12
)

// DateLayout is the wire format for appointment dates.
const DateLayout = "2006-01-02"

// DaySlots returns the full ordered slot-label set for date, or nil when the
// clinic is closed (Saturday/Sunday).
func DaySlots(date time.Time) []string {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil
	}
	slots := make([]string, 0, 14)
	for hour := openHour; hour <= lastHour; hour++ {
		if hour == lunchHour {
			continue
		}
		slots = append(slots, FormatSlot(hour, 0), FormatSlot(hour, 30))
	}
	return slots
}

// FormatSlot renders a slot label as "H:MM AM/PM": no leading zero on the
// hour, two-digit minute, uppercase meridian. hour is 24-hour clock.
func FormatSlot(hour, minute int) string {
	meridian := "AM"
	if hour >= 12 {
		meridian = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, meridian)
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("booking: invalid date %q: %w", s, err)
	}
	return t, nil
}
