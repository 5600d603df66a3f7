package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock converts "HH:MM" (or "HH:MM:SS") to minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid clock hour %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock minute %q", value)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	return h*60 + m, nil
}

func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekStart returns the Monday that opens t's ISO week.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ZoneForPostalCode buckets a US ZIP code by its three-digit sectional center.
func ZoneForPostalCode(zip string) string {
	digits := make([]byte, 0, 5)
	for i := 0; i < len(zip) && len(digits) < 5; i++ {
		if zip[i] >= '0' && zip[i] <= '9' {
			digits = append(digits, zip[i])
		} else if len(digits) > 0 {
			break
		}
	}
	if len(digits) < 3 {
		return ""
	}
	return "Z" + string(digits[:3])
}
