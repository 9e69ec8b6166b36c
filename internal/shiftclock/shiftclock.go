package shiftclock

import "time"

// ShiftMinutes is the fixed length of an operating shift.
const ShiftMinutes = 720

// Shift boundaries, hours of the local day.
const (
	dayShiftHour   = 7
	nightShiftHour = 19
)

// Start maps a timestamp to the start instant of the shift it falls in.
// The day shift runs 07:00-19:00, the night shift 19:00-07:00; a timestamp
// before 07:00 belongs to the night shift that started yesterday at 19:00.
func Start(now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch h := now.Hour(); {
	case h >= dayShiftHour && h < nightShiftHour:
		return time.Date(y, m, d, dayShiftHour, 0, 0, 0, loc)
	case h >= nightShiftHour:
		return time.Date(y, m, d, nightShiftHour, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, nightShiftHour, 0, 0, 0, loc).AddDate(0, 0, -1)
	}
}

// SameShift reports whether two timestamps fall in the same shift window.
func SameShift(a, b time.Time) bool {
	return Start(a).Equal(Start(b))
}

// Day returns the calendar-day key used for daily counter and alert rows.
func Day(now time.Time) string {
	return now.Format("2006-01-02")
}
