package shiftclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStart(t *testing.T) {
	day := func(d, h, min int) time.Time {
		return time.Date(2025, 3, d, h, min, 0, 0, time.UTC)
	}

	testCases := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{"exactly at day shift start", day(10, 7, 0), day(10, 7, 0)},
		{"mid morning", day(10, 9, 30), day(10, 7, 0)},
		{"last minute of day shift", day(10, 18, 59), day(10, 7, 0)},
		{"exactly at night shift start", day(10, 19, 0), day(10, 19, 0)},
		{"late evening", day(10, 23, 59), day(10, 19, 0)},
		{"after midnight belongs to yesterday's night shift", day(11, 0, 0), day(10, 19, 0)},
		{"early morning belongs to yesterday's night shift", day(11, 6, 59), day(10, 19, 0)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Start(tc.now))
		})
	}
}

func TestStartCrossesMonthBoundary(t *testing.T) {
	now := time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)
	expected := time.Date(2025, 3, 31, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, expected, Start(now))
}

func TestSameShift(t *testing.T) {
	a := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	b := time.Date(2025, 3, 10, 18, 59, 0, 0, time.UTC)
	c := time.Date(2025, 3, 10, 19, 0, 1, 0, time.UTC)

	assert.True(t, SameShift(a, b))
	assert.False(t, SameShift(b, c))
}

func TestDay(t *testing.T) {
	assert.Equal(t, "2025-03-10", Day(time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)))
}
