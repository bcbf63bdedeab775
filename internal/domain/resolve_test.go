package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// helper: build a time in the given tz and return its UTC
func mustLocalUTC(t *testing.T, tz string, y int, m time.Month, d, hh, mm, ss int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	require.NoError(t, err)
	return time.Date(y, m, d, hh, mm, ss, 0, loc).UTC()
}

func TestResolveNext_Rollover(t *testing.T) {
	tod := TimeOfDay{Hour: 9, Minute: 0}

	// one second before: trigger is today 09:00 UTC
	now := time.Date(2025, time.June, 10, 8, 59, 59, 0, time.UTC)
	next, err := ResolveNext(tod, "UTC", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC), next)

	// one second after: trigger rolls to tomorrow
	now = time.Date(2025, time.June, 10, 9, 0, 1, 0, time.UTC)
	next, err = ResolveNext(tod, "UTC", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC), next)

	// exactly at the trigger counts as passed
	now = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)
	next, err = ResolveNext(tod, "UTC", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestResolveNext_DSTSpringForward(t *testing.T) {
	// Europe/Berlin jumps CET(+1) -> CEST(+2) on 2025-03-30.
	tod := TimeOfDay{Hour: 9, Minute: 0}

	// day before the transition: 09:00 local is 08:00 UTC
	now := mustLocalUTC(t, "Europe/Berlin", 2025, time.March, 29, 10, 0, 0)
	next, err := ResolveNext(tod, "Europe/Berlin", now)
	require.NoError(t, err)
	require.Equal(t, mustLocalUTC(t, "Europe/Berlin", 2025, time.March, 30, 9, 0, 0), next)
	require.Equal(t, 7, next.Hour(), "offset must be taken at the target date, not at now")

	loc, _ := time.LoadLocation("Europe/Berlin")
	require.Equal(t, 9, next.In(loc).Hour(), "local wall clock stays 09:00 across the transition")
}

func TestResolveNext_DSTFallBack(t *testing.T) {
	// America/New_York falls EDT(-4) -> EST(-5) on 2025-11-02.
	tod := TimeOfDay{Hour: 9, Minute: 0}

	now := mustLocalUTC(t, "America/New_York", 2025, time.November, 1, 12, 0, 0)
	next, err := ResolveNext(tod, "America/New_York", now)
	require.NoError(t, err)

	loc, _ := time.LoadLocation("America/New_York")
	local := next.In(loc)
	require.Equal(t, "2025-11-02", local.Format("2006-01-02"))
	require.Equal(t, 9, local.Hour())
	require.Equal(t, 14, next.Hour(), "09:00 EST is 14:00 UTC after the fall-back")
}

func TestResolveNext_ConfigErrors(t *testing.T) {
	now := time.Now().UTC()

	_, err := ResolveNext(TimeOfDay{Hour: 9}, "Mars/Olympus", now)
	require.ErrorIs(t, err, ErrInvalidTimezone)

	_, err = ResolveNext(TimeOfDay{Hour: 24, Minute: 0}, "UTC", now)
	require.ErrorIs(t, err, ErrInvalidTimeOfDay)

	_, err = ResolveNext(TimeOfDay{Hour: 9, Minute: -1}, "UTC", now)
	require.ErrorIs(t, err, ErrInvalidTimeOfDay)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("14:30")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 14, Minute: 30}, tod)
	require.Equal(t, "14:30", tod.String())

	for _, bad := range []string{
		"25:00", "10:60", "abc", "", "1030",
		// the whole string must be the time
		"09:30xyz", "x09:30", "09:30 ", "09:30:00",
	} {
		_, err := ParseTimeOfDay(bad)
		require.ErrorIs(t, err, ErrInvalidTimeOfDay, "input %q", bad)
	}
}

func TestLocalDate(t *testing.T) {
	// 20:30 UTC is already the next day in Almaty (+05/+06)
	now := time.Date(2025, time.June, 10, 20, 30, 0, 0, time.UTC)
	d, err := LocalDate("Asia/Almaty", now)
	require.NoError(t, err)
	require.Equal(t, "2025-06-11", d)

	_, err = LocalDate("Not/AZone", now)
	require.ErrorIs(t, err, ErrInvalidTimezone)
}
