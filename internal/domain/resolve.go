package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
)

// TimeOfDay is a wall-clock hour:minute pair, independent of date and zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" input from the command surface. The
// whole string must be the time: trailing or leading garbage is rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	tod := TimeOfDay{Hour: hour, Minute: minute}
	if !tod.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return tod, nil
}

// ResolveNext computes the next absolute trigger instant for a daily
// notification at tod in the given IANA zone, as seen from nowUTC.
//
// The trigger is today's date at tod in that zone if it is still ahead
// of nowUTC, otherwise tod on the following local calendar date. The
// UTC offset is taken as of the target local date, so a DST boundary
// between now and the trigger keeps the local wall-clock time stable.
func ResolveNext(tod TimeOfDay, timezone string, nowUTC time.Time) (time.Time, error) {
	if !tod.Valid() {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimeOfDay, tod)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}

	local := nowUTC.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if !next.After(nowUTC) {
		d := local.AddDate(0, 0, 1)
		next = time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	}
	return next.UTC(), nil
}

// LocalDate returns nowUTC's calendar date in the given zone as "2006-01-02".
func LocalDate(timezone string, nowUTC time.Time) (string, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return nowUTC.In(loc).Format("2006-01-02"), nil
}
