package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownFrequency = errors.New("unknown frequency")
	ErrEmptyDays        = errors.New("weekly reminder needs at least one day")
	ErrInvalidDay       = errors.New("invalid weekday name")
	ErrInvalidTimeOfDay = errors.New("time of day out of range")
)

// ParseWeekday maps a weekday name (case-insensitive, full or three-letter)
// to time.Weekday. Unknown names return Sunday plus an error; callers creating
// a schedule must reject the error, the occurrence calculator treats it as a
// last-resort fallback for corrupt stored data.
func ParseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("%w: %q", ErrInvalidDay, name)
}

// ValidateSchedule rejects malformed schedule specs at creation time.
// Nothing here defaults silently: an unknown frequency or an empty weekly
// day-set is an error, not a guess.
func ValidateSchedule(freq Frequency, tod TimeOfDay, days []time.Weekday) error {
	switch freq {
	case FreqDaily, FreqMonthly:
	case FreqWeekly:
		if len(days) == 0 {
			return ErrEmptyDays
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, freq)
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, tod.Hour, tod.Minute)
	}
	return nil
}

// NextOccurrence computes the next instant a reminder is due to fire, strictly
// after now. All arithmetic is in now's location; callers pass UTC.
//
//   - daily: today at tod, or tomorrow if that has already passed.
//   - weekly: the earliest requested weekday at tod that is still ahead this
//     week, wrapping to the earliest requested weekday next week otherwise.
//   - monthly: same day-of-month next month at tod; if computed from a stale
//     base and still not ahead of now, one more month. time.AddDate
//     normalization applies (Jan 31 + 1 month lands in early March).
func NextOccurrence(freq Frequency, tod TimeOfDay, days []time.Weekday, now time.Time) (time.Time, error) {
	at := func(base time.Time) time.Time {
		return time.Date(base.Year(), base.Month(), base.Day(), tod.Hour, tod.Minute, 0, 0, base.Location())
	}

	switch freq {
	case FreqDaily:
		next := at(now)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case FreqWeekly:
		if len(days) == 0 {
			return time.Time{}, ErrEmptyDays
		}
		// Earliest candidate wins; pushing an already-passed candidate a full
		// week forward handles both "later today" and the wrap to next week.
		best := time.Time{}
		for _, d := range days {
			offset := (int(d) - int(now.Weekday()) + 7) % 7
			candidate := at(now.AddDate(0, 0, offset))
			if !candidate.After(now) {
				candidate = candidate.AddDate(0, 0, 7)
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
		return best, nil

	case FreqMonthly:
		next := at(now).AddDate(0, 1, 0)
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, freq)
}
