// Package recurrence computes fire times for the five recurrence kinds a
// notification request may carry. Everything here is pure: no clocks, no I/O.
package recurrence

import (
	"fmt"
	"sort"
	"time"

	"herald/internal/types"
)

// DefaultTimezone applies when a request names none.
const DefaultTimezone = "UTC"

// Spec is a validated recurrence rule bound to the location its wall clock
// arithmetic happens in. Anchor is the instant the request was accepted: its
// local time of day is the fire time of every occurrence, its weekday fixes
// weekly occurrences and its day of month fixes monthly ones. A zero Anchor
// takes these from the reference passed to NextFireTime.
type Spec struct {
	Kind     types.RecurrenceKind
	Days     []int
	Location *time.Location
	Anchor   time.Time
}

// AnchoredAt returns a copy of s anchored at t.
func (s Spec) AnchoredAt(t time.Time) Spec {
	s.Anchor = t
	return s
}

// FromInterval converts the wire interval into a Spec. tz is an IANA name;
// empty means UTC. The returned Spec has already been validated.
func FromInterval(iv types.Interval, tz string) (Spec, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Spec{}, types.NewFieldError(types.ErrCodeValidationInvalidTimezone, "timezone",
			fmt.Sprintf("unknown timezone %q", tz))
	}

	kinds := iv.ActiveKinds()
	if len(kinds) != 1 {
		return Spec{}, types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval",
			fmt.Sprintf("exactly one recurrence kind must be set, got %d", len(kinds)))
	}

	spec := Spec{Kind: kinds[0], Location: loc}
	if spec.Kind == types.RecurrenceDaysOfMonth {
		spec.Days = append([]int(nil), iv.Days...)
		sort.Ints(spec.Days)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate enforces a known kind, a location, and for days-of-month a
// non-empty duplicate-free set within [1,31].
func (s Spec) Validate() error {
	switch s.Kind {
	case types.RecurrenceOnce, types.RecurrenceDaily, types.RecurrenceWeekly, types.RecurrenceMonthly:
		if len(s.Days) > 0 {
			return types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval.days",
				"days may only be set for a days-of-month recurrence")
		}
	case types.RecurrenceDaysOfMonth:
		if len(s.Days) == 0 {
			return types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval.days",
				"must name at least one day")
		}
		seen := make(map[int]bool, len(s.Days))
		for _, d := range s.Days {
			if d < 1 || d > 31 {
				return types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval.days",
					fmt.Sprintf("day %d is outside 1-31", d))
			}
			if seen[d] {
				return types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval.days",
					fmt.Sprintf("day %d is listed twice", d))
			}
			seen[d] = true
		}
	default:
		return types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval",
			fmt.Sprintf("unknown recurrence kind %q", s.Kind))
	}
	if s.Location == nil {
		return types.NewFieldError(types.ErrCodeValidationInvalidTimezone, "timezone", "is required")
	}
	return nil
}

// IsRecurring reports whether the rule produces more than one occurrence.
func (s Spec) IsRecurring() bool {
	return s.Kind != types.RecurrenceOnce
}

// First returns the first fire time for a request accepted at the given
// instant. Once, daily, weekly and monthly fire immediately; days-of-month
// fires on the earliest listed day at or after acceptance.
func First(s Spec, accepted time.Time) (time.Time, bool) {
	if s.Kind == types.RecurrenceDaysOfMonth {
		if s.Anchor.IsZero() {
			s.Anchor = accepted
		}
		return nextDayOfMonth(s, accepted, true)
	}
	return accepted, true
}

// NextFireTime returns the earliest occurrence strictly after ref. Every
// candidate sits on the anchor's wall clock, so for a fixed anchor the result
// never decreases as ref grows. The boolean is false for Once, which never
// repeats.
func NextFireTime(s Spec, ref time.Time) (time.Time, bool) {
	if s.Anchor.IsZero() {
		s.Anchor = ref
	}
	switch s.Kind {
	case types.RecurrenceDaily:
		return nextDaily(s, ref)
	case types.RecurrenceWeekly:
		return nextWeekly(s, ref)
	case types.RecurrenceMonthly:
		return nextMonthly(s, ref)
	case types.RecurrenceDaysOfMonth:
		return nextDayOfMonth(s, ref, false)
	default:
		return time.Time{}, false
	}
}

func (s Spec) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// at builds the local instant of the given calendar day at the anchor's
// wall clock. Day and month may overflow.
func (s Spec) at(y int, m time.Month, d int) time.Time {
	a := s.Anchor.In(s.location())
	return time.Date(y, m, d, a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), s.location())
}

func nextDaily(s Spec, ref time.Time) (time.Time, bool) {
	y, m, d := ref.In(s.location()).Date()
	for i := 0; i < 3; i++ {
		if c := s.at(y, m, d+i); c.After(ref) {
			return c.UTC(), true
		}
	}
	return time.Time{}, false
}

// nextWeekly steps in whole weeks from the anchor's calendar day, starting
// one week before ref's.
func nextWeekly(s Spec, ref time.Time) (time.Time, bool) {
	ay, am, ad := s.Anchor.In(s.location()).Date()
	weeks := floorDiv(civilDays(ref.In(s.location()))-civilDays(s.Anchor.In(s.location())), 7) - 1
	for i := 0; i < 4; i++ {
		if c := s.at(ay, am, ad+7*(weeks+i)); c.After(ref) {
			return c.UTC(), true
		}
	}
	return time.Time{}, false
}

// nextMonthly keeps the anchor's day of month, clamped to the last day of
// shorter months: anchored on Jan 31 the sequence is Feb 28, Mar 31, Apr 30.
func nextMonthly(s Spec, ref time.Time) (time.Time, bool) {
	anchorDay := s.Anchor.In(s.location()).Day()
	y, m, _ := ref.In(s.location()).Date()
	for i := 0; i < 3; i++ {
		month := m + time.Month(i)
		d := anchorDay
		if last := daysIn(y, month, s.location()); d > last {
			d = last
		}
		if c := s.at(y, month, d); c.After(ref) {
			return c.UTC(), true
		}
	}
	return time.Time{}, false
}

// nextDayOfMonth scans forward month by month for the earliest listed day
// whose candidate is after ref (or equal, when inclusive). Days past a
// month's length are skipped for that month.
func nextDayOfMonth(s Spec, ref time.Time, inclusive bool) (time.Time, bool) {
	y, m, _ := ref.In(s.location()).Date()
	days := append([]int(nil), s.Days...)
	sort.Ints(days)

	// Any non-empty set of days in [1,31] hits within two months.
	for i := 0; i < 14; i++ {
		month := m + time.Month(i)
		last := daysIn(y, month, s.location())
		for _, d := range days {
			if d > last {
				break
			}
			candidate := s.at(y, month, d)
			if candidate.After(ref) || (inclusive && candidate.Equal(ref)) {
				return candidate.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// civilDays counts calendar days since the Unix epoch for t's local date.
func civilDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// daysIn returns the length of month m of year y; m may overflow 12.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
