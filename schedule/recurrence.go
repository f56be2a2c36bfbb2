/*
Package schedule provides the pure calculators behind recipe expansion:
recurrence cadence arithmetic and loan amortization.

Both calculators are deterministic functions with no store access; the
batch engine feeds their output into the idempotent materialization loop.

KEY RULE (recurrence):
  Month-based cadences reset the date to day 1 before advancing, then clamp
  the target day-of-month to the resulting month's length. A recipe anchored
  on day 31 lands on Feb 28/29, Mar 31, Apr 30 - every cycle, not just once.
  Naive AddDate arithmetic would turn Jan 31 + 1 month into Mar 2/3.
*/
package schedule

import (
	"time"

	"github.com/jomonylw/flow-balance/ledger"
)

// =============================================================================
// CADENCE SPECIFICATION
// =============================================================================

type Frequency string

const (
	Daily     Frequency = "DAILY"
	Weekly    Frequency = "WEEKLY"
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Yearly    Frequency = "YEARLY"
)

// Spec describes a recurrence cadence: every Interval units of Frequency,
// optionally anchored to a day-of-month, day-of-week or month-of-year.
type Spec struct {
	Frequency Frequency
	Interval  int // every N units; >= 1

	DayOfMonth  *int          // 1..31, for MONTHLY/QUARTERLY/YEARLY
	DayOfWeek   *time.Weekday // for WEEKLY: snap forward to this weekday
	MonthOfYear *time.Month   // for YEARLY: override the target month
}

// Validate rejects malformed cadence parameters before any materialization.
func (s Spec) Validate() error {
	switch s.Frequency {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
	default:
		return &ledger.ValidationError{Field: "frequency", Reason: "unknown frequency " + string(s.Frequency)}
	}
	if s.Interval < 1 {
		return &ledger.ValidationError{Field: "interval", Reason: "must be at least 1"}
	}
	if s.DayOfMonth != nil && (*s.DayOfMonth < 1 || *s.DayOfMonth > 31) {
		return &ledger.ValidationError{Field: "dayOfMonth", Reason: "must be in 1..31"}
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < time.Sunday || *s.DayOfWeek > time.Saturday) {
		return &ledger.ValidationError{Field: "dayOfWeek", Reason: "must be a weekday"}
	}
	if s.MonthOfYear != nil && (*s.MonthOfYear < time.January || *s.MonthOfYear > time.December) {
		return &ledger.ValidationError{Field: "monthOfYear", Reason: "must be in 1..12"}
	}
	return nil
}

// =============================================================================
// NEXT OCCURRENCE
// =============================================================================

// NextDate maps the current occurrence to the next one. Pure and
// deterministic; the caller owns cursor state.
func NextDate(current ledger.Date, s Spec) ledger.Date {
	switch s.Frequency {
	case Daily:
		return current.AddDays(s.Interval)

	case Weekly:
		next := current.AddDays(7 * s.Interval)
		if s.DayOfWeek != nil {
			next = snapToWeekday(next, *s.DayOfWeek)
		}
		return next

	case Monthly:
		return current.ClampedAddMonths(s.Interval, s.targetDay(current))

	case Quarterly:
		return current.ClampedAddMonths(3*s.Interval, s.targetDay(current))

	case Yearly:
		next := ledger.NewDate(current.Year()+s.Interval, current.Month(), 1)
		if s.MonthOfYear != nil {
			next = ledger.NewDate(next.Year(), *s.MonthOfYear, 1)
		}
		return ledger.ClampDay(next.Year(), next.Month(), s.targetDay(current))

	default:
		// Validate() rejects unknown frequencies; keep the cursor moving if
		// one slips through so a bad recipe cannot loop forever.
		return current.AddDays(1)
	}
}

// targetDay is the day-of-month the cadence aims for. Without an explicit
// anchor the current day is used; callers that want day-31 semantics to
// survive clamping must pin DayOfMonth (recipe validation does this from
// the start date).
func (s Spec) targetDay(current ledger.Date) int {
	if s.DayOfMonth != nil {
		return *s.DayOfMonth
	}
	return current.Day()
}

// snapToWeekday moves d forward (0-6 days) to the wanted weekday.
func snapToWeekday(d ledger.Date, want time.Weekday) ledger.Date {
	delta := (int(want) - int(d.Weekday()) + 7) % 7
	return d.AddDays(delta)
}
