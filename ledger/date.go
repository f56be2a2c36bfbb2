package ledger

import (
	"time"
)

// =============================================================================
// DATE - Calendar day (time-of-day is not semantically significant)
// =============================================================================

// Date is a calendar day. All ledger semantics are day-granular: recipe
// occurrences, balance anchors and period windows compare whole days.
// Normalization uses the local calendar date, not UTC, so a transaction
// created late in the evening does not slide to the next day.
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf strips the time-of-day from an instant using its local calendar date.
func DateOf(t time.Time) Date {
	local := t.Local()
	return NewDate(local.Year(), local.Month(), local.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate parses a "2006-01-02" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddYears(n int) Date { return Date{t: d.t.AddDate(n, 0, 0)} }

// AddMonths uses Go's native rollover semantics (Jan 31 + 1 month = Mar 2/3).
// Recipe cadence math must use ClampedAddMonths instead.
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) Time() time.Time       { return d.t }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// =============================================================================
// CLAMPED MONTH ARITHMETIC
// =============================================================================

// DaysInMonth returns the number of days in a month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay builds a date from year/month and a target day-of-month, clamping
// the day to the month's length. A target of 31 lands on Feb 28 (29 in leap
// years), Apr 30, and so on.
func ClampDay(year int, month time.Month, day int) Date {
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	if day < 1 {
		day = 1
	}
	return NewDate(year, month, day)
}

// ClampedAddMonths advances by n months while preserving the target
// day-of-month. The date is reset to day 1 before the month shift so the
// shift itself can never overflow into the following month, then the target
// day is clamped to the resulting month's length.
func (d Date) ClampedAddMonths(n, targetDay int) Date {
	first := NewDate(d.Year(), d.Month(), 1).AddMonths(n)
	return ClampDay(first.Year(), first.Month(), targetDay)
}

// =============================================================================
// PERIOD - Inclusive [Start, End] window for flow-account sums
// =============================================================================

type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within the period [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthWindow returns the calendar month containing d. This is the default
// window for flow-account balances.
func MonthWindow(d Date) Period {
	start := NewDate(d.Year(), d.Month(), 1)
	end := NewDate(d.Year(), d.Month(), DaysInMonth(d.Year(), d.Month()))
	return Period{Start: start, End: end}
}
