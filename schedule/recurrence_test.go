package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/schedule"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) ledger.Date {
	return ledger.NewDate(y, m, d)
}

func intPtr(v int) *int { return &v }

func monthlySpec(dayOfMonth int) schedule.Spec {
	return schedule.Spec{
		Frequency:  schedule.Monthly,
		Interval:   1,
		DayOfMonth: intPtr(dayOfMonth),
	}
}

// =============================================================================
// MONTH-END CLAMPING
// =============================================================================

func TestNextDate_Monthly_Day31_ClampsEveryCycle(t *testing.T) {
	// GIVEN: A monthly cadence anchored to day 31, starting Jan 31 2024
	// WHEN: Advancing through the year
	// THEN: Short months clamp (Feb 29 leap, Apr 30) and long months
	//       return to day 31 - the clamp never sticks

	spec := monthlySpec(31)
	current := date(2024, time.January, 31)

	expected := []ledger.Date{
		date(2024, time.February, 29), // leap year
		date(2024, time.March, 31),
		date(2024, time.April, 30),
		date(2024, time.May, 31),
	}

	for _, want := range expected {
		current = schedule.NextDate(current, spec)
		assert.True(t, current.Equal(want), "got %s, want %s", current, want)
	}
}

func TestNextDate_Monthly_NoAnchor_SticksAfterClamp(t *testing.T) {
	// GIVEN: A monthly cadence WITHOUT a pinned day-of-month
	// WHEN: Advancing from Jan 31 through February
	// THEN: The target day degrades to the clamped day (29) - this is why
	//       recipe validation pins DayOfMonth from the start date

	spec := schedule.Spec{Frequency: schedule.Monthly, Interval: 1}

	feb := schedule.NextDate(date(2024, time.January, 31), spec)
	require.True(t, feb.Equal(date(2024, time.February, 29)))

	mar := schedule.NextDate(feb, spec)
	assert.True(t, mar.Equal(date(2024, time.March, 29)), "got %s", mar)
}

func TestNextDate_Monthly_Interval(t *testing.T) {
	// GIVEN: An every-2-months cadence on day 15
	// WHEN: Advancing from Jan 15
	// THEN: Next occurrence is Mar 15

	spec := monthlySpec(15)
	spec.Interval = 2

	next := schedule.NextDate(date(2025, time.January, 15), spec)
	assert.True(t, next.Equal(date(2025, time.March, 15)))
}

// =============================================================================
// OTHER FREQUENCIES
// =============================================================================

func TestNextDate_Daily(t *testing.T) {
	spec := schedule.Spec{Frequency: schedule.Daily, Interval: 3}
	next := schedule.NextDate(date(2025, time.June, 28), spec)
	assert.True(t, next.Equal(date(2025, time.July, 1)))
}

func TestNextDate_Weekly_SnapsToWeekday(t *testing.T) {
	// GIVEN: A weekly cadence anchored to Monday
	// WHEN: The cursor is on a Wednesday
	// THEN: The next occurrence is a week out, snapped forward to Monday

	monday := time.Monday
	spec := schedule.Spec{Frequency: schedule.Weekly, Interval: 1, DayOfWeek: &monday}

	// 2025-06-25 is a Wednesday
	next := schedule.NextDate(date(2025, time.June, 25), spec)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.True(t, next.Equal(date(2025, time.July, 7)), "got %s", next)
}

func TestNextDate_Quarterly(t *testing.T) {
	spec := schedule.Spec{Frequency: schedule.Quarterly, Interval: 1, DayOfMonth: intPtr(31)}
	next := schedule.NextDate(date(2025, time.January, 31), spec)
	assert.True(t, next.Equal(date(2025, time.April, 30)))
}

func TestNextDate_Yearly_MonthOverride(t *testing.T) {
	// GIVEN: A yearly cadence overridden to February, day 29
	// WHEN: Advancing into a non-leap year
	// THEN: The day clamps to Feb 28

	feb := time.February
	spec := schedule.Spec{
		Frequency:   schedule.Yearly,
		Interval:    1,
		MonthOfYear: &feb,
		DayOfMonth:  intPtr(29),
	}

	next := schedule.NextDate(date(2024, time.February, 29), spec)
	assert.True(t, next.Equal(date(2025, time.February, 28)))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    schedule.Spec
		wantErr bool
	}{
		{"valid monthly", monthlySpec(15), false},
		{"unknown frequency", schedule.Spec{Frequency: "FORTNIGHTLY", Interval: 1}, true},
		{"zero interval", schedule.Spec{Frequency: schedule.Daily, Interval: 0}, true},
		{"day of month out of range", schedule.Spec{Frequency: schedule.Monthly, Interval: 1, DayOfMonth: intPtr(32)}, true},
		{"month of year out of range", func() schedule.Spec {
			m := time.Month(13)
			return schedule.Spec{Frequency: schedule.Yearly, Interval: 1, MonthOfYear: &m}
		}(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrInvalidRecipe)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
