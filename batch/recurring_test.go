package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/schedule"
	"github.com/jomonylw/flow-balance/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newEngine(store batch.Store, today ledger.Date) *batch.Engine {
	e := batch.NewEngine(store, zap.NewNop())
	e.Now = func() ledger.Date { return today }
	return e
}

func date(y int, m time.Month, d int) ledger.Date {
	return ledger.NewDate(y, m, d)
}

func intPtr(v int) *int { return &v }

func monthlyRent(start ledger.Date) *batch.RecurringTransaction {
	return &batch.RecurringTransaction{
		UserID:      "u1",
		AccountID:   "rent",
		Currency:    "USD",
		Type:        ledger.TxExpense,
		Amount:      decimal.RequireFromString("1500"),
		Description: "Monthly rent",
		Spec:        schedule.Spec{Frequency: schedule.Monthly, Interval: 1},
		StartDate:   start,
	}
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

func TestRunRecurringBatch_MaterializesDueOccurrences(t *testing.T) {
	// GIVEN: A monthly recipe starting Jan 15, today is Mar 20
	// WHEN: Running the batch
	// THEN: Jan, Feb and Mar occurrences materialize, each with its own
	//       idempotency key; the cursor lands on Apr 15

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.March, 20))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)

	txs, err := store.ByAccount(ctx, "rent")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, ledger.TxExpense, tx.Type)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1500")))
		assert.Equal(t, rt.ID, tx.RecurringID)
		assert.Equal(t, batch.RecurringKey(rt.ID, tx.Date), tx.IdempotencyKey)
		assert.Equal(t, 15, tx.Date.Day(), "occurrence %d", i)
	}

	saved, err := store.GetRecurring(ctx, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.CurrentCount)
	assert.True(t, saved.NextDate.Equal(date(2025, time.April, 15)))
	assert.True(t, saved.Active)
}

func TestRunRecurringBatch_SecondRunIsNoop(t *testing.T) {
	// GIVEN: A recipe already materialized up to the horizon
	// WHEN: Running the batch again
	// THEN: Nothing is due; no duplicates appear

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.March, 20))
	_, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)

	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.Skipped)

	txs, _ := store.ByAccount(ctx, "rent")
	assert.Len(t, txs, 3)
}

func TestRunRecurringBatch_SkipsExistingAndAdvancesCursor(t *testing.T) {
	// GIVEN: Transactions already exist for the due dates but the cursor
	//        was rolled back (e.g. restored from an older backup)
	// WHEN: Running the batch
	// THEN: Existing occurrences are skipped, no duplicates are written,
	//       and the cursor still advances past them

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.February, 20))
	_, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)

	// Roll the cursor back behind the materialized occurrences.
	saved, err := store.GetRecurring(ctx, rt.ID)
	require.NoError(t, err)
	saved.CurrentCount = 0
	saved.NextDate = saved.StartDate
	require.NoError(t, store.SaveRecurring(ctx, saved))

	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 2, result.Skipped)

	txs, _ := store.ByAccount(ctx, "rent")
	assert.Len(t, txs, 2)

	saved, _ = store.GetRecurring(ctx, rt.ID)
	assert.True(t, saved.NextDate.Equal(date(2025, time.March, 15)))
}

func TestRunRecurringBatch_LookAheadExtendsHorizon(t *testing.T) {
	// GIVEN: Today is Jan 10, the recipe starts Jan 15, look-ahead is 7 days
	// WHEN: Running the batch
	// THEN: The Jan 15 occurrence is pre-generated

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.January, 10))
	engine.LookAheadDays = 7

	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}

// =============================================================================
// TERMINAL CONDITIONS
// =============================================================================

func TestRunRecurringBatch_MaxOccurrencesDeactivates(t *testing.T) {
	// GIVEN: A recipe capped at 2 occurrences with many dates due
	// WHEN: Running the batch
	// THEN: Exactly 2 materialize and the recipe deactivates

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	rt.MaxOccurrences = intPtr(2)
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.December, 31))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	saved, _ := store.GetRecurring(ctx, rt.ID)
	assert.False(t, saved.Active)
	assert.Equal(t, 2, saved.CurrentCount)

	// Deactivated recipes never come due again.
	result, err = engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestRunRecurringBatch_EndDateStopsExpansion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	end := date(2025, time.February, 28)
	rt.EndDate = &end
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2025, time.June, 30))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed) // Jan 15, Feb 15

	saved, _ := store.GetRecurring(ctx, rt.ID)
	assert.False(t, saved.Active)
}

// =============================================================================
// MONTH-END CADENCE THROUGH THE FULL STACK
// =============================================================================

func TestRunRecurringBatch_Day31RecipeClampsPerMonth(t *testing.T) {
	// GIVEN: A monthly recipe created on Jan 31 2024
	// WHEN: Materializing through April
	// THEN: Occurrences land on Jan 31, Feb 29, Mar 31, Apr 30 - the
	//       start-date anchor survives clamping

	ctx := context.Background()
	store := memory.New()
	rt := monthlyRent(date(2024, time.January, 31))
	require.NoError(t, batch.CreateRecurring(ctx, store, rt))

	engine := newEngine(store, date(2024, time.April, 30))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Processed)

	txs, _ := store.ByAccount(ctx, "rent")
	require.Len(t, txs, 4)
	assert.True(t, txs[0].Date.Equal(date(2024, time.January, 31)))
	assert.True(t, txs[1].Date.Equal(date(2024, time.February, 29)))
	assert.True(t, txs[2].Date.Equal(date(2024, time.March, 31)))
	assert.True(t, txs[3].Date.Equal(date(2024, time.April, 30)))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCreateRecurring_RejectsInvalidRecipes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	tests := []struct {
		name   string
		mutate func(*batch.RecurringTransaction)
	}{
		{"balance type", func(rt *batch.RecurringTransaction) { rt.Type = ledger.TxBalance }},
		{"missing account", func(rt *batch.RecurringTransaction) { rt.AccountID = "" }},
		{"missing currency", func(rt *batch.RecurringTransaction) { rt.Currency = "" }},
		{"end before start", func(rt *batch.RecurringTransaction) {
			end := rt.StartDate.AddDays(-1)
			rt.EndDate = &end
		}},
		{"zero max occurrences", func(rt *batch.RecurringTransaction) { rt.MaxOccurrences = intPtr(0) }},
		{"bad frequency", func(rt *batch.RecurringTransaction) { rt.Spec.Frequency = "SOMETIMES" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := monthlyRent(date(2025, time.January, 15))
			tt.mutate(rt)
			err := batch.CreateRecurring(ctx, store, rt)
			assert.ErrorIs(t, err, ledger.ErrInvalidRecipe)
		})
	}
}

func TestRecurringValidate_PinsDayOfMonthFromStartDate(t *testing.T) {
	rt := monthlyRent(date(2024, time.January, 31))
	require.NoError(t, rt.Validate())
	require.NotNil(t, rt.Spec.DayOfMonth)
	assert.Equal(t, 31, *rt.Spec.DayOfMonth)
}
