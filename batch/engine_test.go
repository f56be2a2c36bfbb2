package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/store/memory"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// staleStore simulates a pre-check racing a concurrent batch run: the
// outer Exists always reports "not materialized" even when the key is in
// the store, while reads inside the unit of work see the truth.
type staleStore struct {
	batch.Store
}

func (s *staleStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func seedKey(t *testing.T, store batch.Store, key string, d ledger.Date) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.Append(context.Background(), ledger.Transaction{
		ID:             ledger.TransactionID(uuid.NewString()),
		UserID:         "u1",
		AccountID:      "rent",
		Currency:       "USD",
		Type:           ledger.TxExpense,
		Amount:         monthlyRent(d).Amount,
		Date:           d,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

// =============================================================================
// CONCURRENCY GUARD
// =============================================================================

func TestEngine_StalePreCheck_DetectedInsideUnitOfWork(t *testing.T) {
	// GIVEN: A key that a "concurrent run" committed after our pre-check
	//        (simulated by a store whose outer Exists is always stale)
	// WHEN: Running the batch
	// THEN: The in-transaction re-check aborts the recipe with a retryable
	//       concurrency conflict and writes nothing new

	ctx := context.Background()
	mem := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, mem, rt))
	seedKey(t, mem, batch.RecurringKey(rt.ID, date(2025, time.January, 15)), date(2025, time.January, 15))

	engine := newEngine(&staleStore{Store: mem}, date(2025, time.January, 20))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, rt.ID, result.Errors[0].RecipeID)

	// No duplicate row appeared.
	txs, _ := mem.ByAccount(ctx, "rent")
	assert.Len(t, txs, 1)

	// The cursor was not committed; the next (non-racing) run skips the
	// existing occurrence and advances.
	engine = newEngine(mem, date(2025, time.January, 20))
	result, err = engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)
}

func TestEngine_ConflictIsRetryable(t *testing.T) {
	err := &ledger.ConflictError{Key: "recurring:x:2025-01-15"}
	assert.True(t, ledger.IsRetryable(err))
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

func TestEngine_OneRecipeFailureDoesNotBlockOthers(t *testing.T) {
	// GIVEN: Two recipes, one of which trips the concurrency guard
	// WHEN: Running the batch
	// THEN: The healthy recipe materializes; the failure is reported in
	//       the result, not thrown

	ctx := context.Background()
	mem := memory.New()

	racing := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, mem, racing))
	seedKey(t, mem, batch.RecurringKey(racing.ID, date(2025, time.January, 15)), date(2025, time.January, 15))

	healthy := monthlyRent(date(2025, time.January, 10))
	healthy.AccountID = "utilities"
	require.NoError(t, batch.CreateRecurring(ctx, mem, healthy))

	engine := newEngine(&staleStore{Store: mem}, date(2025, time.January, 20))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, racing.ID, result.Errors[0].RecipeID)

	txs, _ := mem.ByAccount(ctx, "utilities")
	assert.Len(t, txs, 1)
}

func TestEngine_FailedRecipeRollsBackAtomically(t *testing.T) {
	// GIVEN: A recipe with two due occurrences, the second of which races
	// WHEN: Running the batch
	// THEN: The whole recipe's unit rolls back - even the first occurrence
	//       is not committed, so a retry starts clean

	ctx := context.Background()
	mem := memory.New()
	rt := monthlyRent(date(2025, time.January, 15))
	require.NoError(t, batch.CreateRecurring(ctx, mem, rt))
	// Only the February occurrence already exists.
	seedKey(t, mem, batch.RecurringKey(rt.ID, date(2025, time.February, 15)), date(2025, time.February, 15))

	engine := newEngine(&staleStore{Store: mem}, date(2025, time.February, 20))
	result, err := engine.RunRecurringBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)

	txs, _ := mem.ByAccount(ctx, "rent")
	assert.Len(t, txs, 1) // just the seeded row

	saved, _ := mem.GetRecurring(ctx, rt.ID)
	assert.Equal(t, 0, saved.CurrentCount)
}

// =============================================================================
// HORIZON
// =============================================================================

func TestEngine_Horizon(t *testing.T) {
	engine := newEngine(memory.New(), date(2025, time.June, 10))
	assert.True(t, engine.Horizon().Equal(date(2025, time.June, 10)))

	engine.LookAheadDays = 30
	assert.True(t, engine.Horizon().Equal(date(2025, time.July, 10)))
}
