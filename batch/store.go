/*
Package batch materializes recipes (recurring transactions, loan
amortization schedules) into concrete ledger transactions on a rolling
horizon, guaranteeing that concurrent or repeated runs never produce
duplicate entries.

THE ALGORITHM (identical in shape for both recipe kinds):
  1. Compute the due set: cursors <= horizon (today + look-ahead)
  2. Idempotency pre-check: which (recipe, date) keys already exist
  3. Skip existing keys (still advancing the cursor so it cannot get stuck)
     and candidates blocked by a terminal condition
  4. Stage transactions for the rest via the pure calculators
  5. Re-check the keys inside the atomic unit of work; a concurrent winner
     aborts this unit with a concurrency-conflict error
  6. Commit staged transactions and cursor advance as one atomic unit
  7. One recipe's failure never blocks or rolls back unrelated recipes

SEE ALSO:
  - engine.go:    The generic loop, parameterized over Recipe
  - recurring.go: Recurring-transaction recipe
  - loan.go:      Loan-contract recipe and payment lifecycle
*/
package batch

import (
	"context"
	"time"

	"github.com/jomonylw/flow-balance/ledger"
)

// Store is the persistence surface the batch engine needs: the transaction
// log plus recipe cursor state, with per-recipe atomic units via WithTx.
type Store interface {
	ledger.Store

	// --- Recurring transactions ---

	// DueRecurring returns active recurring transactions whose cursor is at
	// or before the horizon.
	DueRecurring(ctx context.Context, user ledger.UserID, horizon ledger.Date) ([]*RecurringTransaction, error)

	// GetRecurring loads one recurring transaction.
	GetRecurring(ctx context.Context, id string) (*RecurringTransaction, error)

	// SaveRecurring inserts or updates a recurring transaction (cursor state
	// included).
	SaveRecurring(ctx context.Context, rt *RecurringTransaction) error

	// --- Loan contracts & payments ---

	// ActiveContracts returns the user's active loan contracts.
	ActiveContracts(ctx context.Context, user ledger.UserID) ([]*LoanContract, error)

	// GetContract loads one contract.
	GetContract(ctx context.Context, id string) (*LoanContract, error)

	// SaveContract inserts or updates a contract (cursor state included).
	SaveContract(ctx context.Context, c *LoanContract) error

	// DuePayments returns a contract's PENDING payments dated at or before
	// the horizon, ordered by period ascending.
	DuePayments(ctx context.Context, contractID string, horizon ledger.Date) ([]*LoanPayment, error)

	// PaymentsByContract returns all payments of a contract, period ascending.
	PaymentsByContract(ctx context.Context, contractID string) ([]*LoanPayment, error)

	// GetPayment loads one payment.
	GetPayment(ctx context.Context, id string) (*LoanPayment, error)

	// SavePayment updates a payment row.
	SavePayment(ctx context.Context, p *LoanPayment) error

	// InsertPayments inserts schedule rows.
	InsertPayments(ctx context.Context, ps []*LoanPayment) error

	// DeletePendingPayments removes a contract's PENDING rows with period
	// greater than fromPeriod (schedule regeneration after a term edit).
	DeletePendingPayments(ctx context.Context, contractID string, fromPeriod int) error

	// --- Run status (coarse, for the orchestrator) ---

	// SaveSyncRun records a batch run's outcome.
	SaveSyncRun(ctx context.Context, run SyncRun) error

	// WithTx executes fn within a single atomic unit of work.
	// If fn returns an error, the unit is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SyncRun is the coarse status record of one batch invocation.
type SyncRun struct {
	ID          string
	UserID      ledger.UserID
	Kind        string // "recurring", "loan" or "scheduled"
	Status      string // processing | completed | failed
	Processed   int
	Skipped     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
