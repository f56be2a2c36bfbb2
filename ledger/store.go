/*
store.go - Persistence interface for the transaction log

PURPOSE:
  Defines the interface between the core engines and the database.
  Different implementations can use SQLite or in-memory storage.

IDEMPOTENCY:
  Every generated transaction carries an idempotency key. The store must
  reject a write whose key already exists; a unique constraint on the key
  column is the ultimate duplicate guard. The batch engine's in-transaction
  re-check is a fast path, not the sole safety mechanism.

ATOMIC BATCHES:
  AppendBatch() ensures all-or-nothing semantics. A loan payment stages up
  to three transactions (principal, interest, balance snapshot); either all
  are written or none.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - store/memory: In-memory for testing
*/
package ledger

import "context"

// Store handles persistence of transactions.
// The core never updates a generated transaction; deletion happens only on
// explicit user action (edits, loan-payment resets).
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the idempotency key already exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// ByAccount returns all transactions for an account, ordered by date
	// ascending then modification time ascending.
	ByAccount(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// ByAccountRange returns the account's transactions in [from, to].
	ByAccountRange(ctx context.Context, accountID AccountID, from, to Date) ([]Transaction, error)

	// Exists checks if an idempotency key has already been materialized.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Delete removes transactions by id. Used only by explicit user edits
	// and loan-payment resets, never by the batch path.
	Delete(ctx context.Context, ids []TransactionID) error
}
