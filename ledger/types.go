/*
Package ledger provides the core types and read-side engine of the
personal ledger.

PURPOSE:
  This package contains the append-only transaction model and the balance
  reconstruction algorithms. Accounts never store balances; a balance is
  always derived from the transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry (INCOME, EXPENSE or BALANCE)
  - Account/Category: Stock accounts (assets/liabilities) vs flow
    accounts (income/expense)
  - Currency helpers: minor-unit rounding backed by ISO-4217 metadata

DESIGN PRINCIPLES:
  1. Immutability: Generated transactions are never modified by the core;
     only an explicit user edit or reset may touch them
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing account/user IDs
  4. Idempotency: Every generated transaction carries an idempotency key

SEE ALSO:
  - balance.go: Snapshot+delta balance reconstruction
  - store.go:   Persistence interfaces
  - date.go:    Day-granularity calendar arithmetic
*/
package ledger

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type AccountID string
type TransactionID string

// =============================================================================
// CATEGORY - Determines stock vs flow semantics
// =============================================================================

type CategoryType string

const (
	CategoryAsset     CategoryType = "ASSET"
	CategoryLiability CategoryType = "LIABILITY"
	CategoryIncome    CategoryType = "INCOME"
	CategoryExpense   CategoryType = "EXPENSE"
)

// IsStock reports whether accounts of this category carry a point-in-time
// balance (reconstructed from BALANCE anchors plus deltas).
func (ct CategoryType) IsStock() bool {
	return ct == CategoryAsset || ct == CategoryLiability
}

// IsFlow reports whether accounts of this category are summed over a period.
func (ct CategoryType) IsFlow() bool {
	return ct == CategoryIncome || ct == CategoryExpense
}

// Account belongs to a category; the category type decides how its balance
// is computed. Accounts do not store balances.
type Account struct {
	ID       AccountID
	UserID   UserID
	Name     string
	Category CategoryType
	Currency string // default currency, informational; transactions carry their own
}

// =============================================================================
// TRANSACTION - Atomic ledger entry
// =============================================================================

type TxType string

const (
	TxIncome  TxType = "INCOME"
	TxExpense TxType = "EXPENSE"
	// TxBalance is a user-entered balance checkpoint. It is authoritative:
	// reconstruction starts from the latest checkpoint and folds only the
	// suffix of the log after it.
	TxBalance TxType = "BALANCE"
)

type Transaction struct {
	ID          TransactionID
	UserID      UserID
	AccountID   AccountID
	Currency    string // ISO-4217 code
	Type        TxType
	Amount      decimal.Decimal // signed, minor-unit precision
	Date        Date
	Description string

	// Links back to the generating recipe, if any.
	RecurringID    string
	LoanContractID string
	LoanPaymentID  string

	// IdempotencyKey identifies a (recipe, date[, role]) materialization.
	// Empty for manual entries.
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WellFormed reports whether the row is usable by the balance engine.
// Malformed rows are filtered with a logged warning, never fatal.
func (t Transaction) WellFormed() bool {
	return !t.Date.IsZero() && t.Currency != "" && t.Type != ""
}

// =============================================================================
// CURRENCY HELPERS
// =============================================================================

// MinorUnits returns the number of fraction digits for a currency code,
// falling back to 2 for unknown codes.
func MinorUnits(code string) int32 {
	if c := money.GetCurrency(code); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

// RoundCurrency rounds an amount to the currency's minor-unit precision.
func RoundCurrency(d decimal.Decimal, code string) decimal.Decimal {
	return d.Round(MinorUnits(code))
}
