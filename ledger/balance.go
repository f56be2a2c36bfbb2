/*
balance.go - Balance reconstruction from the transaction log

PURPOSE:
  Answers "what is the balance of account X in currency Y as of date D"
  without replaying unbounded history.

STOCK ACCOUNTS (ASSET/LIABILITY):
  BALANCE transactions are authoritative checkpoints. For each currency,
  find the latest BALANCE at or before asOf (ties broken by modification
  time), start from its amount, then fold only the suffix: INCOME adds,
  EXPENSE subtracts, for both account types. The sign convention for what
  counts as income vs expense is decided at data-entry time, not here.
  With no checkpoint, everything up to asOf is folded from zero.

FLOW ACCOUNTS (INCOME/EXPENSE):
  Balance is a sum over an explicit [start, end] window (default: current
  calendar month). Only transactions matching the account's own category
  type are summed; anything else is a data-integrity warning, not an error.
  There is no running balance concept for flow accounts.

EDGE POLICY:
  - asOf filter is inclusive (<=)
  - malformed rows are filtered with a logged warning
  - unknown category types accumulate asset-like, with a logged warning
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Resolver reconstructs balances from a transaction store.
type Resolver struct {
	store Store
	log   *zap.Logger
}

func NewResolver(store Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, log: log}
}

// BalanceOf returns the account's balance per currency as of a date.
// Stock accounts use snapshot+delta reconstruction; flow accounts fall back
// to the calendar month containing asOf.
func (r *Resolver) BalanceOf(ctx context.Context, account Account, asOf Date) (map[string]decimal.Decimal, error) {
	if account.Category.IsFlow() {
		return r.FlowBalanceOf(ctx, account, MonthWindow(asOf))
	}
	if !account.Category.IsStock() {
		r.log.Warn("unknown category type, accumulating asset-like",
			zap.String("account", string(account.ID)),
			zap.String("category", string(account.Category)))
	}
	return r.stockBalance(ctx, account, asOf)
}

// FlowBalanceOf sums an income/expense account over an explicit window.
func (r *Resolver) FlowBalanceOf(ctx context.Context, account Account, window Period) (map[string]decimal.Decimal, error) {
	txs, err := r.store.ByAccountRange(ctx, account.ID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	want := TxIncome
	if account.Category == CategoryExpense {
		want = TxExpense
	}

	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if !tx.WellFormed() {
			r.log.Warn("skipping malformed transaction",
				zap.String("tx", string(tx.ID)),
				zap.String("account", string(account.ID)))
			continue
		}
		if tx.Type != want {
			// A flow account holding a foreign transaction type is a
			// data-integrity problem; report it but keep computing.
			r.log.Warn("transaction type does not match flow account category",
				zap.String("tx", string(tx.ID)),
				zap.String("account", string(account.ID)),
				zap.String("type", string(tx.Type)),
				zap.String("category", string(account.Category)))
			continue
		}
		totals[tx.Currency] = totals[tx.Currency].Add(tx.Amount)
	}
	return totals, nil
}

// stockBalance implements snapshot+delta: latest checkpoint <= asOf, then
// fold only the suffix after the checkpoint day.
func (r *Resolver) stockBalance(ctx context.Context, account Account, asOf Date) (map[string]decimal.Decimal, error) {
	txs, err := r.store.ByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	// Latest BALANCE anchor per currency. Rows arrive ordered by date then
	// modification time, so a later row wins ties on the same day.
	anchors := make(map[string]Transaction)
	byCurrency := make(map[string][]Transaction)
	for _, tx := range txs {
		if !tx.WellFormed() {
			r.log.Warn("skipping malformed transaction",
				zap.String("tx", string(tx.ID)),
				zap.String("account", string(account.ID)))
			continue
		}
		if tx.Date.After(asOf) {
			continue
		}
		byCurrency[tx.Currency] = append(byCurrency[tx.Currency], tx)
		if tx.Type != TxBalance {
			continue
		}
		prev, ok := anchors[tx.Currency]
		if !ok || tx.Date.After(prev.Date) ||
			(tx.Date.Equal(prev.Date) && tx.UpdatedAt.After(prev.UpdatedAt)) {
			anchors[tx.Currency] = tx
		}
	}

	totals := make(map[string]decimal.Decimal)
	for currency, rows := range byCurrency {
		anchor, anchored := anchors[currency]

		balance := decimal.Zero
		if anchored {
			balance = anchor.Amount
		}

		for _, tx := range rows {
			// The checkpoint absorbs everything up to and including its own
			// day; only strictly later days are folded on top.
			if anchored && tx.Date.BeforeOrEqual(anchor.Date) {
				continue
			}
			switch tx.Type {
			case TxIncome:
				balance = balance.Add(tx.Amount)
			case TxExpense:
				balance = balance.Sub(tx.Amount)
			case TxBalance:
				// Superseded or same-day checkpoints; the chosen anchor wins.
			}
		}
		totals[currency] = balance
	}
	return totals, nil
}
