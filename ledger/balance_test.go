package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newResolver(t *testing.T) (*ledger.Resolver, *memory.Memory) {
	store := memory.New()
	return ledger.NewResolver(store, zap.NewNop()), store
}

func observedResolver(store ledger.Store) (*ledger.Resolver, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return ledger.NewResolver(store, zap.New(core)), logs
}

var txSeq int

func tx(account string, typ ledger.TxType, amount string, d ledger.Date) ledger.Transaction {
	txSeq++
	return ledger.Transaction{
		ID:        ledger.TransactionID(fmt.Sprintf("tx-%d", txSeq)),
		UserID:    "u1",
		AccountID: ledger.AccountID(account),
		Currency:  "USD",
		Type:      typ,
		Amount:    decimal.RequireFromString(amount),
		Date:      d,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func mustAppend(t *testing.T, store ledger.Store, txs ...ledger.Transaction) {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, store.Append(context.Background(), tx))
	}
}

func asset(id string) ledger.Account {
	return ledger.Account{ID: ledger.AccountID(id), Category: ledger.CategoryAsset}
}

func day(d int) ledger.Date { return ledger.NewDate(2025, time.June, d) }

// =============================================================================
// STOCK ACCOUNTS - snapshot + delta
// =============================================================================

func TestStockBalance_AnchorPlusDelta(t *testing.T) {
	// GIVEN: BALANCE 1000 on day 10, EXPENSE 200 on day 15
	// WHEN: Asking for the balance on day 20
	// THEN: 1000 - 200 = 800

	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("acct", ledger.TxBalance, "1000", day(10)),
		tx("acct", ledger.TxExpense, "200", day(15)),
	)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(20))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("800")))
}

func TestStockBalance_BeforeAnyTransaction(t *testing.T) {
	// GIVEN: The same history
	// WHEN: Asking for the balance on day 5, before anything happened
	// THEN: No currency bucket at all

	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("acct", ledger.TxBalance, "1000", day(10)),
	)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(5))
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestStockBalance_NoAnchor_FoldsFromZero(t *testing.T) {
	// GIVEN: Only INCOME/EXPENSE rows, no BALANCE checkpoint
	// WHEN: Asking for the balance
	// THEN: Everything up to asOf folds from zero

	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("acct", ledger.TxIncome, "300", day(1)),
		tx("acct", ledger.TxExpense, "120", day(3)),
		tx("acct", ledger.TxIncome, "50", day(25)), // after asOf, excluded
	)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(10))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("180")))
}

func TestStockBalance_AnchorAbsorbsItsOwnDay(t *testing.T) {
	// GIVEN: An EXPENSE on the same day as a later-entered BALANCE checkpoint
	// WHEN: Reconstructing past that day
	// THEN: The checkpoint absorbs the same-day delta; only strictly later
	//       days fold on top

	resolver, store := newResolver(t)
	expense := tx("acct", ledger.TxExpense, "100", day(10))
	anchor := tx("acct", ledger.TxBalance, "500", day(10))
	anchor.UpdatedAt = expense.UpdatedAt.Add(time.Minute)
	mustAppend(t, store, expense, anchor,
		tx("acct", ledger.TxIncome, "40", day(12)),
	)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(20))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("540")))
}

func TestStockBalance_SameDayAnchors_LatestModificationWins(t *testing.T) {
	// GIVEN: Two BALANCE checkpoints on the same day
	// WHEN: Reconstructing
	// THEN: The one with the later modification time is authoritative

	resolver, store := newResolver(t)
	first := tx("acct", ledger.TxBalance, "100", day(10))
	second := tx("acct", ledger.TxBalance, "900", day(10))
	second.UpdatedAt = first.UpdatedAt.Add(time.Hour)
	mustAppend(t, store, first, second)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(20))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("900")))
}

func TestStockBalance_LiabilitySameConvention(t *testing.T) {
	// GIVEN: A liability account with a checkpoint and a later expense
	// WHEN: Reconstructing
	// THEN: INCOME adds and EXPENSE subtracts for liabilities too; the
	//       sign convention is decided at data entry, not here

	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("loan", ledger.TxBalance, "5000", day(1)),
		tx("loan", ledger.TxExpense, "300", day(5)),
	)

	account := ledger.Account{ID: "loan", Category: ledger.CategoryLiability}
	balances, err := resolver.BalanceOf(context.Background(), account, day(10))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("4700")))
}

func TestStockBalance_PerCurrencyIndependence(t *testing.T) {
	// GIVEN: USD and EUR histories in one account, only USD has an anchor
	// WHEN: Reconstructing
	// THEN: Each currency reconstructs independently

	resolver, store := newResolver(t)
	eur := tx("acct", ledger.TxIncome, "77", day(2))
	eur.Currency = "EUR"
	mustAppend(t, store,
		tx("acct", ledger.TxBalance, "1000", day(10)),
		eur,
	)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(20))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("1000")))
	assert.True(t, balances["EUR"].Equal(decimal.RequireFromString("77")))
}

func TestStockBalance_MalformedRowSkippedWithWarning(t *testing.T) {
	// GIVEN: A row with no currency slipped into the log
	// WHEN: Reconstructing
	// THEN: The row is skipped with a warning; computation continues

	store := memory.New()
	resolver, logs := observedResolver(store)

	good := tx("acct", ledger.TxIncome, "10", day(1))
	bad := tx("acct", ledger.TxIncome, "999", day(2))
	bad.Currency = ""
	mustAppend(t, store, good, bad)

	balances, err := resolver.BalanceOf(context.Background(), asset("acct"), day(10))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 1, logs.FilterMessage("skipping malformed transaction").Len())
}

// =============================================================================
// FLOW ACCOUNTS - window sums
// =============================================================================

func TestFlowBalance_DefaultWindowIsCalendarMonth(t *testing.T) {
	// GIVEN: An expense account with entries in June and July
	// WHEN: Asking for the balance as of a June date
	// THEN: Only June entries are summed

	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("food", ledger.TxExpense, "45", day(3)),
		tx("food", ledger.TxExpense, "55", day(28)),
		tx("food", ledger.TxExpense, "999", ledger.NewDate(2025, time.July, 2)),
	)

	account := ledger.Account{ID: "food", Category: ledger.CategoryExpense}
	balances, err := resolver.BalanceOf(context.Background(), account, day(15))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("100")))
}

func TestFlowBalance_ExplicitWindow(t *testing.T) {
	resolver, store := newResolver(t)
	mustAppend(t, store,
		tx("salary", ledger.TxIncome, "3000", day(1)),
		tx("salary", ledger.TxIncome, "3000", ledger.NewDate(2025, time.July, 1)),
	)

	account := ledger.Account{ID: "salary", Category: ledger.CategoryIncome}
	window := ledger.Period{Start: ledger.NewDate(2025, time.June, 1), End: ledger.NewDate(2025, time.July, 31)}
	balances, err := resolver.FlowBalanceOf(context.Background(), account, window)
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("6000")))
}

func TestFlowBalance_ForeignTypeWarnsAndSkips(t *testing.T) {
	// GIVEN: An income account holding a stray EXPENSE row
	// WHEN: Summing the window
	// THEN: The stray row is excluded and reported as a data-integrity
	//       warning, never an error

	store := memory.New()
	resolver, logs := observedResolver(store)
	mustAppend(t, store,
		tx("salary", ledger.TxIncome, "3000", day(1)),
		tx("salary", ledger.TxExpense, "50", day(2)),
	)

	account := ledger.Account{ID: "salary", Category: ledger.CategoryIncome}
	balances, err := resolver.BalanceOf(context.Background(), account, day(15))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("3000")))
	assert.Equal(t, 1, logs.FilterMessage("transaction type does not match flow account category").Len())
}

// =============================================================================
// UNKNOWN CATEGORIES
// =============================================================================

func TestBalanceOf_UnknownCategory_AssetLikeWithWarning(t *testing.T) {
	store := memory.New()
	resolver, logs := observedResolver(store)
	mustAppend(t, store, tx("weird", ledger.TxIncome, "10", day(1)))

	account := ledger.Account{ID: "weird", Category: "EQUITY"}
	balances, err := resolver.BalanceOf(context.Background(), account, day(10))
	require.NoError(t, err)
	assert.True(t, balances["USD"].Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 1, logs.FilterMessage("unknown category type, accumulating asset-like").Len())
}
