package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/store/memory"
)

// =============================================================================
// TEST CONVERTER
// =============================================================================

// tableConverter converts via a fixed rate table; unknown pairs fail.
type tableConverter struct {
	rates map[string]decimal.Decimal // "EUR->USD" -> rate
}

func (c *tableConverter) Convert(_ context.Context, amount decimal.Decimal, from, to string, _ ledger.Date) ledger.ConversionResult {
	rate, ok := c.rates[from+"->"+to]
	if !ok {
		return ledger.ConversionResult{Success: false, Error: "no rate for " + from + "->" + to}
	}
	return ledger.ConversionResult{
		ConvertedAmount: amount.Mul(rate),
		Rate:            rate,
		Success:         true,
	}
}

func seedAccount(t *testing.T, store ledger.Store, account, currency, amount string) ledger.Account {
	t.Helper()
	row := tx(account, ledger.TxBalance, amount, ledger.NewDate(2025, time.June, 1))
	row.Currency = currency
	mustAppend(t, store, row)
	return ledger.Account{ID: ledger.AccountID(account), Category: ledger.CategoryAsset}
}

// =============================================================================
// AGGREGATION
// =============================================================================

func TestTotalBalance_PerCurrencyBuckets(t *testing.T) {
	// GIVEN: Two USD accounts and one EUR account
	// WHEN: Aggregating without a base currency
	// THEN: Per-currency sums, no conversion attempted

	store := memory.New()
	accounts := []ledger.Account{
		seedAccount(t, store, "checking", "USD", "1000"),
		seedAccount(t, store, "savings", "USD", "2500"),
		seedAccount(t, store, "travel", "EUR", "300"),
	}

	agg := ledger.NewAggregator(ledger.NewResolver(store, nil), nil, zap.NewNop())
	total, err := agg.TotalBalance(context.Background(), accounts, ledger.NewDate(2025, time.June, 30), "")
	require.NoError(t, err)

	assert.True(t, total.ByCurrency["USD"].Equal(decimal.RequireFromString("3500")))
	assert.True(t, total.ByCurrency["EUR"].Equal(decimal.RequireFromString("300")))
	assert.False(t, total.HasConversionErrors)
}

func TestTotalBalance_ConvertsIntoBase(t *testing.T) {
	// GIVEN: USD and EUR buckets and a EUR->USD rate of 1.10
	// WHEN: Aggregating into USD
	// THEN: Converted = 3500 + 300 * 1.10 = 3830, rounded to cents

	store := memory.New()
	accounts := []ledger.Account{
		seedAccount(t, store, "checking", "USD", "3500"),
		seedAccount(t, store, "travel", "EUR", "300"),
	}

	converter := &tableConverter{rates: map[string]decimal.Decimal{
		"EUR->USD": decimal.RequireFromString("1.10"),
	}}
	agg := ledger.NewAggregator(ledger.NewResolver(store, nil), converter, zap.NewNop())
	total, err := agg.TotalBalance(context.Background(), accounts, ledger.NewDate(2025, time.June, 30), "USD")
	require.NoError(t, err)

	assert.True(t, total.Converted.Equal(decimal.RequireFromString("3830")), "got %s", total.Converted)
	assert.False(t, total.HasConversionErrors)
}

func TestTotalBalance_ConversionFailureKeepsBaseAmounts(t *testing.T) {
	// GIVEN: A converter with no rate for JPY
	// WHEN: Aggregating into USD
	// THEN: USD amounts are still included, the JPY bucket stays visible,
	//       and HasConversionErrors is set - never an error, never a zeroed
	//       total

	store := memory.New()
	accounts := []ledger.Account{
		seedAccount(t, store, "checking", "USD", "1000"),
		seedAccount(t, store, "tokyo", "JPY", "50000"),
	}

	converter := &tableConverter{rates: map[string]decimal.Decimal{}}
	agg := ledger.NewAggregator(ledger.NewResolver(store, nil), converter, zap.NewNop())
	total, err := agg.TotalBalance(context.Background(), accounts, ledger.NewDate(2025, time.June, 30), "USD")
	require.NoError(t, err)

	assert.True(t, total.HasConversionErrors)
	assert.True(t, total.Converted.Equal(decimal.RequireFromString("1000")))
	assert.True(t, total.ByCurrency["JPY"].Equal(decimal.RequireFromString("50000")))
}

func TestTotalBalance_NilConverterFlagsNonBase(t *testing.T) {
	store := memory.New()
	accounts := []ledger.Account{
		seedAccount(t, store, "checking", "USD", "1000"),
		seedAccount(t, store, "travel", "EUR", "300"),
	}

	agg := ledger.NewAggregator(ledger.NewResolver(store, nil), nil, zap.NewNop())
	total, err := agg.TotalBalance(context.Background(), accounts, ledger.NewDate(2025, time.June, 30), "USD")
	require.NoError(t, err)

	assert.True(t, total.HasConversionErrors)
	assert.True(t, total.Converted.Equal(decimal.RequireFromString("1000")))
}
