/*
aggregate.go - Multi-account totals with optional base-currency conversion

Conversion is an external collaborator; it is consulted only here, never by
the single-account balance computation. A conversion failure must not
corrupt the same-currency total: amounts already in the base currency are
always included, and non-convertible amounts stay in their own bucket with
HasConversionErrors set rather than being dropped or zeroed.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConversionResult is the currency-conversion collaborator's reply.
type ConversionResult struct {
	ConvertedAmount decimal.Decimal
	Rate            decimal.Decimal
	Success         bool
	Error           string
}

// CurrencyConverter converts an amount between currencies as of a date.
// Implementations live outside this core (rate tables, HTTP services).
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf Date) ConversionResult
}

// TotalBalance is the aggregate over a set of accounts.
type TotalBalance struct {
	// ByCurrency holds the per-currency sums across all accounts.
	ByCurrency map[string]decimal.Decimal

	// Converted is the total expressed in BaseCurrency. Only currencies
	// that converted successfully (plus the base itself) are included.
	Converted    decimal.Decimal
	BaseCurrency string

	// HasConversionErrors is set when some bucket could not be converted.
	// The unconverted amounts remain visible in ByCurrency.
	HasConversionErrors bool
}

// Aggregator sums balances across accounts.
type Aggregator struct {
	Resolver  *Resolver
	Converter CurrencyConverter
	Log       *zap.Logger
}

func NewAggregator(resolver *Resolver, converter CurrencyConverter, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{Resolver: resolver, Converter: converter, Log: log}
}

// TotalBalance sums per-currency balances across accounts as of a date and,
// when base is non-empty, converts the buckets into the base currency.
func (a *Aggregator) TotalBalance(ctx context.Context, accounts []Account, asOf Date, base string) (TotalBalance, error) {
	total := TotalBalance{
		ByCurrency:   make(map[string]decimal.Decimal),
		BaseCurrency: base,
	}

	for _, account := range accounts {
		balances, err := a.Resolver.BalanceOf(ctx, account, asOf)
		if err != nil {
			return TotalBalance{}, err
		}
		for currency, amount := range balances {
			total.ByCurrency[currency] = total.ByCurrency[currency].Add(amount)
		}
	}

	if base == "" {
		return total, nil
	}

	converted := decimal.Zero
	for currency, amount := range total.ByCurrency {
		if currency == base {
			// Base-currency amounts never depend on the converter.
			converted = converted.Add(amount)
			continue
		}
		if a.Converter == nil {
			total.HasConversionErrors = true
			continue
		}
		res := a.Converter.Convert(ctx, amount, currency, base, asOf)
		if !res.Success {
			total.HasConversionErrors = true
			a.Log.Warn("currency conversion failed",
				zap.String("from", currency),
				zap.String("to", base),
				zap.String("error", res.Error))
			continue
		}
		converted = converted.Add(res.ConvertedAmount)
	}
	total.Converted = RoundCurrency(converted, base)
	return total, nil
}
