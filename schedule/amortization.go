/*
amortization.go - Loan payment schedule calculation

REPAYMENT TYPES:
  EQUAL_PAYMENT:   fixed total per period via the annuity formula
                   P*r*(1+r)^n / ((1+r)^n - 1); degrades to P/n at r = 0.
                   Principal portion grows, interest shrinks.
  EQUAL_PRINCIPAL: fixed principal P/n, interest on the declining balance,
                   so the total payment shrinks over time.
  INTEREST_ONLY:   interest on the full principal every period; the whole
                   principal is due in one lump sum at the final period.

ROUNDING:
  Every component is rounded to the currency's minor unit. The final period
  absorbs the rounding residue so the remaining balance closes at exactly 0
  and the principal portions sum back to the original principal.
*/
package schedule

import (
	"github.com/shopspring/decimal"

	"github.com/jomonylw/flow-balance/ledger"
)

type RepaymentType string

const (
	EqualPayment   RepaymentType = "EQUAL_PAYMENT"
	EqualPrincipal RepaymentType = "EQUAL_PRINCIPAL"
	InterestOnly   RepaymentType = "INTEREST_ONLY"
)

// Payment is one period of an amortization schedule.
type Payment struct {
	Period           int // 1-based
	Principal        decimal.Decimal
	Interest         decimal.Decimal
	Total            decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Plan is a full schedule plus its aggregates.
type Plan struct {
	Payments      []Payment
	TotalPayment  decimal.Decimal
	TotalInterest decimal.Decimal
}

// LoanTerms are the inputs to schedule calculation.
type LoanTerms struct {
	Principal  decimal.Decimal
	AnnualRate decimal.Decimal // e.g. 0.05 for 5%
	Periods    int             // monthly periods
	Type       RepaymentType
	Currency   string // drives minor-unit rounding; empty defaults to 2 digits
}

// Validate rejects malformed loan terms before any schedule is generated.
func (t LoanTerms) Validate() error {
	if !t.Principal.IsPositive() {
		return &ledger.ValidationError{Field: "principal", Reason: "must be positive"}
	}
	if t.AnnualRate.IsNegative() {
		return &ledger.ValidationError{Field: "annualRate", Reason: "must not be negative"}
	}
	if t.Periods < 1 {
		return &ledger.ValidationError{Field: "periods", Reason: "must be at least 1"}
	}
	switch t.Type {
	case EqualPayment, EqualPrincipal, InterestOnly:
	default:
		return &ledger.ValidationError{Field: "repaymentType", Reason: "unknown type " + string(t.Type)}
	}
	return nil
}

// Amortize computes the full payment schedule for the given terms.
func Amortize(terms LoanTerms) (Plan, error) {
	if err := terms.Validate(); err != nil {
		return Plan{}, err
	}

	round := func(d decimal.Decimal) decimal.Decimal {
		return ledger.RoundCurrency(d, terms.Currency)
	}

	n := terms.Periods
	rate := terms.AnnualRate.Div(decimal.NewFromInt(12)) // monthly rate
	balance := terms.Principal

	var fixedPayment decimal.Decimal // EQUAL_PAYMENT only
	switch terms.Type {
	case EqualPayment:
		if rate.IsZero() {
			fixedPayment = round(terms.Principal.Div(decimal.NewFromInt(int64(n))))
		} else {
			one := decimal.NewFromInt(1)
			factor := one.Add(rate).Pow(decimal.NewFromInt(int64(n)))
			fixedPayment = round(terms.Principal.Mul(rate).Mul(factor).Div(factor.Sub(one)))
		}
	}

	payments := make([]Payment, 0, n)
	for period := 1; period <= n; period++ {
		last := period == n

		interest := round(balance.Mul(rate))
		var principal decimal.Decimal

		switch terms.Type {
		case EqualPayment:
			principal = fixedPayment.Sub(interest)
		case EqualPrincipal:
			principal = round(terms.Principal.Div(decimal.NewFromInt(int64(n))))
		case InterestOnly:
			interest = round(terms.Principal.Mul(rate))
			principal = decimal.Zero
		}

		if last {
			// Close out exactly: the final principal is whatever is left,
			// absorbing accumulated rounding residue.
			principal = balance
		}

		balance = balance.Sub(principal)
		payments = append(payments, Payment{
			Period:           period,
			Principal:        principal,
			Interest:         interest,
			Total:            principal.Add(interest),
			RemainingBalance: balance,
		})
	}

	plan := Plan{Payments: payments}
	for _, p := range payments {
		plan.TotalPayment = plan.TotalPayment.Add(p.Total)
		plan.TotalInterest = plan.TotalInterest.Add(p.Interest)
	}
	return plan, nil
}
