package batch

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// The translation layer supplies localized description templates; the core
// only performs placeholder substitution and is otherwise unaware of locale.

const defaultPaymentDescription = "Loan payment {period} - {contractName} (remaining {remainingBalance})"

// DescriptionVars are the placeholders available to payment templates.
type DescriptionVars struct {
	Period           int
	ContractName     string
	RemainingBalance decimal.Decimal
}

// RenderDescription substitutes {period}, {contractName} and
// {remainingBalance} into a template. An empty template falls back to the
// built-in default.
func RenderDescription(tmpl string, vars DescriptionVars) string {
	if tmpl == "" {
		tmpl = defaultPaymentDescription
	}
	return strings.NewReplacer(
		"{period}", strconv.Itoa(vars.Period),
		"{contractName}", vars.ContractName,
		"{remainingBalance}", vars.RemainingBalance.String(),
	).Replace(tmpl)
}
