/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Monetary amounts travel as JSON strings (decimal.Decimal marshals
  quoted), never as floats.

VALIDATION:
  Validation is done in domain constructors (Validate methods), not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/schedule"
)

// =============================================================================
// SYNC
// =============================================================================

// SyncRequest scopes a batch run. An empty user ID means all users.
type SyncRequest struct {
	UserID string `json:"userId,omitempty"`
}

// SyncResultDTO reports one batch run's mixed outcome.
type SyncResultDTO struct {
	Kind      string              `json:"kind"`
	Processed int                 `json:"processed"`
	Skipped   int                 `json:"skipped"`
	Errors    []batch.RecipeError `json:"errors,omitempty"`
}

// SyncStatusDTO is the scheduler's current state.
type SyncStatusDTO struct {
	Status      string     `json:"status"` // idle | processing | completed | failed
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Processed   int        `json:"processed"`
	Skipped     int        `json:"skipped"`
	NextRunAt   *time.Time `json:"nextRunAt,omitempty"`
	IntervalSec int        `json:"intervalSec"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO is a single account's per-currency balance as of a date.
type BalanceDTO struct {
	AccountID string            `json:"accountId"`
	Category  string            `json:"category"`
	AsOf      string            `json:"asOf"`
	Balances  map[string]string `json:"balances"`
}

// AccountRef identifies an account for aggregate requests. The category
// decides stock vs flow semantics; the core stores no account registry.
type AccountRef struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Currency string `json:"currency,omitempty"`
}

// TotalBalanceRequest asks for an aggregate over a set of accounts.
type TotalBalanceRequest struct {
	Accounts     []AccountRef `json:"accounts"`
	AsOf         string       `json:"asOf,omitempty"`
	BaseCurrency string       `json:"baseCurrency,omitempty"`
}

// TotalBalanceDTO is the aggregate reply. Unconvertible buckets stay
// visible in byCurrency with hasConversionErrors set.
type TotalBalanceDTO struct {
	ByCurrency          map[string]string `json:"byCurrency"`
	Converted           string            `json:"converted,omitempty"`
	BaseCurrency        string            `json:"baseCurrency,omitempty"`
	HasConversionErrors bool              `json:"hasConversionErrors"`
	AsOf                string            `json:"asOf"`
}

// =============================================================================
// RECURRING TRANSACTIONS
// =============================================================================

// CreateRecurringRequest creates a recurring transaction recipe.
type CreateRecurringRequest struct {
	UserID      string          `json:"userId"`
	AccountID   string          `json:"accountId"`
	Currency    string          `json:"currency"`
	Type        string          `json:"type"` // INCOME or EXPENSE
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`

	Frequency   string `json:"frequency"` // DAILY | WEEKLY | MONTHLY | QUARTERLY | YEARLY
	Interval    int    `json:"interval,omitempty"`
	DayOfMonth  *int   `json:"dayOfMonth,omitempty"`
	DayOfWeek   *int   `json:"dayOfWeek,omitempty"` // 0 = Sunday
	MonthOfYear *int   `json:"monthOfYear,omitempty"`

	StartDate      string  `json:"startDate"`
	EndDate        *string `json:"endDate,omitempty"`
	MaxOccurrences *int    `json:"maxOccurrences,omitempty"`
}

// RecurringDTO is a recurring transaction in API responses.
type RecurringDTO struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Frequency    string `json:"frequency"`
	NextDate     string `json:"nextDate"`
	CurrentCount int    `json:"currentCount"`
	Active       bool   `json:"active"`
}

// =============================================================================
// LOANS
// =============================================================================

// CreateLoanRequest creates a loan contract with its full schedule.
type CreateLoanRequest struct {
	UserID             string          `json:"userId"`
	Name               string          `json:"name"`
	LiabilityAccountID string          `json:"liabilityAccountId"`
	PaymentAccountID   string          `json:"paymentAccountId,omitempty"`
	Currency           string          `json:"currency"`
	Principal          decimal.Decimal `json:"principal"`
	AnnualRate         decimal.Decimal `json:"annualRate"`
	TotalPeriods       int             `json:"totalPeriods"`
	RepaymentType      string          `json:"repaymentType"` // EQUAL_PAYMENT | EQUAL_PRINCIPAL | INTEREST_ONLY
	PaymentDay         int             `json:"paymentDay"`
	StartDate          string          `json:"startDate"`
	PaymentDescription string          `json:"paymentDescription,omitempty"`
}

// LoanContractDTO is a contract in API responses.
type LoanContractDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	Principal       string `json:"principal"`
	TotalPeriods    int    `json:"totalPeriods"`
	CurrentPeriod   int    `json:"currentPeriod"`
	NextPaymentDate string `json:"nextPaymentDate,omitempty"`
	Active          bool   `json:"active"`
}

// LoanPaymentDTO is one schedule row.
type LoanPaymentDTO struct {
	ID               string `json:"id"`
	Period           int    `json:"period"`
	PaymentDate      string `json:"paymentDate"`
	Principal        string `json:"principal"`
	Interest         string `json:"interest"`
	Total            string `json:"total"`
	RemainingBalance string `json:"remainingBalance"`
	Status           string `json:"status"`
}

// CreateLoanResponse bundles the contract with its generated schedule.
type CreateLoanResponse struct {
	Contract LoanContractDTO  `json:"contract"`
	Schedule []LoanPaymentDTO `json:"schedule"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecurringDTO(rt *batch.RecurringTransaction) RecurringDTO {
	return RecurringDTO{
		ID:           rt.ID,
		AccountID:    string(rt.AccountID),
		Type:         string(rt.Type),
		Amount:       rt.Amount.String(),
		Currency:     rt.Currency,
		Frequency:    string(rt.Spec.Frequency),
		NextDate:     rt.NextDate.String(),
		CurrentCount: rt.CurrentCount,
		Active:       rt.Active,
	}
}

func toContractDTO(c *batch.LoanContract) LoanContractDTO {
	dto := LoanContractDTO{
		ID:            c.ID,
		Name:          c.Name,
		Currency:      c.Currency,
		Principal:     c.Principal.String(),
		TotalPeriods:  c.TotalPeriods,
		CurrentPeriod: c.CurrentPeriod,
		Active:        c.Active,
	}
	if !c.NextPaymentDate.IsZero() {
		dto.NextPaymentDate = c.NextPaymentDate.String()
	}
	return dto
}

func toPaymentDTO(p *batch.LoanPayment) LoanPaymentDTO {
	return LoanPaymentDTO{
		ID:               p.ID,
		Period:           p.Period,
		PaymentDate:      p.PaymentDate.String(),
		Principal:        p.Principal.String(),
		Interest:         p.Interest.String(),
		Total:            p.Total.String(),
		RemainingBalance: p.RemainingBalance.String(),
		Status:           string(p.Status),
	}
}

func toPaymentDTOs(ps []*batch.LoanPayment) []LoanPaymentDTO {
	dtos := make([]LoanPaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func stringMap(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func (req CreateRecurringRequest) toDomain() (*batch.RecurringTransaction, error) {
	start, err := ledger.ParseDate(req.StartDate)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "startDate", Reason: "expected YYYY-MM-DD"}
	}
	interval := req.Interval
	if interval == 0 {
		interval = 1
	}

	rt := &batch.RecurringTransaction{
		UserID:      ledger.UserID(req.UserID),
		AccountID:   ledger.AccountID(req.AccountID),
		Currency:    req.Currency,
		Type:        ledger.TxType(req.Type),
		Amount:      req.Amount,
		Description: req.Description,
		Spec: schedule.Spec{
			Frequency:  schedule.Frequency(req.Frequency),
			Interval:   interval,
			DayOfMonth: req.DayOfMonth,
		},
		StartDate:      start,
		MaxOccurrences: req.MaxOccurrences,
	}
	if req.DayOfWeek != nil {
		wd := time.Weekday(*req.DayOfWeek)
		rt.Spec.DayOfWeek = &wd
	}
	if req.MonthOfYear != nil {
		m := time.Month(*req.MonthOfYear)
		rt.Spec.MonthOfYear = &m
	}
	if req.EndDate != nil {
		end, err := ledger.ParseDate(*req.EndDate)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "endDate", Reason: "expected YYYY-MM-DD"}
		}
		rt.EndDate = &end
	}
	return rt, nil
}

func (req CreateLoanRequest) toDomain() (*batch.LoanContract, error) {
	start, err := ledger.ParseDate(req.StartDate)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "startDate", Reason: "expected YYYY-MM-DD"}
	}
	return &batch.LoanContract{
		UserID:             ledger.UserID(req.UserID),
		Name:               req.Name,
		LiabilityAccountID: ledger.AccountID(req.LiabilityAccountID),
		PaymentAccountID:   ledger.AccountID(req.PaymentAccountID),
		Currency:           req.Currency,
		Principal:          req.Principal,
		AnnualRate:         req.AnnualRate,
		TotalPeriods:       req.TotalPeriods,
		Repayment:          schedule.RepaymentType(req.RepaymentType),
		PaymentDay:         req.PaymentDay,
		StartDate:          start,
		PaymentDescription: req.PaymentDescription,
	}, nil
}
