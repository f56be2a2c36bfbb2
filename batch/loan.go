package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jomonylw/flow-balance/ledger"
	"github.com/jomonylw/flow-balance/schedule"
)

// =============================================================================
// LOAN CONTRACT - A recipe for amortized debt
// =============================================================================

// LoanContract owns a materialized payment schedule. The full schedule is
// generated once at creation (all PENDING); the batch engine transitions
// payments to COMPLETED as their dates come due.
type LoanContract struct {
	ID     string
	UserID ledger.UserID
	Name   string

	// LiabilityAccountID receives the BALANCE snapshots.
	LiabilityAccountID ledger.AccountID
	// PaymentAccountID receives the principal/interest EXPENSE entries.
	// Optional: when empty, only balance snapshots are emitted.
	PaymentAccountID ledger.AccountID

	Currency   string
	Principal  decimal.Decimal
	AnnualRate decimal.Decimal
	// TotalPeriods is the number of monthly periods.
	TotalPeriods int
	Repayment    schedule.RepaymentType
	// PaymentDay is the target day-of-month (1..31), clamped per month.
	PaymentDay int
	StartDate  ledger.Date

	// PaymentDescription is a template with {period}, {contractName} and
	// {remainingBalance} placeholders, supplied by the translation layer.
	PaymentDescription string

	// Cursor state, owned by the batch engine.
	CurrentPeriod   int
	NextPaymentDate ledger.Date
	Active          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects malformed contract terms synchronously.
func (c *LoanContract) Validate() error {
	if err := c.terms().Validate(); err != nil {
		return err
	}
	if c.LiabilityAccountID == "" {
		return &ledger.ValidationError{Field: "liabilityAccountId", Reason: "required"}
	}
	if c.PaymentDay < 1 || c.PaymentDay > 31 {
		return &ledger.ValidationError{Field: "paymentDay", Reason: "must be in 1..31"}
	}
	if c.StartDate.IsZero() {
		return &ledger.ValidationError{Field: "startDate", Reason: "required"}
	}
	return nil
}

func (c *LoanContract) terms() schedule.LoanTerms {
	return schedule.LoanTerms{
		Principal:  c.Principal,
		AnnualRate: c.AnnualRate,
		Periods:    c.TotalPeriods,
		Type:       c.Repayment,
		Currency:   c.Currency,
	}
}

// PaymentDate returns the calendar date of a 1-based period: PaymentDay in
// the month that lies `period` months after the start date, clamped to the
// month's length.
func (c *LoanContract) PaymentDate(period int) ledger.Date {
	return c.StartDate.ClampedAddMonths(period, c.PaymentDay)
}

// =============================================================================
// LOAN PAYMENT - One materialized schedule row
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	// PaymentFailed is reserved; the batch path reports errors instead of
	// persisting a terminal payment state.
	PaymentFailed PaymentStatus = "FAILED"
)

// LoanPayment is one period of a contract's schedule. RemainingBalance is
// monotonically non-increasing across periods and reaches exactly 0 at the
// final period.
type LoanPayment struct {
	ID         string
	ContractID string
	Period     int // 1-based
	UserID     ledger.UserID

	PaymentDate      ledger.Date
	Principal        decimal.Decimal
	Interest         decimal.Decimal
	Total            decimal.Decimal
	RemainingBalance decimal.Decimal

	Status PaymentStatus

	// Links to the up-to-three transactions this payment generated.
	PrincipalTxID ledger.TransactionID
	InterestTxID  ledger.TransactionID
	BalanceTxID   ledger.TransactionID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Materialization roles; each role of a payment gets its own idempotency key.
const (
	RolePrincipal = "principal"
	RoleInterest  = "interest"
	RoleBalance   = "balance"
)

// LoanPaymentKey is the idempotency key for one (payment, role) pair.
func LoanPaymentKey(paymentID, role string) string {
	return "loan:" + paymentID + ":" + role
}

// buildSchedule runs the amortization calculator and attaches payment dates.
func buildSchedule(c *LoanContract, terms schedule.LoanTerms, firstPeriod int) ([]*LoanPayment, error) {
	plan, err := schedule.Amortize(terms)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	payments := make([]*LoanPayment, 0, len(plan.Payments))
	for _, p := range plan.Payments {
		period := firstPeriod + p.Period - 1
		payments = append(payments, &LoanPayment{
			ID:               uuid.NewString(),
			ContractID:       c.ID,
			UserID:           c.UserID,
			Period:           period,
			PaymentDate:      c.PaymentDate(period),
			Principal:        p.Principal,
			Interest:         p.Interest,
			Total:            p.Total,
			RemainingBalance: p.RemainingBalance,
			Status:           PaymentPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return payments, nil
}

// =============================================================================
// RECIPE ADAPTER - One atomic unit per contract
// =============================================================================

type loanRecipe struct {
	contract *LoanContract
	due      []*LoanPayment
	touched  []*LoanPayment
}

func (r *loanRecipe) RecipeID() string { return r.contract.ID }

func (r *loanRecipe) DueCandidates(horizon ledger.Date) ([]Candidate, error) {
	var out []Candidate
	for _, p := range r.due {
		if p.PaymentDate.After(horizon) {
			break
		}
		// The balance role is emitted for every period, so it serves as the
		// candidate's sentinel key.
		out = append(out, Candidate{
			Key:  LoanPaymentKey(p.ID, RoleBalance),
			Date: p.PaymentDate,
			ref:  p,
		})
	}
	return out, nil
}

func (r *loanRecipe) Materialize(c Candidate) ([]ledger.Transaction, error) {
	p := c.ref.(*LoanPayment)
	now := time.Now()
	description := RenderDescription(r.contract.PaymentDescription, DescriptionVars{
		Period:           p.Period,
		ContractName:     r.contract.Name,
		RemainingBalance: p.RemainingBalance,
	})

	base := ledger.Transaction{
		UserID:         r.contract.UserID,
		Currency:       r.contract.Currency,
		Date:           p.PaymentDate,
		Description:    description,
		LoanContractID: r.contract.ID,
		LoanPaymentID:  p.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var txs []ledger.Transaction

	if r.contract.PaymentAccountID != "" && p.Principal.IsPositive() {
		tx := base
		tx.ID = ledger.TransactionID(uuid.NewString())
		tx.AccountID = r.contract.PaymentAccountID
		tx.Type = ledger.TxExpense
		tx.Amount = p.Principal
		tx.IdempotencyKey = LoanPaymentKey(p.ID, RolePrincipal)
		p.PrincipalTxID = tx.ID
		txs = append(txs, tx)
	}

	if r.contract.PaymentAccountID != "" && p.Interest.IsPositive() {
		tx := base
		tx.ID = ledger.TransactionID(uuid.NewString())
		tx.AccountID = r.contract.PaymentAccountID
		tx.Type = ledger.TxExpense
		tx.Amount = p.Interest
		tx.IdempotencyKey = LoanPaymentKey(p.ID, RoleInterest)
		p.InterestTxID = tx.ID
		txs = append(txs, tx)
	}

	// The balance snapshot is emitted even when the period pays no
	// principal (interest-only): the balance engine depends on BALANCE
	// anchors appearing at regular intervals.
	tx := base
	tx.ID = ledger.TransactionID(uuid.NewString())
	tx.AccountID = r.contract.LiabilityAccountID
	tx.Type = ledger.TxBalance
	tx.Amount = p.RemainingBalance
	tx.IdempotencyKey = LoanPaymentKey(p.ID, RoleBalance)
	p.BalanceTxID = tx.ID
	txs = append(txs, tx)

	return txs, nil
}

func (r *loanRecipe) AdvanceCursor(c Candidate, _ Outcome) {
	p := c.ref.(*LoanPayment)
	p.Status = PaymentCompleted
	p.UpdatedAt = time.Now()
	r.touched = append(r.touched, p)

	c2 := r.contract
	if p.Period > c2.CurrentPeriod {
		c2.CurrentPeriod = p.Period
	}
}

func (r *loanRecipe) SaveCursor(ctx context.Context, s Store) error {
	c := r.contract
	c.NextPaymentDate = c.PaymentDate(c.CurrentPeriod + 1)
	if c.CurrentPeriod >= c.TotalPeriods && c.Active {
		// Only an active contract completes itself; a manually deactivated
		// contract is never silently flipped.
		c.Active = false
		c.NextPaymentDate = ledger.Date{}
	}
	c.UpdatedAt = time.Now()

	for _, p := range r.touched {
		if err := s.SavePayment(ctx, p); err != nil {
			return err
		}
	}
	return s.SaveContract(ctx, c)
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// RunLoanBatch materializes all due loan payments for a user scope, one
// atomic unit per contract.
func (e *Engine) RunLoanBatch(ctx context.Context, user ledger.UserID) (Result, error) {
	contracts, err := e.Store.ActiveContracts(ctx, user)
	if err != nil {
		return Result{}, err
	}

	horizon := e.Horizon()
	var recipes []Recipe
	for _, c := range contracts {
		due, err := e.Store.DuePayments(ctx, c.ID, horizon)
		if err != nil {
			return Result{}, err
		}
		if len(due) == 0 {
			continue
		}
		recipes = append(recipes, &loanRecipe{contract: c, due: due})
	}
	return e.run(ctx, "loan", recipes), nil
}

// CreateLoanContract validates a contract, generates its full PENDING
// schedule and persists both atomically.
func CreateLoanContract(ctx context.Context, s Store, c *LoanContract) ([]*LoanPayment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	payments, err := buildSchedule(c, c.terms(), 1)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c.Active = true
	c.CurrentPeriod = 0
	c.NextPaymentDate = c.PaymentDate(1)
	c.CreatedAt = now
	c.UpdatedAt = now

	err = s.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveContract(ctx, c); err != nil {
			return err
		}
		return tx.InsertPayments(ctx, payments)
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// RegenerateRemaining replans a contract's schedule after a term edit.
// Only the PENDING periods are regenerated, continuing from the last
// COMPLETED period's remaining balance; completed history is untouched.
func RegenerateRemaining(ctx context.Context, s Store, contractID string) error {
	return s.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}

		payments, err := tx.PaymentsByContract(ctx, contractID)
		if err != nil {
			return err
		}

		lastCompleted := 0
		base := c.Principal
		for _, p := range payments {
			if p.Status == PaymentCompleted && p.Period > lastCompleted {
				lastCompleted = p.Period
				base = p.RemainingBalance
			}
		}

		if err := tx.DeletePendingPayments(ctx, contractID, lastCompleted); err != nil {
			return err
		}

		remaining := c.TotalPeriods - lastCompleted
		if remaining <= 0 || base.IsZero() {
			return tx.SaveContract(ctx, c)
		}

		terms := c.terms()
		terms.Principal = base
		terms.Periods = remaining
		regenerated, err := buildSchedule(c, terms, lastCompleted+1)
		if err != nil {
			return err
		}
		if err := tx.InsertPayments(ctx, regenerated); err != nil {
			return err
		}

		c.NextPaymentDate = c.PaymentDate(lastCompleted + 1)
		c.UpdatedAt = time.Now()
		return tx.SaveContract(ctx, c)
	})
}

// ResetPayment is the explicit COMPLETED -> PENDING undo. It deletes the
// payment's generated transactions and rolls the contract's cursor back.
// Only the contract's latest completed period may be reset, keeping the
// cursor monotonic.
func ResetPayment(ctx context.Context, s Store, paymentID string) error {
	return s.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentCompleted {
			return ledger.ErrPaymentNotResettable
		}
		c, err := tx.GetContract(ctx, p.ContractID)
		if err != nil {
			return err
		}
		if p.Period != c.CurrentPeriod {
			return ledger.ErrPaymentNotResettable
		}

		var ids []ledger.TransactionID
		for _, id := range []ledger.TransactionID{p.PrincipalTxID, p.InterestTxID, p.BalanceTxID} {
			if id != "" {
				ids = append(ids, id)
			}
		}
		if err := tx.Delete(ctx, ids); err != nil {
			return err
		}

		p.Status = PaymentPending
		p.PrincipalTxID, p.InterestTxID, p.BalanceTxID = "", "", ""
		p.UpdatedAt = time.Now()
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}

		wasComplete := !c.Active && c.CurrentPeriod >= c.TotalPeriods
		c.CurrentPeriod = p.Period - 1
		c.NextPaymentDate = p.PaymentDate
		if wasComplete {
			// Undoing the final payment reopens a contract that completed
			// itself; manual deactivation at any earlier period sticks.
			c.Active = true
		}
		c.UpdatedAt = time.Now()
		return tx.SaveContract(ctx, c)
	})
}
