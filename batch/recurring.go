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
// RECURRING TRANSACTION - A recipe for periodic ledger entries
// =============================================================================

// RecurringTransaction generates one INCOME or EXPENSE transaction per
// occurrence of its cadence. The cursor (CurrentCount, NextDate) is
// advanced exclusively by the batch engine.
type RecurringTransaction struct {
	ID          string
	UserID      ledger.UserID
	AccountID   ledger.AccountID
	Currency    string
	Type        ledger.TxType // INCOME or EXPENSE
	Amount      decimal.Decimal
	Description string

	Spec           schedule.Spec
	StartDate      ledger.Date
	EndDate        *ledger.Date
	MaxOccurrences *int

	// Cursor state, owned by the batch engine.
	CurrentCount int
	NextDate     ledger.Date
	Active       bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects malformed recipes synchronously at creation time and
// normalizes the cadence anchor: month-based cadences without an explicit
// dayOfMonth are pinned to the start date's day, so a recipe created on
// Jan 31 keeps aiming for day 31 after clamping to shorter months.
func (rt *RecurringTransaction) Validate() error {
	if rt.Type != ledger.TxIncome && rt.Type != ledger.TxExpense {
		return &ledger.ValidationError{Field: "type", Reason: "must be INCOME or EXPENSE"}
	}
	if rt.AccountID == "" {
		return &ledger.ValidationError{Field: "accountId", Reason: "required"}
	}
	if rt.Currency == "" {
		return &ledger.ValidationError{Field: "currency", Reason: "required"}
	}
	if rt.StartDate.IsZero() {
		return &ledger.ValidationError{Field: "startDate", Reason: "required"}
	}
	if rt.EndDate != nil && rt.EndDate.Before(rt.StartDate) {
		return &ledger.ValidationError{Field: "endDate", Reason: "before start date"}
	}
	if rt.MaxOccurrences != nil && *rt.MaxOccurrences < 1 {
		return &ledger.ValidationError{Field: "maxOccurrences", Reason: "must be at least 1"}
	}
	if err := rt.Spec.Validate(); err != nil {
		return err
	}

	switch rt.Spec.Frequency {
	case schedule.Monthly, schedule.Quarterly, schedule.Yearly:
		if rt.Spec.DayOfMonth == nil {
			day := rt.StartDate.Day()
			rt.Spec.DayOfMonth = &day
		}
	}
	if rt.NextDate.IsZero() {
		rt.NextDate = rt.StartDate
	}
	return nil
}

// RecurringKey is the idempotency key for one (recipe, date) occurrence.
func RecurringKey(recipeID string, date ledger.Date) string {
	return dueKey("recurring", recipeID, date)
}

// =============================================================================
// RECIPE ADAPTER
// =============================================================================

type recurringRecipe struct {
	rt *RecurringTransaction
}

func (r *recurringRecipe) RecipeID() string { return r.rt.ID }

func (r *recurringRecipe) DueCandidates(horizon ledger.Date) ([]Candidate, error) {
	var out []Candidate
	date := r.rt.NextDate
	count := r.rt.CurrentCount
	for date.BeforeOrEqual(horizon) {
		if r.rt.EndDate != nil && date.After(*r.rt.EndDate) {
			break
		}
		if r.rt.MaxOccurrences != nil && count >= *r.rt.MaxOccurrences {
			break
		}
		out = append(out, Candidate{Key: RecurringKey(r.rt.ID, date), Date: date})
		count++
		date = schedule.NextDate(date, r.rt.Spec)
	}
	return out, nil
}

func (r *recurringRecipe) Materialize(c Candidate) ([]ledger.Transaction, error) {
	now := time.Now()
	return []ledger.Transaction{{
		ID:             ledger.TransactionID(uuid.NewString()),
		UserID:         r.rt.UserID,
		AccountID:      r.rt.AccountID,
		Currency:       r.rt.Currency,
		Type:           r.rt.Type,
		Amount:         r.rt.Amount,
		Date:           c.Date,
		Description:    r.rt.Description,
		RecurringID:    r.rt.ID,
		IdempotencyKey: c.Key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}

func (r *recurringRecipe) AdvanceCursor(c Candidate, _ Outcome) {
	// Advance even for skipped_existing, so the cursor never re-checks the
	// same date forever.
	r.rt.CurrentCount++
	r.rt.NextDate = schedule.NextDate(c.Date, r.rt.Spec)
}

func (r *recurringRecipe) SaveCursor(ctx context.Context, s Store) error {
	if r.rt.EndDate != nil && r.rt.NextDate.After(*r.rt.EndDate) {
		r.rt.Active = false
	}
	if r.rt.MaxOccurrences != nil && r.rt.CurrentCount >= *r.rt.MaxOccurrences {
		r.rt.Active = false
	}
	r.rt.UpdatedAt = time.Now()
	return s.SaveRecurring(ctx, r.rt)
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// RunRecurringBatch materializes all due recurring transactions for a user
// scope. Each recipe is its own atomic unit; failures are collected into
// the result, never thrown.
func (e *Engine) RunRecurringBatch(ctx context.Context, user ledger.UserID) (Result, error) {
	due, err := e.Store.DueRecurring(ctx, user, e.Horizon())
	if err != nil {
		return Result{}, err
	}
	recipes := make([]Recipe, 0, len(due))
	for _, rt := range due {
		recipes = append(recipes, &recurringRecipe{rt: rt})
	}
	return e.run(ctx, "recurring", recipes), nil
}

// CreateRecurring validates and persists a new recurring transaction.
// Validation errors surface synchronously to the caller.
func CreateRecurring(ctx context.Context, s Store, rt *RecurringTransaction) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	if err := rt.Validate(); err != nil {
		return err
	}
	rt.Active = true
	now := time.Now()
	rt.CreatedAt = now
	rt.UpdatedAt = now
	return s.SaveRecurring(ctx, rt)
}
