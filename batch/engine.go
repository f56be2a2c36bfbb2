package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/ledger"
)

// =============================================================================
// RECIPE - Capability interface shared by both recipe kinds
// =============================================================================

// Outcome classifies what happened to one candidate.
type Outcome string

const (
	OutcomeMaterialized    Outcome = "materialized"
	OutcomeSkippedExisting Outcome = "skipped_existing"
	OutcomeSkippedLimit    Outcome = "skipped_limit"
)

// Candidate is one due occurrence of a recipe, identified by its
// idempotency key.
type Candidate struct {
	Key  string
	Date ledger.Date

	// recipe-private payload (e.g. the LoanPayment behind this occurrence)
	ref any
}

// Recipe is implemented once per recipe kind. Recurring transactions and
// loan payments are structurally different but share the materialization
// control flow; the engine owns the flow, recipes own the semantics.
type Recipe interface {
	// RecipeID identifies the recipe for error reporting.
	RecipeID() string

	// DueCandidates returns the occurrences due at or before the horizon,
	// in increasing date order. Occurrences blocked by a terminal condition
	// (endDate, maxOccurrences) are not returned.
	DueCandidates(horizon ledger.Date) ([]Candidate, error)

	// Materialize stages the ledger transactions for one occurrence.
	Materialize(c Candidate) ([]ledger.Transaction, error)

	// AdvanceCursor moves the in-memory cursor past the candidate. Called
	// for materialized AND skipped-existing candidates, so a cursor can
	// never get stuck re-checking the same date forever.
	AdvanceCursor(c Candidate, oc Outcome)

	// SaveCursor persists cursor state inside the same atomic unit that
	// committed the staged transactions.
	SaveCursor(ctx context.Context, s Store) error
}

// =============================================================================
// RESULT - Mixed-outcome batch reporting
// =============================================================================

// RecipeError records one recipe's failure without halting the batch.
type RecipeError struct {
	RecipeID string `json:"recipeId"`
	Message  string `json:"message"`
}

// Result is what a batch run returns to the orchestrator. Errors are
// accumulated, never thrown out of the batch call.
type Result struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    []RecipeError `json:"errors,omitempty"`
}

func (r *Result) fail(recipeID string, err error) {
	r.Errors = append(r.Errors, RecipeError{RecipeID: recipeID, Message: err.Error()})
}

// =============================================================================
// ENGINE - Generic idempotent materialization loop
// =============================================================================

// Engine runs recipes against a store. All dependencies are injected; Now
// is overridable so tests control the clock.
type Engine struct {
	Store Store
	Log   *zap.Logger

	// LookAheadDays extends the horizon past today for pre-generation.
	LookAheadDays int

	// Now returns the current calendar day. Defaults to ledger.Today.
	Now func() ledger.Date
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Store: store, Log: log, Now: ledger.Today}
}

// Horizon is the inclusive due cutoff: today plus the configured look-ahead.
func (e *Engine) Horizon() ledger.Date {
	now := e.Now
	if now == nil {
		now = ledger.Today
	}
	return now().AddDays(e.LookAheadDays)
}

// runRecipe executes one recipe as its own atomic unit. A failure leaves
// the recipe's cursor untouched (safe to retry on the next run) and is
// reported to the caller; it never affects other recipes.
func (e *Engine) runRecipe(ctx context.Context, recipe Recipe) (processed, skipped int, err error) {
	horizon := e.Horizon()

	candidates, err := recipe.DueCandidates(horizon)
	if err != nil {
		return 0, 0, err
	}

	// Idempotency pre-check, outside the unit of work. This read may be
	// stale by commit time; the in-transaction re-check below closes the
	// race, and the store's unique key constraint is the final guarantee.
	existing := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ok, err := e.Store.Exists(ctx, c.Key)
		if err != nil {
			return 0, 0, err
		}
		existing[c.Key] = ok
	}

	err = e.Store.WithTx(ctx, func(s Store) error {
		for _, c := range candidates {
			if existing[c.Key] {
				recipe.AdvanceCursor(c, OutcomeSkippedExisting)
				skipped++
				continue
			}

			// Concurrency guard: re-check within the unit of work. If the
			// key appeared since the pre-check, a concurrent run won the
			// race; abort rather than create a duplicate.
			nowExists, err := s.Exists(ctx, c.Key)
			if err != nil {
				return err
			}
			if nowExists {
				return &ledger.ConflictError{Key: c.Key}
			}

			txs, err := recipe.Materialize(c)
			if err != nil {
				return err
			}
			if err := s.AppendBatch(ctx, txs); err != nil {
				if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
					// The unique constraint fired: a writer slipped in
					// between re-check and insert. Same conflict, slower path.
					return &ledger.ConflictError{Key: c.Key}
				}
				return err
			}

			recipe.AdvanceCursor(c, OutcomeMaterialized)
			processed++
		}
		return recipe.SaveCursor(ctx, s)
	})
	if err != nil {
		return 0, 0, err
	}
	return processed, skipped, nil
}

// run processes a set of recipes independently, collecting per-recipe
// errors into the result instead of propagating them.
func (e *Engine) run(ctx context.Context, kind string, recipes []Recipe) Result {
	var result Result
	for _, recipe := range recipes {
		processed, skipped, err := e.runRecipe(ctx, recipe)
		if err != nil {
			e.Log.Warn("recipe materialization failed",
				zap.String("kind", kind),
				zap.String("recipe", recipe.RecipeID()),
				zap.Bool("retryable", ledger.IsRetryable(err)),
				zap.Error(err))
			result.fail(recipe.RecipeID(), err)
			continue
		}
		result.Processed += processed
		result.Skipped += skipped
	}
	e.Log.Info("batch run finished",
		zap.String("kind", kind),
		zap.Int("recipes", len(recipes)),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result
}

// dueKey formats a (recipe, date) idempotency key.
func dueKey(kind, recipeID string, date ledger.Date) string {
	return fmt.Sprintf("%s:%s:%s", kind, recipeID, date)
}
