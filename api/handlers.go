/*
handlers.go - HTTP API handlers for the ledger core

PURPOSE:
  Exposes the balance engine and the batch materialization engine via
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Sync:
    POST   /api/sync/recurring              Run the recurring batch now
    POST   /api/sync/loans                  Run the loan batch now
    GET    /api/sync/status                 Scheduler status

  Balances:
    GET    /api/accounts/{id}/balance       Single-account balance
    POST   /api/balances/total              Aggregate across accounts

  Recipes:
    POST   /api/recurring                   Create recurring transaction
    GET    /api/recurring/{id}              Get recurring transaction
    POST   /api/loans                       Create loan contract + schedule
    GET    /api/loans/{id}/payments         List a contract's schedule
    POST   /api/loans/{id}/regenerate       Replan PENDING periods
    POST   /api/loans/payments/{id}/reset   Undo the latest completed payment

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (idempotency, concurrent materialization, reset rules)
  - 500: Internal errors

  Batch runs do NOT use HTTP errors for per-recipe failures: the run
  itself returns 200 with the failures listed in the result body.

SECURITY NOTE:
  No authentication middleware. All endpoints are public; front this
  service with an authenticating proxy in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic batch runs
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      batch.Store
	Engine     *batch.Engine
	Resolver   *ledger.Resolver
	Aggregator *ledger.Aggregator
	Scheduler  *SyncScheduler
	Log        *zap.Logger
}

// NewHandler creates a handler. The converter may be nil; aggregate
// requests then report conversion errors for non-base buckets.
func NewHandler(store batch.Store, engine *batch.Engine, converter ledger.CurrencyConverter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	resolver := ledger.NewResolver(store, log)
	return &Handler{
		Store:      store,
		Engine:     engine,
		Resolver:   resolver,
		Aggregator: ledger.NewAggregator(resolver, converter, log),
		Log:        log,
	}
}

// =============================================================================
// SYNC HANDLERS
// =============================================================================

// SyncRecurring runs the recurring batch immediately.
// POST /api/sync/recurring
func (h *Handler) SyncRecurring(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, "recurring", h.Engine.RunRecurringBatch)
}

// SyncLoans runs the loan batch immediately.
// POST /api/sync/loans
func (h *Handler) SyncLoans(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, "loan", h.Engine.RunLoanBatch)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, kind string,
	run func(ctx context.Context, user ledger.UserID) (batch.Result, error)) {

	var req SyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ctx := r.Context()
	record := batch.SyncRun{
		ID:        uuid.NewString(),
		UserID:    ledger.UserID(req.UserID),
		Kind:      kind,
		Status:    "processing",
		StartedAt: time.Now(),
	}
	if err := h.Store.SaveSyncRun(ctx, record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record sync run", err)
		return
	}

	result, err := run(ctx, ledger.UserID(req.UserID))
	completed := time.Now()
	record.CompletedAt = &completed
	record.Processed = result.Processed
	record.Skipped = result.Skipped
	if err != nil {
		record.Status = "failed"
		record.Error = err.Error()
		h.Store.SaveSyncRun(ctx, record)
		writeError(w, http.StatusInternalServerError, "Batch run failed", err)
		return
	}
	record.Status = "completed"
	if len(result.Errors) > 0 {
		record.Error = result.Errors[0].Message
	}
	if err := h.Store.SaveSyncRun(ctx, record); err != nil {
		h.Log.Warn("failed to record sync run", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, SyncResultDTO{
		Kind:      kind,
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Errors:    result.Errors,
	})
}

// SyncStatus returns the scheduler's state.
// GET /api/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SyncStatusDTO{Status: "idle"})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance computes one account's balance as of a date.
// GET /api/accounts/{id}/balance?category=ASSET&asOf=2026-01-31
//
// The category query parameter decides stock vs flow semantics; the core
// keeps no account registry of its own.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	category := ledger.CategoryType(r.URL.Query().Get("category"))
	if !category.IsStock() && !category.IsFlow() {
		writeError(w, http.StatusBadRequest, "Unknown category", nil)
		return
	}

	asOf := ledger.Today()
	if s := r.URL.Query().Get("asOf"); s != "" {
		d, err := ledger.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid asOf date", err)
			return
		}
		asOf = d
	}

	account := ledger.Account{ID: ledger.AccountID(id), Category: category}

	var (
		balances map[string]decimal.Decimal
		err      error
	)
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if category.IsFlow() && from != "" && to != "" {
		start, err1 := ledger.ParseDate(from)
		end, err2 := ledger.ParseDate(to)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "Invalid window dates", nil)
			return
		}
		balances, err = h.Resolver.FlowBalanceOf(r.Context(), account, ledger.Period{Start: start, End: end})
	} else {
		balances, err = h.Resolver.BalanceOf(r.Context(), account, asOf)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: id,
		Category:  string(category),
		AsOf:      asOf.String(),
		Balances:  stringMap(balances),
	})
}

// TotalBalance aggregates balances over a set of accounts.
// POST /api/balances/total
func (h *Handler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	var req TotalBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Accounts) == 0 {
		writeError(w, http.StatusBadRequest, "No accounts given", nil)
		return
	}

	asOf := ledger.Today()
	if req.AsOf != "" {
		d, err := ledger.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid asOf date", err)
			return
		}
		asOf = d
	}

	accounts := make([]ledger.Account, 0, len(req.Accounts))
	for _, ref := range req.Accounts {
		accounts = append(accounts, ledger.Account{
			ID:       ledger.AccountID(ref.ID),
			Category: ledger.CategoryType(ref.Category),
			Currency: ref.Currency,
		})
	}

	total, err := h.Aggregator.TotalBalance(r.Context(), accounts, asOf, req.BaseCurrency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate balances", err)
		return
	}

	dto := TotalBalanceDTO{
		ByCurrency:          stringMap(total.ByCurrency),
		BaseCurrency:        total.BaseCurrency,
		HasConversionErrors: total.HasConversionErrors,
		AsOf:                asOf.String(),
	}
	if total.BaseCurrency != "" {
		dto.Converted = total.Converted.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RECIPE HANDLERS
// =============================================================================

// CreateRecurring creates a recurring transaction recipe.
// POST /api/recurring
func (h *Handler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req CreateRecurringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rt, err := req.toDomain()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := batch.CreateRecurring(r.Context(), h.Store, rt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurringDTO(rt))
}

// GetRecurring returns one recurring transaction.
// GET /api/recurring/{id}
func (h *Handler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	rt, err := h.Store.GetRecurring(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurringDTO(rt))
}

// CreateLoan creates a loan contract and its full PENDING schedule.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := req.toDomain()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	schedule, err := batch.CreateLoanContract(r.Context(), h.Store, c)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateLoanResponse{
		Contract: toContractDTO(c),
		Schedule: toPaymentDTOs(schedule),
	})
}

// GetLoanPayments lists a contract's schedule, period ascending.
// GET /api/loans/{id}/payments
func (h *Handler) GetLoanPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetContract(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	payments, err := h.Store.PaymentsByContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// RegenerateLoan replans a contract's PENDING periods after a term edit.
// POST /api/loans/{id}/regenerate
func (h *Handler) RegenerateLoan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := batch.RegenerateRemaining(r.Context(), h.Store, id); err != nil {
		writeDomainError(w, err)
		return
	}
	payments, err := h.Store.PaymentsByContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// ResetPayment undoes a contract's latest completed payment.
// POST /api/loans/payments/{id}/reset
func (h *Handler) ResetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := batch.ResetPayment(r.Context(), h.Store, id); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error categories onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Concurrent run in progress, retry", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
