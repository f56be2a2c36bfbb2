/*
Package sqlite provides the SQLite-backed implementation of batch.Store.

KEY TABLES:
  transactions:           The ledger; UNIQUE idempotency_key
  recurring_transactions: Recurring recipes with their cursor state
  loan_contracts:         Loan recipes with their cursor state
  loan_payments:          Materialized amortization schedule rows
  sync_runs:              Coarse batch run status for the orchestrator

DUPLICATE GUARD:
  The UNIQUE index on transactions.idempotency_key is the ultimate
  idempotency guarantee. The batch engine's in-transaction re-check is a
  fast path; if a concurrent writer slips past it, the constraint fires
  and is surfaced as ErrDuplicateIdempotencyKey.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  the single writer and crash recovery is sound.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - batch/store.go: Interface definition
  - store/memory:   In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
)

// Store implements batch.Store using SQLite.
type Store struct {
	db *sql.DB
}

// queryer abstracts *sql.DB and *sql.Tx so the same query helpers serve
// both the top-level store and the transactional view.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY churn under concurrent batch
	// runs; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		description TEXT,
		recurring_id TEXT,
		loan_contract_id TEXT,
		loan_payment_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_recurring
		ON transactions(recurring_id) WHERE recurring_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_loan_payment
		ON transactions(loan_payment_id) WHERE loan_payment_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS recurring_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		frequency TEXT NOT NULL,
		interval INTEGER NOT NULL DEFAULT 1,
		day_of_month INTEGER,
		day_of_week INTEGER,
		month_of_year INTEGER,
		start_date TEXT NOT NULL,
		end_date TEXT,
		max_occurrences INTEGER,
		current_count INTEGER NOT NULL DEFAULT 0,
		next_date TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recurring_due
		ON recurring_transactions(user_id, active, next_date);

	CREATE TABLE IF NOT EXISTS loan_contracts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		liability_account_id TEXT NOT NULL,
		payment_account_id TEXT,
		currency TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		total_periods INTEGER NOT NULL,
		repayment_type TEXT NOT NULL,
		payment_day INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		payment_description TEXT,
		current_period INTEGER NOT NULL DEFAULT 0,
		next_payment_date TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_user_active
		ON loan_contracts(user_id, active);

	CREATE TABLE IF NOT EXISTS loan_payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		period INTEGER NOT NULL,
		payment_date TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		principal_tx_id TEXT,
		interest_tx_id TEXT,
		balance_tx_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(contract_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_due
		ON loan_payments(contract_id, status, payment_date);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_kind
		ON sync_runs(kind, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, s.db, tx)
}

func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func appendTx(ctx context.Context, q queryer, tx ledger.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, account_id, currency, tx_type, amount, tx_date, description,
		 recurring_id, loan_contract_id, loan_payment_id, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.AccountID, tx.Currency, tx.Type, tx.Amount.String(),
		tx.Date.String(), tx.Description,
		nullString(tx.RecurringID), nullString(tx.LoanContractID), nullString(tx.LoanPaymentID),
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano), tx.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

const txColumns = `id, user_id, account_id, currency, tx_type, amount, tx_date, description,
	recurring_id, loan_contract_id, loan_payment_id, idempotency_key, created_at, updated_at`

func (s *Store) ByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return byAccount(ctx, s.db, accountID)
}

func byAccount(ctx context.Context, q queryer, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY tx_date ASC, updated_at ASC`, accountID)
}

func (s *Store) ByAccountRange(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.Transaction, error) {
	return byAccountRange(ctx, s.db, accountID, from, to)
}

func byAccountRange(ctx context.Context, q queryer, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY tx_date ASC, updated_at ASC`, accountID, from.String(), to.String())
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return existsKey(ctx, s.db, key)
}

func existsKey(ctx context.Context, q queryer, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", key,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Delete(ctx context.Context, ids []ledger.TransactionID) error {
	return deleteTxs(ctx, s.db, ids)
}

func deleteTxs(ctx context.Context, q queryer, ids []ledger.TransactionID) error {
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", id, err)
		}
	}
	return nil
}

func queryTransactions(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                                   ledger.Transaction
		amount, txDate, createdAt, updatedAt string
		description, recurringID, contractID sql.NullString
		paymentID, idempotencyKey            sql.NullString
	)
	err := rows.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.Currency, &tx.Type, &amount, &txDate,
		&description, &recurringID, &contractID, &paymentID, &idempotencyKey,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = parseDecimal(amount)
	tx.Date, _ = ledger.ParseDate(txDate)
	tx.Description = description.String
	tx.RecurringID = recurringID.String
	tx.LoanContractID = contractID.String
	tx.LoanPaymentID = paymentID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	tx.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return tx, nil
}

// =============================================================================
// RECURRING TRANSACTIONS
// =============================================================================

const recurringColumns = `id, user_id, account_id, currency, tx_type, amount, description,
	frequency, interval, day_of_month, day_of_week, month_of_year,
	start_date, end_date, max_occurrences, current_count, next_date, active,
	created_at, updated_at`

func (s *Store) DueRecurring(ctx context.Context, user ledger.UserID, horizon ledger.Date) ([]*batch.RecurringTransaction, error) {
	return dueRecurring(ctx, s.db, user, horizon)
}

func dueRecurring(ctx context.Context, q queryer, user ledger.UserID, horizon ledger.Date) ([]*batch.RecurringTransaction, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_transactions
		WHERE active = 1 AND next_date <= ?`
	args := []any{horizon.String()}
	if user != "" {
		query += " AND user_id = ?"
		args = append(args, user)
	}
	query += " ORDER BY id ASC"
	return queryRecurring(ctx, q, query, args...)
}

func (s *Store) GetRecurring(ctx context.Context, id string) (*batch.RecurringTransaction, error) {
	return getRecurring(ctx, s.db, id)
}

func getRecurring(ctx context.Context, q queryer, id string) (*batch.RecurringTransaction, error) {
	rts, err := queryRecurring(ctx, q,
		"SELECT "+recurringColumns+" FROM recurring_transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rts) == 0 {
		return nil, ledger.ErrRecipeNotFound
	}
	return rts[0], nil
}

func (s *Store) SaveRecurring(ctx context.Context, rt *batch.RecurringTransaction) error {
	return saveRecurring(ctx, s.db, rt)
}

func saveRecurring(ctx context.Context, q queryer, rt *batch.RecurringTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			currency = excluded.currency,
			tx_type = excluded.tx_type,
			amount = excluded.amount,
			description = excluded.description,
			frequency = excluded.frequency,
			interval = excluded.interval,
			day_of_month = excluded.day_of_month,
			day_of_week = excluded.day_of_week,
			month_of_year = excluded.month_of_year,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			max_occurrences = excluded.max_occurrences,
			current_count = excluded.current_count,
			next_date = excluded.next_date,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		rt.ID, rt.UserID, rt.AccountID, rt.Currency, rt.Type, rt.Amount.String(), rt.Description,
		rt.Spec.Frequency, rt.Spec.Interval,
		nullIntPtr(rt.Spec.DayOfMonth), nullWeekdayPtr(rt.Spec.DayOfWeek), nullMonthPtr(rt.Spec.MonthOfYear),
		rt.StartDate.String(), nullDatePtr(rt.EndDate), nullIntPtr(rt.MaxOccurrences),
		rt.CurrentCount, rt.NextDate.String(), boolInt(rt.Active),
		rt.CreatedAt.UTC().Format(time.RFC3339Nano), rt.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save recurring transaction: %w", err)
	}
	return nil
}

func queryRecurring(ctx context.Context, q queryer, query string, args ...any) ([]*batch.RecurringTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring transactions: %w", err)
	}
	defer rows.Close()

	var out []*batch.RecurringTransaction
	for rows.Next() {
		var (
			rt                                                batch.RecurringTransaction
			amount, startDate, nextDate, createdAt, updatedAt string
			description, endDate                              sql.NullString
			dayOfMonth, dayOfWeek, monthOfYear, maxOcc        sql.NullInt64
			active                                            int
		)
		err := rows.Scan(
			&rt.ID, &rt.UserID, &rt.AccountID, &rt.Currency, &rt.Type, &amount, &description,
			&rt.Spec.Frequency, &rt.Spec.Interval, &dayOfMonth, &dayOfWeek, &monthOfYear,
			&startDate, &endDate, &maxOcc, &rt.CurrentCount, &nextDate, &active,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring transaction: %w", err)
		}

		rt.Amount = parseDecimal(amount)
		rt.Description = description.String
		rt.StartDate, _ = ledger.ParseDate(startDate)
		rt.NextDate, _ = ledger.ParseDate(nextDate)
		rt.Active = active != 0
		if dayOfMonth.Valid {
			v := int(dayOfMonth.Int64)
			rt.Spec.DayOfMonth = &v
		}
		if dayOfWeek.Valid {
			v := time.Weekday(dayOfWeek.Int64)
			rt.Spec.DayOfWeek = &v
		}
		if monthOfYear.Valid {
			v := time.Month(monthOfYear.Int64)
			rt.Spec.MonthOfYear = &v
		}
		if maxOcc.Valid {
			v := int(maxOcc.Int64)
			rt.MaxOccurrences = &v
		}
		if endDate.Valid && endDate.String != "" {
			if d, err := ledger.ParseDate(endDate.String); err == nil {
				rt.EndDate = &d
			}
		}
		rt.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rt.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &rt)
	}
	return out, rows.Err()
}

// =============================================================================
// LOAN CONTRACTS
// =============================================================================

const contractColumns = `id, user_id, name, liability_account_id, payment_account_id, currency,
	principal, annual_rate, total_periods, repayment_type, payment_day, start_date,
	payment_description, current_period, next_payment_date, active, created_at, updated_at`

func (s *Store) ActiveContracts(ctx context.Context, user ledger.UserID) ([]*batch.LoanContract, error) {
	return activeContracts(ctx, s.db, user)
}

func activeContracts(ctx context.Context, q queryer, user ledger.UserID) ([]*batch.LoanContract, error) {
	query := "SELECT " + contractColumns + " FROM loan_contracts WHERE active = 1"
	var args []any
	if user != "" {
		query += " AND user_id = ?"
		args = append(args, user)
	}
	query += " ORDER BY id ASC"
	return queryContracts(ctx, q, query, args...)
}

func (s *Store) GetContract(ctx context.Context, id string) (*batch.LoanContract, error) {
	return getContract(ctx, s.db, id)
}

func getContract(ctx context.Context, q queryer, id string) (*batch.LoanContract, error) {
	cs, err := queryContracts(ctx, q,
		"SELECT "+contractColumns+" FROM loan_contracts WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, ledger.ErrRecipeNotFound
	}
	return cs[0], nil
}

func (s *Store) SaveContract(ctx context.Context, c *batch.LoanContract) error {
	return saveContract(ctx, s.db, c)
}

func saveContract(ctx context.Context, q queryer, c *batch.LoanContract) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loan_contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			liability_account_id = excluded.liability_account_id,
			payment_account_id = excluded.payment_account_id,
			currency = excluded.currency,
			principal = excluded.principal,
			annual_rate = excluded.annual_rate,
			total_periods = excluded.total_periods,
			repayment_type = excluded.repayment_type,
			payment_day = excluded.payment_day,
			start_date = excluded.start_date,
			payment_description = excluded.payment_description,
			current_period = excluded.current_period,
			next_payment_date = excluded.next_payment_date,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		c.ID, c.UserID, c.Name, c.LiabilityAccountID, nullString(string(c.PaymentAccountID)),
		c.Currency, c.Principal.String(), c.AnnualRate.String(), c.TotalPeriods, c.Repayment,
		c.PaymentDay, c.StartDate.String(), c.PaymentDescription,
		c.CurrentPeriod, nullDate(c.NextPaymentDate), boolInt(c.Active),
		c.CreatedAt.UTC().Format(time.RFC3339Nano), c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save loan contract: %w", err)
	}
	return nil
}

func queryContracts(ctx context.Context, q queryer, query string, args ...any) ([]*batch.LoanContract, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan contracts: %w", err)
	}
	defer rows.Close()

	var out []*batch.LoanContract
	for rows.Next() {
		var (
			c                                    batch.LoanContract
			principal, rate, startDate           string
			createdAt, updatedAt                 string
			paymentAccount, description, nextPay sql.NullString
			active                               int
		)
		err := rows.Scan(
			&c.ID, &c.UserID, &c.Name, &c.LiabilityAccountID, &paymentAccount, &c.Currency,
			&principal, &rate, &c.TotalPeriods, &c.Repayment, &c.PaymentDay, &startDate,
			&description, &c.CurrentPeriod, &nextPay, &active, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan contract: %w", err)
		}

		c.PaymentAccountID = ledger.AccountID(paymentAccount.String)
		c.Principal = parseDecimal(principal)
		c.AnnualRate = parseDecimal(rate)
		c.StartDate, _ = ledger.ParseDate(startDate)
		c.PaymentDescription = description.String
		if nextPay.Valid && nextPay.String != "" {
			c.NextPaymentDate, _ = ledger.ParseDate(nextPay.String)
		}
		c.Active = active != 0
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// =============================================================================
// LOAN PAYMENTS
// =============================================================================

const paymentColumns = `id, contract_id, user_id, period, payment_date, principal, interest,
	total, remaining_balance, status, principal_tx_id, interest_tx_id, balance_tx_id,
	created_at, updated_at`

func (s *Store) DuePayments(ctx context.Context, contractID string, horizon ledger.Date) ([]*batch.LoanPayment, error) {
	return duePayments(ctx, s.db, contractID, horizon)
}

func duePayments(ctx context.Context, q queryer, contractID string, horizon ledger.Date) ([]*batch.LoanPayment, error) {
	return queryPayments(ctx, q, `
		SELECT `+paymentColumns+` FROM loan_payments
		WHERE contract_id = ? AND status = ? AND payment_date <= ?
		ORDER BY period ASC`, contractID, batch.PaymentPending, horizon.String())
}

func (s *Store) PaymentsByContract(ctx context.Context, contractID string) ([]*batch.LoanPayment, error) {
	return paymentsByContract(ctx, s.db, contractID)
}

func paymentsByContract(ctx context.Context, q queryer, contractID string) ([]*batch.LoanPayment, error) {
	return queryPayments(ctx, q, `
		SELECT `+paymentColumns+` FROM loan_payments
		WHERE contract_id = ? ORDER BY period ASC`, contractID)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*batch.LoanPayment, error) {
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q queryer, id string) (*batch.LoanPayment, error) {
	ps, err := queryPayments(ctx, q,
		"SELECT "+paymentColumns+" FROM loan_payments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, ledger.ErrRecipeNotFound
	}
	return ps[0], nil
}

func (s *Store) SavePayment(ctx context.Context, p *batch.LoanPayment) error {
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q queryer, p *batch.LoanPayment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loan_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payment_date = excluded.payment_date,
			principal = excluded.principal,
			interest = excluded.interest,
			total = excluded.total,
			remaining_balance = excluded.remaining_balance,
			status = excluded.status,
			principal_tx_id = excluded.principal_tx_id,
			interest_tx_id = excluded.interest_tx_id,
			balance_tx_id = excluded.balance_tx_id,
			updated_at = excluded.updated_at`,
		p.ID, p.ContractID, p.UserID, p.Period, p.PaymentDate.String(),
		p.Principal.String(), p.Interest.String(), p.Total.String(), p.RemainingBalance.String(),
		p.Status, nullString(string(p.PrincipalTxID)), nullString(string(p.InterestTxID)),
		nullString(string(p.BalanceTxID)),
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save loan payment: %w", err)
	}
	return nil
}

func (s *Store) InsertPayments(ctx context.Context, ps []*batch.LoanPayment) error {
	return insertPayments(ctx, s.db, ps)
}

func insertPayments(ctx context.Context, q queryer, ps []*batch.LoanPayment) error {
	for _, p := range ps {
		if err := savePayment(ctx, q, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeletePendingPayments(ctx context.Context, contractID string, fromPeriod int) error {
	return deletePendingPayments(ctx, s.db, contractID, fromPeriod)
}

func deletePendingPayments(ctx context.Context, q queryer, contractID string, fromPeriod int) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM loan_payments
		WHERE contract_id = ? AND status = ? AND period > ?`,
		contractID, batch.PaymentPending, fromPeriod)
	if err != nil {
		return fmt.Errorf("failed to delete pending payments: %w", err)
	}
	return nil
}

func queryPayments(ctx context.Context, q queryer, query string, args ...any) ([]*batch.LoanPayment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan payments: %w", err)
	}
	defer rows.Close()

	var out []*batch.LoanPayment
	for rows.Next() {
		var (
			p                                      batch.LoanPayment
			paymentDate, principal, interest       string
			total, remaining, createdAt, updatedAt string
			principalTx, interestTx, balanceTx     sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.ContractID, &p.UserID, &p.Period, &paymentDate,
			&principal, &interest, &total, &remaining, &p.Status,
			&principalTx, &interestTx, &balanceTx, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan payment: %w", err)
		}

		p.PaymentDate, _ = ledger.ParseDate(paymentDate)
		p.Principal = parseDecimal(principal)
		p.Interest = parseDecimal(interest)
		p.Total = parseDecimal(total)
		p.RemainingBalance = parseDecimal(remaining)
		p.PrincipalTxID = ledger.TransactionID(principalTx.String)
		p.InterestTxID = ledger.TransactionID(interestTx.String)
		p.BalanceTxID = ledger.TransactionID(balanceTx.String)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// SYNC RUNS
// =============================================================================

func (s *Store) SaveSyncRun(ctx context.Context, run batch.SyncRun) error {
	return saveSyncRun(ctx, s.db, run)
}

func saveSyncRun(ctx context.Context, q queryer, run batch.SyncRun) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_runs (id, user_id, kind, status, processed, skipped, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			skipped = excluded.skipped,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.UserID, run.Kind, run.Status, run.Processed, run.Skipped,
		nullString(run.Error), run.StartedAt.UTC().Format(time.RFC3339Nano), completed,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a single database transaction. The txStore
// handed to fn routes every operation, reads included, through the open
// *sql.Tx so the engine's in-transaction re-check observes the unit's
// isolation level.
func (s *Store) WithTx(ctx context.Context, fn func(batch.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := appendTx(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) ByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return byAccount(ctx, ts.tx, accountID)
}

func (ts *txStore) ByAccountRange(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.Transaction, error) {
	return byAccountRange(ctx, ts.tx, accountID, from, to)
}

func (ts *txStore) Exists(ctx context.Context, key string) (bool, error) {
	return existsKey(ctx, ts.tx, key)
}

func (ts *txStore) Delete(ctx context.Context, ids []ledger.TransactionID) error {
	return deleteTxs(ctx, ts.tx, ids)
}

func (ts *txStore) DueRecurring(ctx context.Context, user ledger.UserID, horizon ledger.Date) ([]*batch.RecurringTransaction, error) {
	return dueRecurring(ctx, ts.tx, user, horizon)
}

func (ts *txStore) GetRecurring(ctx context.Context, id string) (*batch.RecurringTransaction, error) {
	return getRecurring(ctx, ts.tx, id)
}

func (ts *txStore) SaveRecurring(ctx context.Context, rt *batch.RecurringTransaction) error {
	return saveRecurring(ctx, ts.tx, rt)
}

func (ts *txStore) ActiveContracts(ctx context.Context, user ledger.UserID) ([]*batch.LoanContract, error) {
	return activeContracts(ctx, ts.tx, user)
}

func (ts *txStore) GetContract(ctx context.Context, id string) (*batch.LoanContract, error) {
	return getContract(ctx, ts.tx, id)
}

func (ts *txStore) SaveContract(ctx context.Context, c *batch.LoanContract) error {
	return saveContract(ctx, ts.tx, c)
}

func (ts *txStore) DuePayments(ctx context.Context, contractID string, horizon ledger.Date) ([]*batch.LoanPayment, error) {
	return duePayments(ctx, ts.tx, contractID, horizon)
}

func (ts *txStore) PaymentsByContract(ctx context.Context, contractID string) ([]*batch.LoanPayment, error) {
	return paymentsByContract(ctx, ts.tx, contractID)
}

func (ts *txStore) GetPayment(ctx context.Context, id string) (*batch.LoanPayment, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) SavePayment(ctx context.Context, p *batch.LoanPayment) error {
	return savePayment(ctx, ts.tx, p)
}

func (ts *txStore) InsertPayments(ctx context.Context, ps []*batch.LoanPayment) error {
	return insertPayments(ctx, ts.tx, ps)
}

func (ts *txStore) DeletePendingPayments(ctx context.Context, contractID string, fromPeriod int) error {
	return deletePendingPayments(ctx, ts.tx, contractID, fromPeriod)
}

func (ts *txStore) SaveSyncRun(ctx context.Context, run batch.SyncRun) error {
	return saveSyncRun(ctx, ts.tx, run)
}

func (ts *txStore) WithTx(ctx context.Context, fn func(batch.Store) error) error {
	// Nested units join the enclosing transaction.
	return fn(ts)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(d ledger.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullDatePtr(d *ledger.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullWeekdayPtr(v *time.Weekday) any {
	if v == nil {
		return nil
	}
	return int(*v)
}

func nullMonthPtr(v *time.Month) any {
	if v == nil {
		return nil
	}
	return int(*v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
