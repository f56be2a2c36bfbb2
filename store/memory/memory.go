// Package memory provides an in-memory batch.Store for tests and dev.
// Transactions simulate atomicity with a snapshot taken at WithTx entry and
// restored on error; the store mutex is held for the whole unit of work, so
// units serialize exactly like database transactions against a single row set.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/ledger"
)

type Memory struct {
	mu sync.RWMutex

	txs         map[ledger.AccountID][]ledger.Transaction
	txAccount   map[ledger.TransactionID]ledger.AccountID
	idempotency map[string]bool

	recurring map[string]batch.RecurringTransaction
	contracts map[string]batch.LoanContract
	payments  map[string]batch.LoanPayment
	syncRuns  []batch.SyncRun
}

func New() *Memory {
	return &Memory{
		txs:         make(map[ledger.AccountID][]ledger.Transaction),
		txAccount:   make(map[ledger.TransactionID]ledger.AccountID),
		idempotency: make(map[string]bool),
		recurring:   make(map[string]batch.RecurringTransaction),
		contracts:   make(map[string]batch.LoanContract),
		payments:    make(map[string]batch.LoanPayment),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range txs {
		if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	rows := m.txs[tx.AccountID]
	// Keep rows ordered by date, then modification time.
	i := sort.Search(len(rows), func(i int) bool {
		if !rows[i].Date.Equal(tx.Date) {
			return rows[i].Date.After(tx.Date)
		}
		return rows[i].UpdatedAt.After(tx.UpdatedAt)
	})
	rows = append(rows, ledger.Transaction{})
	copy(rows[i+1:], rows[i:])
	rows[i] = tx
	m.txs[tx.AccountID] = rows

	m.txAccount[tx.ID] = tx.AccountID
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) ByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byAccountLocked(accountID), nil
}

func (m *Memory) byAccountLocked(accountID ledger.AccountID) []ledger.Transaction {
	out := make([]ledger.Transaction, len(m.txs[accountID]))
	copy(out, m.txs[accountID])
	return out
}

func (m *Memory) ByAccountRange(_ context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byAccountRangeLocked(accountID, from, to), nil
}

func (m *Memory) byAccountRangeLocked(accountID ledger.AccountID, from, to ledger.Date) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range m.txs[accountID] {
		if from.BeforeOrEqual(tx.Date) && tx.Date.BeforeOrEqual(to) {
			out = append(out, tx)
		}
	}
	return out
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

func (m *Memory) Delete(_ context.Context, ids []ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ids)
}

func (m *Memory) deleteLocked(ids []ledger.TransactionID) error {
	for _, id := range ids {
		accountID, ok := m.txAccount[id]
		if !ok {
			continue
		}
		rows := m.txs[accountID]
		for i, tx := range rows {
			if tx.ID != id {
				continue
			}
			if tx.IdempotencyKey != "" {
				delete(m.idempotency, tx.IdempotencyKey)
			}
			m.txs[accountID] = append(rows[:i], rows[i+1:]...)
			break
		}
		delete(m.txAccount, id)
	}
	return nil
}

// =============================================================================
// RECURRING TRANSACTIONS
// =============================================================================

func (m *Memory) DueRecurring(_ context.Context, user ledger.UserID, horizon ledger.Date) ([]*batch.RecurringTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dueRecurringLocked(user, horizon), nil
}

func (m *Memory) dueRecurringLocked(user ledger.UserID, horizon ledger.Date) []*batch.RecurringTransaction {
	var out []*batch.RecurringTransaction
	for _, rt := range m.recurring {
		if !rt.Active || (user != "" && rt.UserID != user) {
			continue
		}
		if rt.NextDate.BeforeOrEqual(horizon) {
			cp := rt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetRecurring(_ context.Context, id string) (*batch.RecurringTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.recurring[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := rt
	return &cp, nil
}

func (m *Memory) SaveRecurring(_ context.Context, rt *batch.RecurringTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recurring[rt.ID] = *rt
	return nil
}

// =============================================================================
// LOAN CONTRACTS & PAYMENTS
// =============================================================================

func (m *Memory) ActiveContracts(_ context.Context, user ledger.UserID) ([]*batch.LoanContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeContractsLocked(user), nil
}

func (m *Memory) activeContractsLocked(user ledger.UserID) []*batch.LoanContract {
	var out []*batch.LoanContract
	for _, c := range m.contracts {
		if !c.Active || (user != "" && c.UserID != user) {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetContract(_ context.Context, id string) (*batch.LoanContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := c
	return &cp, nil
}

func (m *Memory) SaveContract(_ context.Context, c *batch.LoanContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = *c
	return nil
}

func (m *Memory) DuePayments(_ context.Context, contractID string, horizon ledger.Date) ([]*batch.LoanPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duePaymentsLocked(contractID, horizon), nil
}

func (m *Memory) duePaymentsLocked(contractID string, horizon ledger.Date) []*batch.LoanPayment {
	var out []*batch.LoanPayment
	for _, p := range m.payments {
		if p.ContractID != contractID || p.Status != batch.PaymentPending {
			continue
		}
		if p.PaymentDate.BeforeOrEqual(horizon) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func (m *Memory) PaymentsByContract(_ context.Context, contractID string) ([]*batch.LoanPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsByContractLocked(contractID), nil
}

func (m *Memory) paymentsByContractLocked(contractID string) []*batch.LoanPayment {
	var out []*batch.LoanPayment
	for _, p := range m.payments {
		if p.ContractID == contractID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func (m *Memory) GetPayment(_ context.Context, id string) (*batch.LoanPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := p
	return &cp, nil
}

func (m *Memory) SavePayment(_ context.Context, p *batch.LoanPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = *p
	return nil
}

func (m *Memory) InsertPayments(_ context.Context, ps []*batch.LoanPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		m.payments[p.ID] = *p
	}
	return nil
}

func (m *Memory) DeletePendingPayments(_ context.Context, contractID string, fromPeriod int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.payments {
		if p.ContractID == contractID && p.Status == batch.PaymentPending && p.Period > fromPeriod {
			delete(m.payments, id)
		}
	}
	return nil
}

// =============================================================================
// SYNC RUNS
// =============================================================================

func (m *Memory) SaveSyncRun(_ context.Context, run batch.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.syncRuns {
		if existing.ID == run.ID {
			m.syncRuns[i] = run
			return nil
		}
	}
	m.syncRuns = append(m.syncRuns, run)
	return nil
}

// SyncRuns returns all recorded runs (test helper).
func (m *Memory) SyncRuns() []batch.SyncRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]batch.SyncRun, len(m.syncRuns))
	copy(out, m.syncRuns)
	return out
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback under the store mutex
// =============================================================================

// WithTx executes fn against a transactional view. The mutex is held for
// the whole unit of work; on error the pre-transaction snapshot is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(batch.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{m: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	txs         map[ledger.AccountID][]ledger.Transaction
	txAccount   map[ledger.TransactionID]ledger.AccountID
	idempotency map[string]bool
	recurring   map[string]batch.RecurringTransaction
	contracts   map[string]batch.LoanContract
	payments    map[string]batch.LoanPayment
	syncRuns    []batch.SyncRun
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		txs:         make(map[ledger.AccountID][]ledger.Transaction, len(m.txs)),
		txAccount:   make(map[ledger.TransactionID]ledger.AccountID, len(m.txAccount)),
		idempotency: make(map[string]bool, len(m.idempotency)),
		recurring:   make(map[string]batch.RecurringTransaction, len(m.recurring)),
		contracts:   make(map[string]batch.LoanContract, len(m.contracts)),
		payments:    make(map[string]batch.LoanPayment, len(m.payments)),
		syncRuns:    append([]batch.SyncRun{}, m.syncRuns...),
	}
	for k, v := range m.txs {
		s.txs[k] = append([]ledger.Transaction{}, v...)
	}
	for k, v := range m.txAccount {
		s.txAccount[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.recurring {
		s.recurring[k] = v
	}
	for k, v := range m.contracts {
		s.contracts[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.txs = s.txs
	m.txAccount = s.txAccount
	m.idempotency = s.idempotency
	m.recurring = s.recurring
	m.contracts = s.contracts
	m.payments = s.payments
	m.syncRuns = s.syncRuns
}

// txView reuses the parent's locked helpers; the parent mutex is already
// held for the duration of WithTx.
type txView struct {
	m *Memory
}

func (v *txView) Append(_ context.Context, tx ledger.Transaction) error {
	return v.m.appendLocked(tx)
}

func (v *txView) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := v.m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (v *txView) ByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return v.m.byAccountLocked(accountID), nil
}

func (v *txView) ByAccountRange(_ context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.Transaction, error) {
	return v.m.byAccountRangeLocked(accountID, from, to), nil
}

func (v *txView) Exists(_ context.Context, key string) (bool, error) {
	return v.m.idempotency[key], nil
}

func (v *txView) Delete(_ context.Context, ids []ledger.TransactionID) error {
	return v.m.deleteLocked(ids)
}

func (v *txView) DueRecurring(_ context.Context, user ledger.UserID, horizon ledger.Date) ([]*batch.RecurringTransaction, error) {
	return v.m.dueRecurringLocked(user, horizon), nil
}

func (v *txView) GetRecurring(_ context.Context, id string) (*batch.RecurringTransaction, error) {
	rt, ok := v.m.recurring[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := rt
	return &cp, nil
}

func (v *txView) SaveRecurring(_ context.Context, rt *batch.RecurringTransaction) error {
	v.m.recurring[rt.ID] = *rt
	return nil
}

func (v *txView) ActiveContracts(_ context.Context, user ledger.UserID) ([]*batch.LoanContract, error) {
	return v.m.activeContractsLocked(user), nil
}

func (v *txView) GetContract(_ context.Context, id string) (*batch.LoanContract, error) {
	c, ok := v.m.contracts[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := c
	return &cp, nil
}

func (v *txView) SaveContract(_ context.Context, c *batch.LoanContract) error {
	v.m.contracts[c.ID] = *c
	return nil
}

func (v *txView) DuePayments(_ context.Context, contractID string, horizon ledger.Date) ([]*batch.LoanPayment, error) {
	return v.m.duePaymentsLocked(contractID, horizon), nil
}

func (v *txView) PaymentsByContract(_ context.Context, contractID string) ([]*batch.LoanPayment, error) {
	return v.m.paymentsByContractLocked(contractID), nil
}

func (v *txView) GetPayment(_ context.Context, id string) (*batch.LoanPayment, error) {
	p, ok := v.m.payments[id]
	if !ok {
		return nil, ledger.ErrRecipeNotFound
	}
	cp := p
	return &cp, nil
}

func (v *txView) SavePayment(_ context.Context, p *batch.LoanPayment) error {
	v.m.payments[p.ID] = *p
	return nil
}

func (v *txView) InsertPayments(_ context.Context, ps []*batch.LoanPayment) error {
	for _, p := range ps {
		v.m.payments[p.ID] = *p
	}
	return nil
}

func (v *txView) DeletePendingPayments(_ context.Context, contractID string, fromPeriod int) error {
	for id, p := range v.m.payments {
		if p.ContractID == contractID && p.Status == batch.PaymentPending && p.Period > fromPeriod {
			delete(v.m.payments, id)
		}
	}
	return nil
}

func (v *txView) SaveSyncRun(_ context.Context, run batch.SyncRun) error {
	for i, existing := range v.m.syncRuns {
		if existing.ID == run.ID {
			v.m.syncRuns[i] = run
			return nil
		}
	}
	v.m.syncRuns = append(v.m.syncRuns, run)
	return nil
}

func (v *txView) WithTx(ctx context.Context, fn func(batch.Store) error) error {
	// Nested units join the enclosing one.
	return fn(v)
}
