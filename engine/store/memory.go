// Package store provides in-memory engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/dues-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	bills       map[engine.BillID]engine.Bill
	configs     map[configKey]engine.BillingConfig
	credit      map[engine.UnitID]engine.CreditBalance
	payments    map[engine.UnitID][]engine.PaymentTransaction
	idempotency map[string]bool
}

type configKey struct {
	ClientID engine.ClientID
	Module   engine.ModuleKind
}

func NewMemory() *Memory {
	return &Memory{
		bills:       make(map[engine.BillID]engine.Bill),
		configs:     make(map[configKey]engine.BillingConfig),
		credit:      make(map[engine.UnitID]engine.CreditBalance),
		payments:    make(map[engine.UnitID][]engine.PaymentTransaction),
		idempotency: make(map[string]bool),
	}
}

// -----------------------------------------------------------------------------
// BillStore
// -----------------------------------------------------------------------------

func (m *Memory) OutstandingBills(_ context.Context, unitID engine.UnitID, module engine.ModuleKind) ([]engine.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outstandingLocked(unitID, module), nil
}

func (m *Memory) outstandingLocked(unitID engine.UnitID, module engine.ModuleKind) []engine.Bill {
	var out []engine.Bill
	for _, b := range m.bills {
		if b.UnitID == unitID && b.Module == module && b.Status() != engine.StatusPaid {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) SaveBills(_ context.Context, bills []engine.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBillsLocked(bills)
}

func (m *Memory) saveBillsLocked(bills []engine.Bill) error {
	for _, b := range bills {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	for _, b := range bills {
		m.bills[b.ID] = b
	}
	return nil
}

func (m *Memory) UnitsWithOutstanding(_ context.Context, clientID engine.ClientID, module engine.ModuleKind) ([]engine.UnitID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unitsLocked(clientID, module), nil
}

func (m *Memory) unitsLocked(clientID engine.ClientID, module engine.ModuleKind) []engine.UnitID {
	seen := make(map[engine.UnitID]bool)
	var out []engine.UnitID
	for _, b := range m.bills {
		if b.ClientID == clientID && b.Module == module && b.Status() != engine.StatusPaid && !seen[b.UnitID] {
			seen[b.UnitID] = true
			out = append(out, b.UnitID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bill returns a bill by id (test helper).
func (m *Memory) Bill(id engine.BillID) (engine.Bill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[id]
	return b, ok
}

// -----------------------------------------------------------------------------
// ConfigStore
// -----------------------------------------------------------------------------

func (m *Memory) BillingConfig(_ context.Context, clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configLocked(clientID, module)
}

func (m *Memory) configLocked(clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	cfg, ok := m.configs[configKey{ClientID: clientID, Module: module}]
	if !ok {
		return engine.BillingConfig{}, engine.ErrConfigNotFound
	}
	return cfg, nil
}

func (m *Memory) SaveBillingConfig(_ context.Context, cfg engine.BillingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[configKey{ClientID: cfg.ClientID, Module: cfg.Module}] = cfg
	return nil
}

// -----------------------------------------------------------------------------
// CreditStore
// -----------------------------------------------------------------------------

func (m *Memory) CreditBalance(_ context.Context, unitID engine.UnitID) (engine.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credit[unitID].Balance, nil
}

func (m *Memory) AdjustCredit(_ context.Context, unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(unitID, entry)
}

func (m *Memory) adjustLocked(unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	cur := m.credit[unitID]
	cur.UnitID = unitID
	next, err := cur.Apply(entry)
	if err != nil {
		return cur.Balance, err
	}
	m.credit[unitID] = next
	return next.Balance, nil
}

func (m *Memory) CreditHistory(_ context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.credit[unitID].History
	out := make([]engine.CreditEntry, len(h))
	copy(out, h)
	return out, nil
}

// -----------------------------------------------------------------------------
// PaymentLedger
// -----------------------------------------------------------------------------

// AppendPayment records a payment. Append-only.
func (m *Memory) AppendPayment(_ context.Context, tx engine.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx engine.PaymentTransaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return engine.ErrDuplicatePayment
		}
		m.idempotency[tx.IdempotencyKey] = true
	}
	m.payments[tx.UnitID] = append(m.payments[tx.UnitID], tx)
	return nil
}

func (m *Memory) Payments(_ context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.PaymentTransaction, len(m.payments[unitID]))
	copy(out, m.payments[unitID])
	return out, nil
}

func (m *Memory) PaymentExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := NewMemory()
	m.bills = fresh.bills
	m.configs = fresh.configs
	m.credit = fresh.credit
	m.payments = fresh.payments
	m.idempotency = fresh.idempotency
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, which serializes concurrent
// payments the way a database transaction would.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bills       map[engine.BillID]engine.Bill
	configs     map[configKey]engine.BillingConfig
	credit      map[engine.UnitID]engine.CreditBalance
	payments    map[engine.UnitID][]engine.PaymentTransaction
	idempotency map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		bills:       make(map[engine.BillID]engine.Bill, len(tm.bills)),
		configs:     make(map[configKey]engine.BillingConfig, len(tm.configs)),
		credit:      make(map[engine.UnitID]engine.CreditBalance, len(tm.credit)),
		payments:    make(map[engine.UnitID][]engine.PaymentTransaction, len(tm.payments)),
		idempotency: make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.bills {
		s.bills[k] = v
	}
	for k, v := range tm.configs {
		s.configs[k] = v
	}
	for k, v := range tm.credit {
		s.credit[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]engine.PaymentTransaction{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.bills = s.bills
	tm.configs = s.configs
	tm.credit = s.credit
	tm.payments = s.payments
	tm.idempotency = s.idempotency
}

// txMemoryView operates on the parent without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) OutstandingBills(_ context.Context, unitID engine.UnitID, module engine.ModuleKind) ([]engine.Bill, error) {
	return tv.parent.outstandingLocked(unitID, module), nil
}

func (tv *txMemoryView) SaveBills(_ context.Context, bills []engine.Bill) error {
	return tv.parent.saveBillsLocked(bills)
}

func (tv *txMemoryView) UnitsWithOutstanding(_ context.Context, clientID engine.ClientID, module engine.ModuleKind) ([]engine.UnitID, error) {
	return tv.parent.unitsLocked(clientID, module), nil
}

func (tv *txMemoryView) BillingConfig(_ context.Context, clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	return tv.parent.configLocked(clientID, module)
}

func (tv *txMemoryView) SaveBillingConfig(_ context.Context, cfg engine.BillingConfig) error {
	tv.parent.configs[configKey{ClientID: cfg.ClientID, Module: cfg.Module}] = cfg
	return nil
}

func (tv *txMemoryView) CreditBalance(_ context.Context, unitID engine.UnitID) (engine.Money, error) {
	return tv.parent.credit[unitID].Balance, nil
}

func (tv *txMemoryView) AdjustCredit(_ context.Context, unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	return tv.parent.adjustLocked(unitID, entry)
}

func (tv *txMemoryView) CreditHistory(_ context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	return append([]engine.CreditEntry{}, tv.parent.credit[unitID].History...), nil
}

func (tv *txMemoryView) AppendPayment(_ context.Context, tx engine.PaymentTransaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) Payments(_ context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	return append([]engine.PaymentTransaction{}, tv.parent.payments[unitID]...), nil
}

func (tv *txMemoryView) PaymentExists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
