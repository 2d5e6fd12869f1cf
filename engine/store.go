/*
store.go - Collaborator interfaces

PURPOSE:

	The engine has no I/O. Everything it reads (bills, billing config, credit)
	and everything its results are written to (bill deltas, credit deltas,
	payment transactions) lives behind these interfaces, implemented by the
	caller's storage layer.

KEY INTERFACES:

	BillStore:     Outstanding bills per unit/module, bill amount updates
	ConfigStore:   Billing config per client/module
	CreditStore:   Credit balance with atomic signed adjustments
	PaymentLedger: Append-only payment transactions with allocations
	TxStore:       All of the above inside one atomic unit of work

ATOMICITY:

	Recording a payment reads bills and credit, runs the engine, and writes the
	results. Two concurrent payments for one unit must not both read the same
	pre-payment state, so the whole sequence runs inside TxStore.WithTx.

	Credit is shared by every module of a unit, so AdjustCredit must apply the
	delta as an increment in the store (balance = balance + delta), never as a
	write of a balance computed by the application.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for tests
*/
package engine

import (
	"context"
	"time"
)

// PaymentTransaction is the persisted record of one recorded payment.
type PaymentTransaction struct {
	ID             string
	ClientID       ClientID
	UnitID         UnitID
	Module         ModuleKind
	Amount         Money
	PaymentDate    Date
	Method         string
	Reference      string
	IdempotencyKey string
	Allocations    []Allocation
	CreditBefore   Money
	CreditAfter    Money
	CreatedBy      string
	CreatedAt      time.Time
}

type BillStore interface {
	// OutstandingBills returns unpaid and partial bills, in any order.
	OutstandingBills(ctx context.Context, unitID UnitID, module ModuleKind) ([]Bill, error)

	// SaveBills inserts or updates bills by id.
	SaveBills(ctx context.Context, bills []Bill) error

	// UnitsWithOutstanding lists units of a client that have open bills in a module.
	UnitsWithOutstanding(ctx context.Context, clientID ClientID, module ModuleKind) ([]UnitID, error)
}

type ConfigStore interface {
	BillingConfig(ctx context.Context, clientID ClientID, module ModuleKind) (BillingConfig, error)
	SaveBillingConfig(ctx context.Context, cfg BillingConfig) error
}

type CreditStore interface {
	CreditBalance(ctx context.Context, unitID UnitID) (Money, error)

	// AdjustCredit atomically adds entry.Delta and returns the new balance.
	// Returns ErrNegativeCredit without writing if the result would be negative.
	AdjustCredit(ctx context.Context, unitID UnitID, entry CreditEntry) (Money, error)

	CreditHistory(ctx context.Context, unitID UnitID) ([]CreditEntry, error)
}

type PaymentLedger interface {
	// AppendPayment records a payment. Returns ErrDuplicatePayment if the
	// idempotency key exists. There is no update or delete.
	AppendPayment(ctx context.Context, tx PaymentTransaction) error

	Payments(ctx context.Context, unitID UnitID) ([]PaymentTransaction, error)

	PaymentExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Store is everything the payment workflow needs.
type Store interface {
	BillStore
	ConfigStore
	CreditStore
	PaymentLedger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
