/*
Package sqlite provides a SQLite-backed implementation of the engine's
collaborator interfaces.

PURPOSE:

	Implements engine.Store and engine.TxStore using SQLite. In production, the
	same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:

	engine.BillStore:     Bills and their paid/penalty amounts
	engine.ConfigStore:   Billing config per client/module
	engine.CreditStore:   Credit balance + append-only history
	engine.PaymentLedger: Payment transactions and their allocations
	engine.TxStore:       All of the above inside one database transaction

KEY TABLES:

	bills:            One row per billing period per unit (never deleted)
	billing_configs:  Penalty rate/grace and fiscal calendar per client/module
	credit_balances:  Current credit per unit, CHECK (balance >= 0)
	credit_history:   Every signed credit change (append-only)
	payments:         Recorded payments, unique idempotency key (append-only)
	allocations:      Ledger lines of each payment (append-only)

PENALTY FIELDS:

	penalty_rate and penalty_days are nullable. A NULL comes back as a nil
	pointer in engine.BillingConfig so the engine raises a ConfigurationError
	instead of silently treating it as zero.

ATOMIC CREDIT:

	AdjustCredit is an increment in SQL:
	  UPDATE credit_balances SET balance = balance + ? WHERE unit_id = ? AND balance + ? >= 0
	so two modules adjusting one unit's credit never lose an update.

CONCURRENCY:

	Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
	whole unit of work, which makes read-distribute-write for a unit atomic.
	In production with PostgreSQL, database-level concurrency control
	(SELECT ... FOR UPDATE) handles this instead.

WAL MODE:

	SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:

	store, err := sqlite.New("./data/dues.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/dues-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	conn conn
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, conn: conn{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for metrics collectors.
func (s *Store) DB() *sql.DB { return s.db }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		module TEXT NOT NULL,
		fiscal_year INTEGER NOT NULL,
		period_index INTEGER NOT NULL,
		base_charge INTEGER NOT NULL CHECK (base_charge >= 0),
		penalty_amount INTEGER NOT NULL DEFAULT 0 CHECK (penalty_amount >= 0),
		paid_base INTEGER NOT NULL DEFAULT 0 CHECK (paid_base >= 0 AND paid_base <= base_charge),
		paid_penalty INTEGER NOT NULL DEFAULT 0 CHECK (paid_penalty >= 0 AND paid_penalty <= penalty_amount),
		due_date TEXT,
		updated_at TEXT NOT NULL
	);

	-- Hot path: outstanding bills for one unit/module
	CREATE INDEX IF NOT EXISTS idx_bills_unit_module
		ON bills(unit_id, module, fiscal_year, period_index);

	-- Nightly refresh: units with open bills per client/module
	CREATE INDEX IF NOT EXISTS idx_bills_client_module
		ON bills(client_id, module);

	CREATE TABLE IF NOT EXISTS billing_configs (
		client_id TEXT NOT NULL,
		module TEXT NOT NULL,
		penalty_rate REAL,
		penalty_days INTEGER,
		billing_period TEXT NOT NULL DEFAULT 'monthly',
		fiscal_year_start_month INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (client_id, module)
	);

	CREATE TABLE IF NOT EXISTS credit_balances (
		unit_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TEXT NOT NULL
	);

	-- Credit history (append-only)
	CREATE TABLE IF NOT EXISTS credit_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		module TEXT,
		transaction_id TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_history_unit
		ON credit_history(unit_id, seq);

	-- Payments (append-only ledger)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		module TEXT NOT NULL,
		amount INTEGER NOT NULL,
		payment_date TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		idempotency_key TEXT UNIQUE,
		credit_before INTEGER NOT NULL,
		credit_after INTEGER NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_unit
		ON payments(unit_id, created_at);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		target_bill_id TEXT,
		unit_id TEXT NOT NULL,
		module TEXT NOT NULL,
		amount INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment
		ON allocations(payment_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE (engine.Store interface)
// =============================================================================

func (s *Store) OutstandingBills(ctx context.Context, unitID engine.UnitID, module engine.ModuleKind) ([]engine.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.outstandingBills(ctx, unitID, module)
}

func (s *Store) SaveBills(ctx context.Context, bills []engine.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(c conn) error { return c.saveBills(ctx, bills) })
}

func (s *Store) UnitsWithOutstanding(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) ([]engine.UnitID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.unitsWithOutstanding(ctx, clientID, module)
}

func (s *Store) BillingConfig(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.billingConfig(ctx, clientID, module)
}

func (s *Store) SaveBillingConfig(ctx context.Context, cfg engine.BillingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.saveBillingConfig(ctx, cfg)
}

func (s *Store) CreditBalance(ctx context.Context, unitID engine.UnitID) (engine.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.creditBalance(ctx, unitID)
}

func (s *Store) AdjustCredit(ctx context.Context, unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bal engine.Money
	err := s.inTx(ctx, func(c conn) error {
		var err error
		bal, err = c.adjustCredit(ctx, unitID, entry)
		return err
	})
	return bal, err
}

func (s *Store) CreditHistory(ctx context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.creditHistory(ctx, unitID)
}

func (s *Store) AppendPayment(ctx context.Context, tx engine.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(c conn) error { return c.appendPayment(ctx, tx) })
}

func (s *Store) Payments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.payments(ctx, unitID)
}

func (s *Store) PaymentExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.paymentExists(ctx, idempotencyKey)
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(c conn) error {
		return fn(&txStore{c: c})
	})
}

// inTx runs fn on a fresh database transaction. Callers hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(conn) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the engine.Store view handed to WithTx callbacks. Every read and
// write goes through the open transaction.
type txStore struct {
	c conn
}

func (ts *txStore) OutstandingBills(ctx context.Context, unitID engine.UnitID, module engine.ModuleKind) ([]engine.Bill, error) {
	return ts.c.outstandingBills(ctx, unitID, module)
}

func (ts *txStore) SaveBills(ctx context.Context, bills []engine.Bill) error {
	return ts.c.saveBills(ctx, bills)
}

func (ts *txStore) UnitsWithOutstanding(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) ([]engine.UnitID, error) {
	return ts.c.unitsWithOutstanding(ctx, clientID, module)
}

func (ts *txStore) BillingConfig(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	return ts.c.billingConfig(ctx, clientID, module)
}

func (ts *txStore) SaveBillingConfig(ctx context.Context, cfg engine.BillingConfig) error {
	return ts.c.saveBillingConfig(ctx, cfg)
}

func (ts *txStore) CreditBalance(ctx context.Context, unitID engine.UnitID) (engine.Money, error) {
	return ts.c.creditBalance(ctx, unitID)
}

func (ts *txStore) AdjustCredit(ctx context.Context, unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	return ts.c.adjustCredit(ctx, unitID, entry)
}

func (ts *txStore) CreditHistory(ctx context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	return ts.c.creditHistory(ctx, unitID)
}

func (ts *txStore) AppendPayment(ctx context.Context, tx engine.PaymentTransaction) error {
	return ts.c.appendPayment(ctx, tx)
}

func (ts *txStore) Payments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	return ts.c.payments(ctx, unitID)
}

func (ts *txStore) PaymentExists(ctx context.Context, idempotencyKey string) (bool, error) {
	return ts.c.paymentExists(ctx, idempotencyKey)
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

type conn struct {
	q querier
}

const billColumns = `id, client_id, unit_id, module, fiscal_year, period_index,
	base_charge, penalty_amount, paid_base, paid_penalty, due_date`

func (c conn) outstandingBills(ctx context.Context, unitID engine.UnitID, module engine.ModuleKind) ([]engine.Bill, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE unit_id = ? AND module = ?
		  AND (paid_base < base_charge OR paid_penalty < penalty_amount)
		ORDER BY fiscal_year ASC, period_index ASC, id ASC
	`, unitID, module)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []engine.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func scanBill(rows *sql.Rows) (engine.Bill, error) {
	var (
		b       engine.Bill
		dueDate sql.NullString
	)
	err := rows.Scan(
		&b.ID, &b.ClientID, &b.UnitID, &b.Module, &b.Period.FiscalYear, &b.Period.Index,
		&b.BaseCharge, &b.PenaltyAmount, &b.PaidBase, &b.PaidPenalty, &dueDate,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan bill: %w", err)
	}
	if dueDate.Valid && dueDate.String != "" {
		d, err := engine.ParseDate(dueDate.String)
		if err != nil {
			return b, fmt.Errorf("bill %s: %w", b.ID, err)
		}
		b.DueDate = d
	}
	return b, nil
}

func (c conn) saveBills(ctx context.Context, bills []engine.Bill) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, b := range bills {
		if err := b.Validate(); err != nil {
			return err
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO bills (`+billColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				base_charge = excluded.base_charge,
				penalty_amount = excluded.penalty_amount,
				paid_base = excluded.paid_base,
				paid_penalty = excluded.paid_penalty,
				due_date = excluded.due_date,
				updated_at = excluded.updated_at
		`,
			b.ID, b.ClientID, b.UnitID, b.Module, b.Period.FiscalYear, b.Period.Index,
			b.BaseCharge, b.PenaltyAmount, b.PaidBase, b.PaidPenalty,
			nullString(b.DueDate.String()), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save bill %s: %w", b.ID, err)
		}
	}
	return nil
}

func (c conn) unitsWithOutstanding(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) ([]engine.UnitID, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT DISTINCT unit_id
		FROM bills
		WHERE client_id = ? AND module = ?
		  AND (paid_base < base_charge OR paid_penalty < penalty_amount)
		ORDER BY unit_id
	`, clientID, module)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []engine.UnitID
	for rows.Next() {
		var u engine.UnitID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (c conn) billingConfig(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind) (engine.BillingConfig, error) {
	var (
		cfg  = engine.BillingConfig{ClientID: clientID, Module: module}
		rate sql.NullFloat64
		days sql.NullInt64
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT penalty_rate, penalty_days, billing_period, fiscal_year_start_month
		FROM billing_configs
		WHERE client_id = ? AND module = ?
	`, clientID, module).Scan(&rate, &days, &cfg.BillingPeriod, &cfg.FiscalYearStartMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, engine.ErrConfigNotFound
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load billing config: %w", err)
	}
	if rate.Valid {
		cfg.PenaltyRate = engine.Float64(rate.Float64)
	}
	if days.Valid {
		cfg.PenaltyDays = engine.Int(int(days.Int64))
	}
	return cfg, nil
}

func (c conn) saveBillingConfig(ctx context.Context, cfg engine.BillingConfig) error {
	var (
		rate sql.NullFloat64
		days sql.NullInt64
	)
	if cfg.PenaltyRate != nil {
		rate = sql.NullFloat64{Float64: *cfg.PenaltyRate, Valid: true}
	}
	if cfg.PenaltyDays != nil {
		days = sql.NullInt64{Int64: int64(*cfg.PenaltyDays), Valid: true}
	}
	period := cfg.BillingPeriod
	if period == "" {
		period = engine.FrequencyMonthly
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO billing_configs
		(client_id, module, penalty_rate, penalty_days, billing_period, fiscal_year_start_month, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, module) DO UPDATE SET
			penalty_rate = excluded.penalty_rate,
			penalty_days = excluded.penalty_days,
			billing_period = excluded.billing_period,
			fiscal_year_start_month = excluded.fiscal_year_start_month,
			updated_at = excluded.updated_at
	`, cfg.ClientID, cfg.Module, rate, days, period, cfg.StartMonth(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save billing config: %w", err)
	}
	return nil
}

func (c conn) creditBalance(ctx context.Context, unitID engine.UnitID) (engine.Money, error) {
	var bal engine.Money
	err := c.q.QueryRowContext(ctx,
		"SELECT balance FROM credit_balances WHERE unit_id = ?", unitID,
	).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (c conn) adjustCredit(ctx context.Context, unitID engine.UnitID, entry engine.CreditEntry) (engine.Money, error) {
	now := time.Now().UTC()
	if entry.At.IsZero() {
		entry.At = now
	}

	if _, err := c.q.ExecContext(ctx,
		"INSERT INTO credit_balances (unit_id, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT(unit_id) DO NOTHING",
		unitID, now.Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("failed to init credit balance: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = balance + ?, updated_at = ?
		WHERE unit_id = ? AND balance + ? >= 0
	`, entry.Delta, now.Format(time.RFC3339), unitID, entry.Delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, engine.ErrNegativeCredit
	}

	bal, err := c.creditBalance(ctx, unitID)
	if err != nil {
		return 0, err
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO credit_history (unit_id, delta, balance_after, module, transaction_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, unitID, entry.Delta, bal, nullString(string(entry.Module)), nullString(entry.TransactionID),
		nullString(entry.Reason), entry.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to append credit history: %w", err)
	}
	return bal, nil
}

func (c conn) creditHistory(ctx context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT delta, balance_after, module, transaction_id, reason, created_at
		FROM credit_history
		WHERE unit_id = ?
		ORDER BY seq ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit history: %w", err)
	}
	defer rows.Close()

	var out []engine.CreditEntry
	for rows.Next() {
		var (
			e                    engine.CreditEntry
			module, txID, reason sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&e.Delta, &e.BalanceAfter, &module, &txID, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit history: %w", err)
		}
		e.Module = engine.ModuleKind(module.String)
		e.TransactionID = txID.String
		e.Reason = reason.String
		e.At, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c conn) appendPayment(ctx context.Context, tx engine.PaymentTransaction) error {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments
		(id, client_id, unit_id, module, amount, payment_date, method, reference,
		 idempotency_key, credit_before, credit_after, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.ClientID, tx.UnitID, tx.Module, tx.Amount, tx.PaymentDate.String(),
		nullString(tx.Method), nullString(tx.Reference), nullString(tx.IdempotencyKey),
		tx.CreditBefore, tx.CreditAfter, nullString(tx.CreatedBy),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}

	for i, a := range tx.Allocations {
		var target sql.NullString
		if a.TargetBillID != nil {
			target = nullString(string(*a.TargetBillID))
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO allocations
			(id, payment_id, seq, kind, target_bill_id, unit_id, module, amount, category, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, tx.ID, i, a.Kind, target, a.UnitID, a.Module, a.Amount, a.Category, nullString(a.Description))
		if err != nil {
			return fmt.Errorf("failed to append allocation %s: %w", a.ID, err)
		}
	}
	return nil
}

func (c conn) payments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, client_id, unit_id, module, amount, payment_date, method, reference,
		       idempotency_key, credit_before, credit_after, created_by, created_at
		FROM payments
		WHERE unit_id = ?
		ORDER BY created_at ASC, id ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	var out []engine.PaymentTransaction
	for rows.Next() {
		var (
			tx                                    engine.PaymentTransaction
			paymentDate, createdAt                string
			method, reference, idemKey, createdBy sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.ClientID, &tx.UnitID, &tx.Module, &tx.Amount, &paymentDate,
			&method, &reference, &idemKey, &tx.CreditBefore, &tx.CreditAfter, &createdBy, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		tx.PaymentDate, _ = engine.ParseDate(paymentDate)
		tx.Method = method.String
		tx.Reference = reference.String
		tx.IdempotencyKey = idemKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Allocations are loaded after the payment cursor is closed; the
	// connection pool holds a single connection.
	for i := range out {
		allocs, err := c.allocations(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Allocations = allocs
	}
	return out, nil
}

func (c conn) allocations(ctx context.Context, paymentID string) ([]engine.Allocation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, kind, target_bill_id, unit_id, module, amount, category, description
		FROM allocations
		WHERE payment_id = ?
		ORDER BY seq ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []engine.Allocation
	for rows.Next() {
		var (
			a                   engine.Allocation
			target, description sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Kind, &target, &a.UnitID, &a.Module, &a.Amount, &a.Category, &description); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if target.Valid {
			id := engine.BillID(target.String)
			a.TargetBillID = &id
		}
		a.Description = description.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) paymentExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Only for development and tests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"allocations", "payments", "credit_history", "credit_balances", "bills", "billing_configs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
