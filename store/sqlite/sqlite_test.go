package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBill(id string, unit engine.UnitID, index int, base engine.Money) engine.Bill {
	return engine.Bill{
		ID:         engine.BillID(id),
		ClientID:   "mtc",
		UnitID:     unit,
		Module:     engine.ModuleHOADues,
		Period:     engine.PeriodKey{FiscalYear: 2026, Index: index},
		BaseCharge: base,
		DueDate:    engine.NewDate(2025, time.July, 1).AddMonths(index),
	}
}

func TestSQLite_BillsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	paid := testBill("b0", "u1", 0, 1000)
	paid.PaidBase = 1000
	open := testBill("b2", "u1", 2, 1000)
	open.PenaltyAmount = 50
	open.PaidPenalty = 50
	require.NoError(t, s.SaveBills(ctx, []engine.Bill{paid, open, testBill("b1", "u1", 1, 1000), testBill("x", "u2", 0, 500)}))

	bills, err := s.OutstandingBills(ctx, "u1", engine.ModuleHOADues)
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, engine.BillID("b1"), bills[0].ID)
	assert.Equal(t, engine.BillID("b2"), bills[1].ID)
	assert.Equal(t, engine.Money(50), bills[1].PaidPenalty)
	assert.Equal(t, "2025-09-01", bills[1].DueDate.String())

	units, err := s.UnitsWithOutstanding(ctx, "mtc", engine.ModuleHOADues)
	require.NoError(t, err)
	assert.Equal(t, []engine.UnitID{"u1", "u2"}, units)
}

func TestSQLite_SaveBillsUpserts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	b := testBill("b1", "u1", 0, 1000)
	require.NoError(t, s.SaveBills(ctx, []engine.Bill{b}))

	b.PaidBase = 1000
	require.NoError(t, s.SaveBills(ctx, []engine.Bill{b}))

	bills, err := s.OutstandingBills(ctx, "u1", engine.ModuleHOADues)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestSQLite_SaveBillsRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	bad := testBill("bad", "u1", 1, 1000)
	bad.PaidBase = 2000
	err := s.SaveBills(ctx, []engine.Bill{testBill("good", "u1", 0, 1000), bad})
	assert.ErrorIs(t, err, engine.ErrValidation)

	bills, err := s.OutstandingBills(ctx, "u1", engine.ModuleHOADues)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestSQLite_BillingConfigKeepsMissingPenaltyFields(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.BillingConfig(ctx, "mtc", engine.ModuleWater)
	assert.ErrorIs(t, err, engine.ErrConfigNotFound)

	require.NoError(t, s.SaveBillingConfig(ctx, engine.BillingConfig{
		ClientID:             "mtc",
		Module:               engine.ModuleWater,
		PenaltyRate:          engine.Float64(0.05),
		FiscalYearStartMonth: 7,
	}))

	cfg, err := s.BillingConfig(ctx, "mtc", engine.ModuleWater)
	require.NoError(t, err)
	require.NotNil(t, cfg.PenaltyRate)
	assert.Equal(t, 0.05, *cfg.PenaltyRate)
	assert.Nil(t, cfg.PenaltyDays)
	assert.Equal(t, 7, cfg.FiscalYearStartMonth)
	assert.Equal(t, engine.FrequencyMonthly, cfg.BillingPeriod)

	// A stored config with no grace period must not validate
	assert.ErrorIs(t, cfg.Validate(), engine.ErrConfiguration)
}

func TestSQLite_AdjustCreditIsBoundedAtZero(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	bal, err := s.AdjustCredit(ctx, "u1", engine.CreditEntry{Delta: 500, Module: engine.ModuleHOADues, Reason: "overpayment"})
	require.NoError(t, err)
	assert.Equal(t, engine.Money(500), bal)

	bal, err = s.AdjustCredit(ctx, "u1", engine.CreditEntry{Delta: 300, Module: engine.ModuleWater})
	require.NoError(t, err)
	assert.Equal(t, engine.Money(800), bal)

	_, err = s.AdjustCredit(ctx, "u1", engine.CreditEntry{Delta: -801})
	assert.ErrorIs(t, err, engine.ErrNegativeCredit)

	bal, err = s.CreditBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.Money(800), bal)

	history, err := s.CreditHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, engine.Money(500), history[0].BalanceAfter)
	assert.Equal(t, engine.ModuleWater, history[1].Module)
}

func TestSQLite_PaymentsWithAllocations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	b1 := engine.BillID("b1")
	tx := engine.PaymentTransaction{
		ID:             "t1",
		ClientID:       "mtc",
		UnitID:         "u1",
		Module:         engine.ModuleHOADues,
		Amount:         1500,
		PaymentDate:    engine.NewDate(2025, time.August, 3),
		Method:         "bank_transfer",
		IdempotencyKey: "k1",
		CreditAfter:    500,
		Allocations: []engine.Allocation{
			{ID: "a1", Kind: engine.AllocBillBase, TargetBillID: &b1, UnitID: "u1", Module: engine.ModuleHOADues, Amount: 1000, Category: "hoa_dues"},
			{ID: "a2", Kind: engine.AllocCredit, UnitID: "u1", Module: engine.ModuleHOADues, Amount: 500, Category: "account_credit"},
		},
	}
	require.NoError(t, s.AppendPayment(ctx, tx))
	assert.ErrorIs(t, s.AppendPayment(ctx, engine.PaymentTransaction{ID: "t2", UnitID: "u1", IdempotencyKey: "k1"}), engine.ErrDuplicatePayment)

	exists, err := s.PaymentExists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.Payments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2025-08-03", got[0].PaymentDate.String())
	require.Len(t, got[0].Allocations, 2)
	assert.Equal(t, engine.BillID("b1"), got[0].Allocations[0].Target())
	assert.Nil(t, got[0].Allocations[1].TargetBillID)
	assert.True(t, engine.Summarize(got[0].Allocations, got[0].Amount).IsValid)
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	// GIVEN: One open bill
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveBills(ctx, []engine.Bill{testBill("b1", "u1", 0, 1000)}))

	// WHEN: A transaction pays it, adds credit, and then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ts engine.Store) error {
		bills, err := ts.OutstandingBills(ctx, "u1", engine.ModuleHOADues)
		if err != nil {
			return err
		}
		bills[0].PaidBase = bills[0].BaseCharge
		if err := ts.SaveBills(ctx, bills); err != nil {
			return err
		}
		if _, err := ts.AdjustCredit(ctx, "u1", engine.CreditEntry{Delta: 200}); err != nil {
			return err
		}
		return boom
	})

	// THEN: The bill is still open and no credit exists
	assert.ErrorIs(t, err, boom)
	bills, err := s.OutstandingBills(ctx, "u1", engine.ModuleHOADues)
	require.NoError(t, err)
	assert.Len(t, bills, 1)
	bal, err := s.CreditBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestSQLite_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.WithTx(ctx, func(ts engine.Store) error {
		_, err := ts.AdjustCredit(ctx, "u1", engine.CreditEntry{Delta: 700})
		return err
	})
	require.NoError(t, err)

	bal, err := s.CreditBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.Money(700), bal)
}
