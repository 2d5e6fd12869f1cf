package payments_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/engine/store"
	"github.com/warp/dues-engine/payments"
)

func date(y int, m time.Month, d int) engine.Date { return engine.NewDate(y, m, d) }

// newService returns a service over an in-memory store seeded with a 5%/10-day
// config for client "mtc" in both modules.
func newService(t *testing.T) (*payments.Service, *store.TxMemory) {
	t.Helper()
	ctx := context.Background()
	st := store.NewTxMemory()
	for _, module := range []engine.ModuleKind{engine.ModuleHOADues, engine.ModuleWater} {
		require.NoError(t, st.SaveBillingConfig(ctx, engine.BillingConfig{
			ClientID:             "mtc",
			Module:               module,
			PenaltyRate:          engine.Float64(0.05),
			PenaltyDays:          engine.Int(10),
			BillingPeriod:        engine.FrequencyMonthly,
			FiscalYearStartMonth: 7,
		}))
	}

	svc := payments.NewService(st, log.New(io.Discard, "", 0))
	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	svc.Allocations = &engine.AllocationBuilder{NewID: svc.NewID}
	svc.Now = func() time.Time { return time.Date(2025, time.July, 5, 9, 0, 0, 0, time.UTC) }
	return svc, st
}

func monthly(id string, unit engine.UnitID, module engine.ModuleKind, index int, base engine.Money) engine.Bill {
	return engine.Bill{
		ID:         engine.BillID(id),
		ClientID:   "mtc",
		UnitID:     unit,
		Module:     module,
		Period:     engine.PeriodKey{FiscalYear: 2026, Index: index},
		BaseCharge: base,
		DueDate:    date(2025, time.July, 1).AddMonths(index),
	}
}

func request(unit engine.UnitID, module engine.ModuleKind, amount engine.Money) payments.PaymentRequest {
	return payments.PaymentRequest{ClientID: "mtc", UnitID: unit, Module: module, Amount: amount, Method: "cash"}
}

// =============================================================================
// RECORD
// =============================================================================

func TestRecord_PaysOldestFirstAndPersists(t *testing.T) {
	// GIVEN: Two monthly dues bills of 45000, paid inside the grace period
	ctx := context.Background()
	svc, st := newService(t)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{
		monthly("jul", "101", engine.ModuleHOADues, 0, 45000),
		monthly("aug", "101", engine.ModuleHOADues, 1, 45000),
	}))

	// WHEN: 60000 is recorded
	req := request("101", engine.ModuleHOADues, 60000)
	req.IdempotencyKey = "receipt-1"
	receipt, err := svc.Record(ctx, req)
	require.NoError(t, err)

	// THEN: July is settled and August holds 15000
	jul, _ := st.Bill("jul")
	aug, _ := st.Bill("aug")
	assert.Equal(t, engine.StatusPaid, jul.Status())
	assert.Equal(t, engine.Money(15000), aug.PaidBase)
	assert.Equal(t, engine.StatusPartial, aug.Status())

	tx := receipt.Transaction
	assert.Equal(t, "2025-07-05", tx.PaymentDate.String())
	assert.Len(t, tx.Allocations, 2)
	assert.True(t, receipt.Summary.IsValid)

	history, err := svc.Payments(ctx, "101")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tx.ID, history[0].ID)

	// AND: The same receipt cannot be recorded twice
	_, err = svc.Record(ctx, req)
	assert.ErrorIs(t, err, engine.ErrDuplicatePayment)
}

func TestRecord_OverpaymentCreditIsSharedAcrossModules(t *testing.T) {
	// GIVEN: A 20000 dues bill and a 5000 water bill
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{
		monthly("dues", "101", engine.ModuleHOADues, 0, 20000),
		monthly("water", "101", engine.ModuleWater, 0, 5000),
	}))

	// WHEN: Dues are overpaid by 8000
	_, err := svc.Record(ctx, request("101", engine.ModuleHOADues, 28000))
	require.NoError(t, err)

	// THEN: The water bill can be settled from credit alone
	receipt, err := svc.Record(ctx, request("101", engine.ModuleWater, 0))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(5000), receipt.Distribution.CreditUsed)
	assert.Equal(t, engine.Money(8000), receipt.Transaction.CreditBefore)
	assert.Equal(t, engine.Money(3000), receipt.Transaction.CreditAfter)

	credit, err := svc.Credit(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, engine.Money(3000), credit.Balance)
	require.Len(t, credit.History, 2)
	assert.Equal(t, "overpayment", credit.History[0].Reason)
	assert.Equal(t, engine.ModuleWater, credit.History[1].Module)
}

func TestRecord_BackdatedPaymentUsesPaymentDatePenalty(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	b := monthly("jul", "101", engine.ModuleHOADues, 0, 100000)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{b}))

	// Penalties refreshed in September
	_, err := svc.RefreshPenalties(ctx, "mtc", engine.ModuleHOADues, date(2025, time.September, 5))
	require.NoError(t, err)
	stored, _ := st.Bill("jul")
	require.Equal(t, engine.Money(10250), stored.PenaltyAmount)

	// A cheque dated inside the grace period settles the principal only
	req := request("101", engine.ModuleHOADues, 100000)
	req.PaymentDate = date(2025, time.July, 8)
	receipt, err := svc.Record(ctx, req)
	require.NoError(t, err)

	assert.Zero(t, receipt.Distribution.Overpayment)
	stored, _ = st.Bill("jul")
	assert.Equal(t, engine.StatusPaid, stored.Status())
	assert.Zero(t, stored.PenaltyAmount)
}

func TestRecord_IntegrityFailureWritesNothing(t *testing.T) {
	// GIVEN: An allocation builder that emits lines without ids
	ctx := context.Background()
	svc, st := newService(t)
	svc.Allocations = &engine.AllocationBuilder{NewID: func() string { return "" }}
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{monthly("jul", "101", engine.ModuleHOADues, 0, 20000)}))

	// WHEN: A payment with overpayment is recorded
	_, err := svc.Record(ctx, request("101", engine.ModuleHOADues, 25000))

	// THEN: The payment is rejected and the store is untouched
	var iErr *engine.IntegrityError
	require.ErrorAs(t, err, &iErr)
	assert.NotEmpty(t, iErr.Problems)

	jul, _ := st.Bill("jul")
	assert.Zero(t, jul.PaidBase)
	bal, _ := st.CreditBalance(ctx, "101")
	assert.Zero(t, bal)
	history, _ := st.Payments(ctx, "101")
	assert.Empty(t, history)
}

func TestRecord_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Record(ctx, request("101", engine.ModuleHOADues, -1))
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = svc.Record(ctx, request("101", "electricity", 100))
	assert.ErrorIs(t, err, engine.ErrValidation)

	req := request("101", engine.ModuleHOADues, 100)
	req.ClientID = "unknown"
	_, err = svc.Record(ctx, req)
	assert.ErrorIs(t, err, engine.ErrConfigNotFound)
}

func TestRecord_MissingPenaltyDaysIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	require.NoError(t, st.SaveBillingConfig(ctx, engine.BillingConfig{
		ClientID:    "mtc",
		Module:      engine.ModuleWater,
		PenaltyRate: engine.Float64(0.05),
	}))

	_, err := svc.Record(ctx, request("101", engine.ModuleWater, 100))
	assert.ErrorIs(t, err, engine.ErrConfiguration)
}

// =============================================================================
// PREVIEW / OUTSTANDING
// =============================================================================

func TestPreview_DoesNotPersist(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{monthly("jul", "101", engine.ModuleHOADues, 0, 20000)}))

	p, err := svc.Preview(ctx, request("101", engine.ModuleHOADues, 20000))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaid, p.Distribution.Payments[0].Status)
	assert.True(t, p.Summary.IsValid)

	jul, _ := st.Bill("jul")
	assert.Zero(t, jul.PaidBase)
}

func TestOutstanding_EvaluatesPenaltiesWithoutPersisting(t *testing.T) {
	// GIVEN: A 100000 bill due Jul 1 and 2500 of credit
	ctx := context.Background()
	svc, st := newService(t)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{monthly("jul", "101", engine.ModuleHOADues, 0, 100000)}))
	_, err := st.AdjustCredit(ctx, "101", engine.CreditEntry{Delta: 2500})
	require.NoError(t, err)

	// WHEN: The balance is evaluated on Sept 5 (two months overdue)
	sum, err := svc.Outstanding(ctx, "mtc", "101", engine.ModuleHOADues, date(2025, time.September, 5))
	require.NoError(t, err)

	// THEN: Penalty is compounded and credit reduces the net due
	assert.Equal(t, engine.Money(100000), sum.TotalBaseDue)
	assert.Equal(t, engine.Money(10250), sum.TotalPenaltyDue)
	assert.Equal(t, engine.Money(110250), sum.TotalDue)
	assert.Equal(t, engine.Money(107750), sum.NetDue)
	require.Len(t, sum.Groups, 1)
	assert.Equal(t, 2, sum.Groups[0].MonthsOverdue)

	stored, _ := st.Bill("jul")
	assert.Zero(t, stored.PenaltyAmount)
}

// =============================================================================
// PENALTY REFRESH
// =============================================================================

func TestRefreshPenalties_UpdatesEveryUnitOnce(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	require.NoError(t, svc.SaveBills(ctx, "101", []engine.Bill{monthly("a", "101", engine.ModuleHOADues, 0, 100000)}))
	require.NoError(t, svc.SaveBills(ctx, "102", []engine.Bill{monthly("b", "102", engine.ModuleHOADues, 0, 50000)}))

	asOf := date(2025, time.September, 5)
	report, err := svc.RefreshPenalties(ctx, "mtc", engine.ModuleHOADues, asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Units)
	assert.Equal(t, 2, report.BillsUpdated)
	assert.Equal(t, engine.Money(10250+5125), report.PenaltyDelta)

	b, _ := st.Bill("b")
	assert.Equal(t, engine.Money(5125), b.PenaltyAmount)

	// A second run on the same date changes nothing
	report, err = svc.RefreshPenalties(ctx, "mtc", engine.ModuleHOADues, asOf)
	require.NoError(t, err)
	assert.Zero(t, report.BillsUpdated)
}

func TestRefreshPenalties_RequiresConfig(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.RefreshPenalties(context.Background(), "nobody", engine.ModuleHOADues, date(2025, time.September, 5))
	assert.ErrorIs(t, err, engine.ErrConfigNotFound)
}

func TestSaveBills_RejectsForeignUnit(t *testing.T) {
	svc, _ := newService(t)
	err := svc.SaveBills(context.Background(), "101", []engine.Bill{monthly("x", "999", engine.ModuleHOADues, 0, 100)})
	assert.ErrorIs(t, err, engine.ErrValidation)
}
