package engine_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/engine"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("alloc_%03d", n)
	}
}

func builder() *engine.AllocationBuilder {
	return &engine.AllocationBuilder{NewID: sequentialIDs()}
}

func TestBuildAllocations_BillLinesInOrder(t *testing.T) {
	r, err := engine.Distribute([]engine.Bill{
		owed("b1", 0, 45000, 5000),
		owed("b2", 1, 28000, 2000),
	}, 60000, 0)
	require.NoError(t, err)

	allocs := builder().Build(r, "unit-101", engine.ModuleHOADues)
	require.Len(t, allocs, 4)

	want := []struct {
		kind   engine.AllocationKind
		target engine.BillID
		amount engine.Money
	}{
		{engine.AllocBillBase, "b1", 45000},
		{engine.AllocBillPenalty, "b1", 5000},
		{engine.AllocBillBase, "b2", 8000},
		{engine.AllocBillPenalty, "b2", 2000},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, allocs[i].Kind, "allocation %d kind", i)
		assert.Equal(t, w.target, allocs[i].Target(), "allocation %d target", i)
		assert.Equal(t, w.amount, allocs[i].Amount, "allocation %d amount", i)
	}
	assert.Equal(t, "alloc_001", allocs[0].ID)
	assert.Equal(t, "hoa_dues", allocs[0].Category)
	assert.Equal(t, "hoa_dues_penalties", allocs[1].Category)

	s := engine.Summarize(allocs, r.PaymentAmount)
	assert.True(t, s.IsValid)
	assert.Equal(t, engine.Money(60000), s.TotalAllocated)
	assert.Equal(t, 2, s.BillsTouched)
}

func TestBuildAllocations_CreditConsumedIsNegative(t *testing.T) {
	r, err := engine.Distribute([]engine.Bill{owed("b1", 0, 28000, 2000)}, 15000, 10000)
	require.NoError(t, err)

	allocs := builder().Build(r, "unit-101", engine.ModuleWater)
	require.Len(t, allocs, 3)

	credit := allocs[2]
	assert.Equal(t, engine.AllocCredit, credit.Kind)
	assert.Nil(t, credit.TargetBillID)
	assert.Equal(t, engine.Money(-10000), credit.Amount)
	assert.Equal(t, "account_credit", credit.Category)

	report := engine.ValidateAllocations(allocs, 15000)
	assert.True(t, report.Valid, "errors: %v", report.Errors)
	assert.Equal(t, engine.Money(10000), report.Summary.CreditUsed)
}

func TestBuildAllocations_OverpaymentIsPositiveCredit(t *testing.T) {
	r, err := engine.Distribute([]engine.Bill{owed("b1", 0, 20000, 0)}, 25000, 0)
	require.NoError(t, err)

	allocs := builder().Build(r, "unit-101", engine.ModuleHOADues)
	require.Len(t, allocs, 2)
	assert.Equal(t, engine.AllocCredit, allocs[1].Kind)
	assert.Equal(t, engine.Money(5000), allocs[1].Amount)

	s := engine.Summarize(allocs, 25000)
	assert.True(t, s.IsValid)
	assert.Equal(t, engine.Money(5000), s.CreditAdded)
}

func TestBuildAllocations_NoZeroLines(t *testing.T) {
	r, err := engine.Distribute([]engine.Bill{
		owed("b1", 0, 10000, 0),
		owed("b2", 1, 10000, 0),
	}, 10000, 0)
	require.NoError(t, err)

	allocs := builder().Build(r, "unit-101", engine.ModuleHOADues)
	require.Len(t, allocs, 1)
	for _, a := range allocs {
		assert.NotZero(t, a.Amount)
	}
}

func TestBuildAllocations_DefaultIDsAreUnique(t *testing.T) {
	r, err := engine.Distribute([]engine.Bill{owed("b1", 0, 45000, 5000)}, 60000, 0)
	require.NoError(t, err)

	allocs := engine.BuildAllocations(r, "unit-101", engine.ModuleHOADues)
	require.Len(t, allocs, 3)
	assert.NotEqual(t, allocs[0].ID, allocs[1].ID)
	assert.NotEqual(t, allocs[1].ID, allocs[2].ID)
}

// =============================================================================
// SUMMARY TOLERANCE
// =============================================================================

func TestSummarize_ToleranceIsOnePerBillTouched(t *testing.T) {
	b1, b2 := engine.BillID("b1"), engine.BillID("b2")
	allocs := []engine.Allocation{
		{ID: "a1", Kind: engine.AllocBillBase, TargetBillID: &b1, Amount: 30000, Category: "hoa_dues"},
		{ID: "a2", Kind: engine.AllocBillBase, TargetBillID: &b2, Amount: 30000, Category: "hoa_dues"},
	}

	within := engine.Summarize(allocs, 60002)
	assert.Equal(t, engine.Money(2), within.Tolerance)
	assert.True(t, within.IsValid)
	assert.NoError(t, within.Err())

	beyond := engine.Summarize(allocs, 60003)
	assert.False(t, beyond.IsValid)
	assert.Equal(t, engine.Money(-3), beyond.Difference)
	assert.ErrorIs(t, beyond.Err(), engine.ErrIntegrity)
}

func TestSummarize_CreditOnlyHasZeroTolerance(t *testing.T) {
	allocs := []engine.Allocation{
		{ID: "a1", Kind: engine.AllocCredit, Amount: 5000, Category: "account_credit"},
	}
	assert.True(t, engine.Summarize(allocs, 5000).IsValid)
	assert.False(t, engine.Summarize(allocs, 5001).IsValid)
}

// =============================================================================
// STRUCTURAL VALIDATION
// =============================================================================

func TestValidateAllocations_ReportsEveryProblem(t *testing.T) {
	b1 := engine.BillID("b1")
	allocs := []engine.Allocation{
		{ID: "", Kind: engine.AllocBillBase, TargetBillID: &b1, Amount: 100, Category: "hoa_dues"},
		{ID: "a2", Kind: engine.AllocBillPenalty, Amount: 50, Category: "hoa_dues_penalties"},
		{ID: "a3", Kind: engine.AllocCredit, TargetBillID: &b1, Amount: 25, Category: ""},
		{ID: "a4", Kind: "refund", Amount: 0, Category: "misc"},
	}

	report := engine.ValidateAllocations(allocs, 175)
	assert.False(t, report.Valid)

	// missing id, missing target, credit with target, missing category,
	// zero amount, unknown kind
	assert.Len(t, report.Errors, 6)
	assert.Contains(t, report.Errors[0], "missing id")

	var iErr *engine.IntegrityError
	require.ErrorAs(t, report.Err(), &iErr)
	assert.Len(t, iErr.Problems, 6)
}

func TestValidateAllocations_FlagsMismatchedTotal(t *testing.T) {
	b1 := engine.BillID("b1")
	allocs := []engine.Allocation{
		{ID: "a1", Kind: engine.AllocBillBase, TargetBillID: &b1, Amount: 1000, Category: "hoa_dues"},
	}

	report := engine.ValidateAllocations(allocs, 1500)
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "does not reconcile")
}
