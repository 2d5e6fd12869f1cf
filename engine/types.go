/*
Package engine provides the payment distribution and penalty accrual core.

PURPOSE:

	Given a unit's outstanding bills, a payment amount, and the unit's credit
	balance, the engine computes compounding late-payment penalties as of any
	evaluation date, distributes funds oldest-first (penalty before principal),
	and produces signed ledger allocations that reconcile every minor unit moved.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer minor units (centavos). No floats anywhere in the math.
  - PeriodKey: fiscal-year + month index, used for ordering only
  - Bill: one billing period for one unit, status derived from amounts
  - BillGroup: bills sharing one due date (the unit of penalty calculation)

DESIGN PRINCIPLES:
 1. Purity: no I/O, no clocks, no globals. Inputs in, proposed deltas out.
 2. Precision: Money is int64 minor units; rates go through decimal.Decimal
 3. Derived state: Bill status is recomputed from amounts, never stored
 4. Auditability: every distribution reconciles to an allocation list

USAGE:

	d, err := engine.NewDistributor(cfg)
	result, err := d.Distribute(bills, engine.Money(60000), engine.Money(0), &asOf)
	allocs := engine.NewAllocationBuilder().Build(result, "unit-101", engine.ModuleHOADues)
	summary := engine.Summarize(allocs, result.PaymentAmount)

SEE ALSO:
  - penalty.go: PenaltyCalculator (grace, compounding, group recalculation)
  - distribute.go: Distribute (oldest-first, penalty-first)
  - allocation.go: AllocationBuilder, Summarize, ValidateAllocations
  - store.go: collaborator interfaces the caller implements
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor units
// =============================================================================

// Money is an amount in minor units of a single currency (e.g. centavos).
type Money int64

// MaxMoney bounds any single amount entering the engine. Sums of a payment,
// a credit balance, and a unit's bills stay far from int64 overflow.
const MaxMoney Money = 1_000_000_000_000_000

// MoneyFromMajor converts a major-unit decimal (e.g. pesos) into minor units.
// Amounts with sub-minor-unit precision or beyond MaxMoney are a
// ValidationError on field. Only the I/O boundary should call this.
func MoneyFromMajor(d decimal.Decimal, field string) (Money, error) {
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("%s has more than 2 decimal places", d)}
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(int64(MaxMoney))) {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("%s is out of range", d)}
	}
	return Money(minor.IntPart()), nil
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string { return m.Major().StringFixed(2) }

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m > o {
		return m
	}
	return o
}

func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type ClientID string
type BillID string

// ModuleKind identifies which billing module a bill belongs to. Modules share
// one credit pool per unit.
type ModuleKind string

const (
	ModuleHOADues ModuleKind = "hoa_dues"
	ModuleWater   ModuleKind = "water_bills"
)

// =============================================================================
// PERIOD KEY - Ordering and grouping only
// =============================================================================

// PeriodKey identifies a billing period as a fiscal year plus a zero-based
// month index within that fiscal year.
type PeriodKey struct {
	FiscalYear int
	Index      int
}

func (p PeriodKey) Less(o PeriodKey) bool {
	if p.FiscalYear != o.FiscalYear {
		return p.FiscalYear < o.FiscalYear
	}
	return p.Index < o.Index
}

func (p PeriodKey) String() string { return fmt.Sprintf("%d-%02d", p.FiscalYear, p.Index) }

// ParsePeriodKey parses the "YYYY-NN" form produced by String.
func ParsePeriodKey(s string) (PeriodKey, error) {
	var p PeriodKey
	if _, err := fmt.Sscanf(s, "%d-%d", &p.FiscalYear, &p.Index); err != nil {
		return PeriodKey{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("malformed period key %q", s)}
	}
	if p.Index < 0 || p.Index > 11 {
		return PeriodKey{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("month index out of range in %q", s)}
	}
	return p, nil
}

// =============================================================================
// BILL - One billing period for one unit
// =============================================================================

type BillStatus string

const (
	StatusUnpaid  BillStatus = "unpaid"
	StatusPartial BillStatus = "partial"
	StatusPaid    BillStatus = "paid"
)

// Bill is one billing period for one unit. Status is derived from the four
// amounts and is never stored on its own.
type Bill struct {
	ID            BillID
	ClientID      ClientID
	UnitID        UnitID
	Module        ModuleKind
	Period        PeriodKey
	BaseCharge    Money
	PenaltyAmount Money
	PaidBase      Money
	PaidPenalty   Money

	// DueDate is optional; zero means derive it from Period (see ResolveDueDate).
	DueDate Date
}

func (b Bill) UnpaidBase() Money    { return (b.BaseCharge - b.PaidBase).Max(0) }
func (b Bill) UnpaidPenalty() Money { return (b.PenaltyAmount - b.PaidPenalty).Max(0) }
func (b Bill) UnpaidTotal() Money   { return b.UnpaidBase() + b.UnpaidPenalty() }

// Status derives the bill state from its amounts.
func (b Bill) Status() BillStatus {
	return StatusFor(b.BaseCharge, b.PenaltyAmount, b.PaidBase, b.PaidPenalty)
}

// StatusFor is the pure status function over (base, penalty, paidBase, paidPenalty).
func StatusFor(base, penalty, paidBase, paidPenalty Money) BillStatus {
	if paidBase >= base && paidPenalty >= penalty {
		return StatusPaid
	}
	if paidBase > 0 || paidPenalty > 0 {
		return StatusPartial
	}
	return StatusUnpaid
}

// Validate checks the amount invariants of a single bill.
func (b Bill) Validate() error {
	switch {
	case b.ID == "":
		return &ValidationError{Field: "bill.id", Reason: "required"}
	case b.BaseCharge < 0:
		return &ValidationError{Field: "bill.baseCharge", Reason: fmt.Sprintf("negative on %s", b.ID)}
	case b.PenaltyAmount < 0:
		return &ValidationError{Field: "bill.penaltyAmount", Reason: fmt.Sprintf("negative on %s", b.ID)}
	case b.PaidBase < 0 || b.PaidBase > b.BaseCharge:
		return &ValidationError{Field: "bill.paidBase", Reason: fmt.Sprintf("must be within [0, baseCharge] on %s", b.ID)}
	case b.PaidPenalty < 0 || b.PaidPenalty > b.PenaltyAmount:
		return &ValidationError{Field: "bill.paidPenalty", Reason: fmt.Sprintf("must be within [0, penaltyAmount] on %s", b.ID)}
	}
	return nil
}

// =============================================================================
// BILL GROUP - Bills sharing one due date
// =============================================================================

// BillGroup holds bills with an identical resolved due date. Bills are kept in
// ascending PeriodKey order.
type BillGroup struct {
	DueDate Date
	Bills   []Bill
}
