/*
penalty.go - Late-payment penalty accrual

PURPOSE:

	Computes compounding penalties as of an arbitrary evaluation date. The same
	Recalculate function serves previews, backdated payments, and the nightly
	refresh; callers differ only in whether they persist the result.

GRACE PERIOD:

	A bill due on D with G grace days accrues nothing through D+G inclusive.
	From D+G+1 onward it owes at least one full month of penalty; each further
	30 days (or part thereof) adds one month.

	  monthsOverdue = max(1, ceil((asOf - (due + grace)) / 30))

COMPOUNDING:

	One step per overdue month, rounding each step to the nearest minor unit:

	  running = principal
	  for each month: step = round(running * rate); total += step; running += step

	Step rounding is what bill-by-bill expectations were computed with, so the
	closed-form compound interest formula is not used.

GROUPS:

	Bills sharing a due date (quarterly billing) get one combined calculation
	over their total unpaid principal. The group penalty is split evenly across
	the group's unpaid bills and the last unpaid bill by period absorbs the
	rounding remainder.

	A bill counts as unpaid for the split unless its status is paid. A bill
	whose principal is settled but which still owes penalty adds nothing to
	the group principal and still takes its share of the group penalty.

	Penalties are recomputed from current unpaid principal every time; they do
	not stack on a previously stored penalty. A recomputed penalty never drops
	below what has already been paid on the bill.

SEE ALSO:
  - grouping.go: GroupByDueDate / ResolveDueDate
  - distribute.go: Distribute refreshes penalties when given a payment date
*/
package engine

import "github.com/shopspring/decimal"

const daysPerPenaltyMonth = 30

// MonthsOverdue returns the number of penalty months owed as of asOf.
func MonthsOverdue(dueDate, asOf Date, graceDays int) int {
	graceEnd := dueDate.AddDays(graceDays)
	if asOf.BeforeOrEqual(graceEnd) {
		return 0
	}
	days := graceEnd.DaysUntil(asOf)
	months := (days + daysPerPenaltyMonth - 1) / daysPerPenaltyMonth
	if months < 1 {
		months = 1
	}
	return months
}

// CompoundPenalty compounds rate over principal for the given months with
// per-step rounding, returning the total penalty.
func CompoundPenalty(principal Money, months int, rate decimal.Decimal) Money {
	if principal <= 0 || months <= 0 || !rate.IsPositive() {
		return 0
	}
	running := principal
	var total Money
	for m := 0; m < months; m++ {
		step := Money(decimal.NewFromInt(int64(running)).Mul(rate).Round(0).IntPart())
		total += step
		running += step
	}
	return total
}

// =============================================================================
// PENALTY CALCULATOR
// =============================================================================

// PenaltyCalculator recalculates penalties for a set of bills under one config.
type PenaltyCalculator struct {
	rate       decimal.Decimal
	graceDays  int
	startMonth int
}

// NewPenaltyCalculator validates cfg and returns a calculator. A missing or
// non-numeric penalty rate or grace period is a ConfigurationError.
func NewPenaltyCalculator(cfg BillingConfig) (*PenaltyCalculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PenaltyCalculator{
		rate:       cfg.Rate(),
		graceDays:  cfg.GraceDays(),
		startMonth: cfg.StartMonth(),
	}, nil
}

// GroupPenalty records how one group's penalty was computed. Penalty is the
// compounded figure before the paid-penalty floor; Assigned is what the
// group's bills carry afterwards and is never less than Penalty.
type GroupPenalty struct {
	DueDate         Date
	BillIDs         []BillID
	UnpaidBillIDs   []BillID
	UnpaidPrincipal Money
	MonthsOverdue   int
	Penalty         Money
	Assigned        Money
}

// PenaltyAssessment is the result of a recalculation.
type PenaltyAssessment struct {
	AsOf   Date
	Bills  []Bill // same order as the input
	Groups []GroupPenalty
}

// TotalPenalty sums the penalty assigned to every bill, including amounts
// held up by the paid-penalty floor.
func (a PenaltyAssessment) TotalPenalty() Money {
	var total Money
	for _, g := range a.Groups {
		total += g.Assigned
	}
	return total
}

// Recalculate returns copies of bills with PenaltyAmount refreshed as of asOf.
// Input bills are not modified.
func (pc *PenaltyCalculator) Recalculate(bills []Bill, asOf Date) ([]Bill, error) {
	a, err := pc.Assess(bills, asOf)
	if err != nil {
		return nil, err
	}
	return a.Bills, nil
}

// Assess is Recalculate plus the per-group breakdown.
func (pc *PenaltyCalculator) Assess(bills []Bill, asOf Date) (PenaltyAssessment, error) {
	if asOf.IsZero() {
		return PenaltyAssessment{}, &ValidationError{Field: "asOfDate", Reason: "is required"}
	}
	for _, b := range bills {
		if err := b.Validate(); err != nil {
			return PenaltyAssessment{}, err
		}
	}

	out := make([]Bill, len(bills))
	copy(out, bills)
	assessment := PenaltyAssessment{AsOf: asOf, Bills: out}

	for _, g := range groupIndices(out, pc.startMonth) {
		gp := pc.assessGroup(out, g, asOf)
		for _, i := range g.members {
			gp.Assigned += out[i].PenaltyAmount
		}
		assessment.Groups = append(assessment.Groups, gp)
	}
	return assessment, nil
}

func (pc *PenaltyCalculator) assessGroup(bills []Bill, g indexGroup, asOf Date) GroupPenalty {
	gp := GroupPenalty{DueDate: g.due}

	var unpaid []int
	for _, i := range g.members {
		gp.BillIDs = append(gp.BillIDs, bills[i].ID)
		if bills[i].Status() == StatusPaid {
			bills[i].PenaltyAmount = bills[i].PaidPenalty
			continue
		}
		unpaid = append(unpaid, i)
		gp.UnpaidBillIDs = append(gp.UnpaidBillIDs, bills[i].ID)
		gp.UnpaidPrincipal += bills[i].UnpaidBase()
	}

	gp.MonthsOverdue = MonthsOverdue(g.due, asOf, pc.graceDays)
	if len(unpaid) == 0 || gp.MonthsOverdue == 0 {
		gp.MonthsOverdue = 0
		for _, i := range unpaid {
			bills[i].PenaltyAmount = bills[i].PaidPenalty
		}
		return gp
	}

	gp.Penalty = CompoundPenalty(gp.UnpaidPrincipal, gp.MonthsOverdue, pc.rate)

	share := gp.Penalty / Money(len(unpaid))
	split := Money(0)
	for n, i := range unpaid {
		p := share
		if n == len(unpaid)-1 {
			p = gp.Penalty - split
		}
		split += p
		bills[i].PenaltyAmount = p.Max(bills[i].PaidPenalty)
	}
	return gp
}

// Recalculate is the one-shot form of PenaltyCalculator.Recalculate.
func Recalculate(bills []Bill, asOf Date, cfg BillingConfig) ([]Bill, error) {
	pc, err := NewPenaltyCalculator(cfg)
	if err != nil {
		return nil, err
	}
	return pc.Recalculate(bills, asOf)
}
