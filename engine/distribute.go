/*
distribute.go - Payment distribution across outstanding bills

PURPOSE:

	Applies a payment plus the unit's existing credit to outstanding bills,
	oldest first, paying each bill's penalty before its principal. Produces the
	per-bill breakdown and the signed credit change for the caller to persist.

ALGORITHM:
 1. Optionally refresh penalties as of the payment date (backdated payments)
 2. Sort bills by due date, then period, then id
 3. totalBillsDue = sum of unpaid totals, before any funds are applied
 4. Walk bills with remaining = payment + priorCredit:
    remaining >= unpaidTotal  -> pay in full
    0 < remaining < unpaid    -> penalty first, then base; remaining hits 0
    remaining == 0            -> zero entry, status unchanged
 5. Credit resolution uses the payment alone:
    payment >= totalBillsDue  -> overpayment = payment - totalBillsDue
    otherwise                 -> creditUsed = min(shortfall, priorCredit)
 6. newCredit = priorCredit - creditUsed + overpayment

CONSERVATION:

	basePaid + penaltyPaid = payment + creditUsed - overpayment, and the funds
	left over after the walk equal newCredit. creditUsed and overpayment are
	never both positive.

CONCURRENCY:

	Distribute is pure. Reading bills and credit, distributing, and writing the
	result back must happen in one transaction owned by the caller, and the
	credit change must be applied as an atomic increment of CreditDelta().
*/
package engine

import "sort"

// BillPayment is the effect of one distribution on one bill. Every input bill
// gets an entry, including bills that received nothing.
type BillPayment struct {
	BillID  BillID
	Period  PeriodKey
	DueDate Date

	UnpaidBase    Money // before this payment
	UnpaidPenalty Money // before this payment

	BasePaid    Money
	PenaltyPaid Money

	StatusBefore BillStatus
	Status       BillStatus

	// Bill is the bill with this payment applied.
	Bill Bill
}

func (p BillPayment) TotalPaid() Money   { return p.BasePaid + p.PenaltyPaid }
func (p BillPayment) UnpaidTotal() Money { return p.UnpaidBase + p.UnpaidPenalty }

// DistributionResult is the full outcome of one Distribute call.
type DistributionResult struct {
	AsOf Date // zero when penalties were not refreshed

	Payments []BillPayment

	PaymentAmount      Money
	PriorCreditBalance Money
	TotalAvailable     Money
	TotalBillsDue      Money

	TotalBasePaid    Money
	TotalPenaltyPaid Money

	CreditUsed       Money
	Overpayment      Money
	NewCreditBalance Money

	// Unapplied is what was left after walking every bill.
	Unapplied Money
}

// FundsApplied is the total paid into bills.
func (r *DistributionResult) FundsApplied() Money { return r.TotalBasePaid + r.TotalPenaltyPaid }

// CreditDelta is the signed change to the credit balance: positive when
// overpayment is added, negative when credit is consumed.
func (r *DistributionResult) CreditDelta() Money { return r.Overpayment - r.CreditUsed }

// BillsTouched counts bills that received any funds.
func (r *DistributionResult) BillsTouched() int {
	n := 0
	for _, p := range r.Payments {
		if p.TotalPaid() > 0 {
			n++
		}
	}
	return n
}

// UpdatedBills returns the bills that received funds, with the payment applied.
func (r *DistributionResult) UpdatedBills() []Bill {
	var out []Bill
	for _, p := range r.Payments {
		if p.TotalPaid() > 0 {
			out = append(out, p.Bill)
		}
	}
	return out
}

// =============================================================================
// DISTRIBUTOR
// =============================================================================

// Distributor distributes payments. Penalties is only needed when callers
// pass an evaluation date.
type Distributor struct {
	Penalties            *PenaltyCalculator
	FiscalYearStartMonth int
}

// NewDistributor returns a distributor that can refresh penalties under cfg.
func NewDistributor(cfg BillingConfig) (*Distributor, error) {
	pc, err := NewPenaltyCalculator(cfg)
	if err != nil {
		return nil, err
	}
	return &Distributor{Penalties: pc, FiscalYearStartMonth: cfg.StartMonth()}, nil
}

// Distribute applies paymentAmount plus priorCredit to bills. When asOf is not
// nil, penalties are first recalculated as of that date.
func (d *Distributor) Distribute(bills []Bill, paymentAmount, priorCredit Money, asOf *Date) (*DistributionResult, error) {
	if paymentAmount < 0 {
		return nil, &ValidationError{Field: "paymentAmount", Reason: "must not be negative"}
	}
	if priorCredit < 0 {
		return nil, &ValidationError{Field: "priorCreditBalance", Reason: "must not be negative"}
	}
	if paymentAmount > MaxMoney || priorCredit > MaxMoney {
		return nil, &ValidationError{Field: "paymentAmount", Reason: "out of range"}
	}

	result := &DistributionResult{
		PaymentAmount:      paymentAmount,
		PriorCreditBalance: priorCredit,
		TotalAvailable:     paymentAmount + priorCredit,
	}

	working := bills
	if asOf != nil {
		if d.Penalties == nil {
			return nil, &ConfigurationError{Field: "penaltyRate", Reason: "is required to evaluate penalties as of a date"}
		}
		refreshed, err := d.Penalties.Recalculate(bills, *asOf)
		if err != nil {
			return nil, err
		}
		working = refreshed
		result.AsOf = *asOf
	} else {
		for _, b := range bills {
			if err := b.Validate(); err != nil {
				return nil, err
			}
		}
	}

	ordered := d.sortOldestFirst(working)

	for _, b := range ordered {
		result.TotalBillsDue += b.UnpaidTotal()
	}

	remaining := result.TotalAvailable
	result.Payments = make([]BillPayment, 0, len(ordered))
	for _, b := range ordered {
		entry := BillPayment{
			BillID:        b.ID,
			Period:        b.Period,
			DueDate:       ResolveDueDate(b, d.FiscalYearStartMonth),
			UnpaidBase:    b.UnpaidBase(),
			UnpaidPenalty: b.UnpaidPenalty(),
			StatusBefore:  b.Status(),
		}

		if remaining > 0 {
			if remaining >= entry.UnpaidTotal() {
				entry.PenaltyPaid = entry.UnpaidPenalty
				entry.BasePaid = entry.UnpaidBase
			} else {
				entry.PenaltyPaid = remaining.Min(entry.UnpaidPenalty)
				entry.BasePaid = (remaining - entry.PenaltyPaid).Min(entry.UnpaidBase)
			}
			remaining -= entry.TotalPaid()
		}

		b.PaidPenalty += entry.PenaltyPaid
		b.PaidBase += entry.BasePaid
		entry.Bill = b
		entry.Status = b.Status()

		result.TotalBasePaid += entry.BasePaid
		result.TotalPenaltyPaid += entry.PenaltyPaid
		result.Payments = append(result.Payments, entry)
	}
	result.Unapplied = remaining

	if paymentAmount >= result.TotalBillsDue {
		result.Overpayment = paymentAmount - result.TotalBillsDue
	} else {
		shortfall := result.TotalBillsDue - paymentAmount
		result.CreditUsed = shortfall.Min(priorCredit)
	}
	result.NewCreditBalance = priorCredit - result.CreditUsed + result.Overpayment

	return result, nil
}

// Distribute is the stateless form for callers that do not refresh penalties.
func Distribute(bills []Bill, paymentAmount, priorCredit Money) (*DistributionResult, error) {
	d := &Distributor{}
	return d.Distribute(bills, paymentAmount, priorCredit, nil)
}

func (d *Distributor) sortOldestFirst(bills []Bill) []Bill {
	out := make([]Bill, len(bills))
	copy(out, bills)
	sort.SliceStable(out, func(i, j int) bool {
		di := ResolveDueDate(out[i], d.FiscalYearStartMonth)
		dj := ResolveDueDate(out[j], d.FiscalYearStartMonth)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		if out[i].Period != out[j].Period {
			return out[i].Period.Less(out[j].Period)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
