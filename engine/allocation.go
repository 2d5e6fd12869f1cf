/*
allocation.go - Ledger allocations for a distribution

PURPOSE:

	Turns a DistributionResult into signed, categorized ledger lines for the
	audit trail, and checks that those lines reconcile with the transaction
	total before anything is persisted.

ALLOCATION KINDS:

	bill_base     +basePaid     target = bill id
	bill_penalty  +penaltyPaid  target = bill id
	credit        +overpayment  credit added, no bill target
	credit        -creditUsed   credit consumed, no bill target

	Zero amounts are never emitted. The signed sum of a payment's allocations
	equals the payment amount:

	  sum(basePaid) + sum(penaltyPaid) + overpayment - creditUsed = payment

TOLERANCE:

	Summarize accepts a difference of one minor unit per bill touched, the
	rounding allowance of the distribution. A payment that touches no bills has
	zero tolerance.

SEE ALSO:
  - distribute.go: produces DistributionResult
  - payments/service.go: refuses to persist when Summary.IsValid is false
*/
package engine

import (
	"fmt"

	"github.com/google/uuid"
)

type AllocationKind string

const (
	AllocBillBase    AllocationKind = "bill_base"
	AllocBillPenalty AllocationKind = "bill_penalty"
	AllocCredit      AllocationKind = "credit"
)

// Allocation is one signed ledger line.
type Allocation struct {
	ID           string
	Kind         AllocationKind
	TargetBillID *BillID // nil for credit lines
	UnitID       UnitID
	Module       ModuleKind
	Amount       Money
	Category     string
	Description  string
}

// Target returns the bill id or "" for credit lines.
func (a Allocation) Target() BillID {
	if a.TargetBillID == nil {
		return ""
	}
	return *a.TargetBillID
}

// CategoryFor names the ledger category of an allocation kind in a module.
func CategoryFor(module ModuleKind, kind AllocationKind) string {
	switch kind {
	case AllocBillPenalty:
		return string(module) + "_penalties"
	case AllocCredit:
		return "account_credit"
	default:
		return string(module)
	}
}

// =============================================================================
// ALLOCATION BUILDER
// =============================================================================

// AllocationBuilder emits allocations. NewID defaults to random UUIDs.
type AllocationBuilder struct {
	NewID func() string
}

func NewAllocationBuilder() *AllocationBuilder {
	return &AllocationBuilder{NewID: uuid.NewString}
}

// Build converts a distribution into allocations: per bill a base line and a
// penalty line when non-zero, then at most one credit line.
func (ab *AllocationBuilder) Build(r *DistributionResult, unitID UnitID, module ModuleKind) []Allocation {
	newID := ab.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var out []Allocation
	for _, p := range r.Payments {
		billID := p.BillID
		if p.BasePaid > 0 {
			out = append(out, Allocation{
				ID:           newID(),
				Kind:         AllocBillBase,
				TargetBillID: &billID,
				UnitID:       unitID,
				Module:       module,
				Amount:       p.BasePaid,
				Category:     CategoryFor(module, AllocBillBase),
				Description:  fmt.Sprintf("%s base charge", p.Period),
			})
		}
		if p.PenaltyPaid > 0 {
			out = append(out, Allocation{
				ID:           newID(),
				Kind:         AllocBillPenalty,
				TargetBillID: &billID,
				UnitID:       unitID,
				Module:       module,
				Amount:       p.PenaltyPaid,
				Category:     CategoryFor(module, AllocBillPenalty),
				Description:  fmt.Sprintf("%s late penalty", p.Period),
			})
		}
	}

	if r.Overpayment > 0 {
		out = append(out, Allocation{
			ID:          newID(),
			Kind:        AllocCredit,
			UnitID:      unitID,
			Module:      module,
			Amount:      r.Overpayment,
			Category:    CategoryFor(module, AllocCredit),
			Description: "overpayment added to credit balance",
		})
	}
	if r.CreditUsed > 0 {
		out = append(out, Allocation{
			ID:          newID(),
			Kind:        AllocCredit,
			UnitID:      unitID,
			Module:      module,
			Amount:      -r.CreditUsed,
			Category:    CategoryFor(module, AllocCredit),
			Description: "credit balance applied",
		})
	}
	return out
}

// BuildAllocations is the stateless form of AllocationBuilder.Build.
func BuildAllocations(r *DistributionResult, unitID UnitID, module ModuleKind) []Allocation {
	return NewAllocationBuilder().Build(r, unitID, module)
}

// =============================================================================
// SUMMARY - Integrity check
// =============================================================================

// Summary totals a set of allocations and checks them against the expected
// transaction total.
type Summary struct {
	TotalAllocated Money
	ExpectedTotal  Money
	Difference     Money
	Tolerance      Money
	BillsTouched   int

	BaseTotal    Money
	PenaltyTotal Money
	CreditAdded  Money
	CreditUsed   Money

	AllocationCount int
	IsValid         bool
}

// Summarize sums allocations and sets IsValid when the total is within one
// minor unit per bill touched of expectedTotal.
func Summarize(allocs []Allocation, expectedTotal Money) Summary {
	s := Summary{ExpectedTotal: expectedTotal, AllocationCount: len(allocs)}
	touched := make(map[BillID]struct{})
	for _, a := range allocs {
		s.TotalAllocated += a.Amount
		switch a.Kind {
		case AllocBillBase:
			s.BaseTotal += a.Amount
		case AllocBillPenalty:
			s.PenaltyTotal += a.Amount
		case AllocCredit:
			if a.Amount > 0 {
				s.CreditAdded += a.Amount
			} else {
				s.CreditUsed -= a.Amount
			}
		}
		if a.TargetBillID != nil {
			touched[*a.TargetBillID] = struct{}{}
		}
	}
	s.BillsTouched = len(touched)
	s.Tolerance = Money(s.BillsTouched)
	s.Difference = s.TotalAllocated - expectedTotal
	s.IsValid = s.Difference.Abs() <= s.Tolerance
	return s
}

// Err returns an IntegrityError for an invalid summary, nil otherwise.
func (s Summary) Err() error {
	if s.IsValid {
		return nil
	}
	return &IntegrityError{Expected: s.ExpectedTotal, Allocated: s.TotalAllocated, Tolerance: s.Tolerance}
}

// =============================================================================
// STRUCTURAL VALIDATION
// =============================================================================

// ValidationReport lists every problem found; it does not stop at the first.
type ValidationReport struct {
	Valid   bool
	Errors  []string
	Summary Summary
}

// Err returns an IntegrityError carrying every problem, or nil.
func (r ValidationReport) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{
		Expected:  r.Summary.ExpectedTotal,
		Allocated: r.Summary.TotalAllocated,
		Tolerance: r.Summary.Tolerance,
		Problems:  r.Errors,
	}
}

// ValidateAllocations checks each allocation's required fields and sign, then
// the summary reconciliation.
func ValidateAllocations(allocs []Allocation, expectedTotal Money) ValidationReport {
	var errs []string
	seen := make(map[string]bool)
	for i, a := range allocs {
		label := fmt.Sprintf("allocation %d", i)
		if a.ID == "" {
			errs = append(errs, label+": missing id")
		} else if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %s", label, a.ID))
		}
		seen[a.ID] = true

		if a.Category == "" {
			errs = append(errs, label+": missing category")
		}
		if a.Amount == 0 {
			errs = append(errs, label+": zero amount")
		}

		switch a.Kind {
		case AllocBillBase, AllocBillPenalty:
			if a.Target() == "" {
				errs = append(errs, fmt.Sprintf("%s: %s requires a target bill", label, a.Kind))
			}
			if a.Amount < 0 {
				errs = append(errs, fmt.Sprintf("%s: %s amount must be positive", label, a.Kind))
			}
		case AllocCredit:
			if a.TargetBillID != nil {
				errs = append(errs, label+": credit allocation must not target a bill")
			}
		case "":
			errs = append(errs, label+": missing kind")
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", label, a.Kind))
		}
	}

	s := Summarize(allocs, expectedTotal)
	if !s.IsValid {
		errs = append(errs, fmt.Sprintf("allocated %s does not reconcile with expected %s (tolerance %s)",
			s.TotalAllocated, s.ExpectedTotal, s.Tolerance))
	}
	return ValidationReport{Valid: len(errs) == 0, Errors: errs, Summary: s}
}
