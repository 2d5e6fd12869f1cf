/*
Package payments orchestrates the engine against a store.

PURPOSE:

	The engine is pure: it takes bills, config, and credit as values and
	returns results. This package is the caller that loads those values,
	runs the engine, checks the allocations, and writes everything back in
	one transaction.

OPERATIONS:

	Preview:          Distribute without persisting (what-if for the cashier UI)
	Record:           Distribute, validate allocations, persist atomically
	Outstanding:      Bills with penalties as of a date, totals, credit, net due
	RefreshPenalties: Batch penalty recalculation for a client/module
	SaveBills:        Bill ingest from the billing generator
	SetConfig:        Billing config updates

RECORD FLOW (inside TxStore.WithTx):
 1. Reject a reused idempotency key
 2. Load config, outstanding bills, and credit
 3. Distribute as of the payment date (penalties refreshed first)
 4. Build allocations and validate them against the payment amount
 5. Invalid allocations -> IntegrityError, nothing written
 6. AdjustCredit(CreditDelta), SaveBills(touched bills), AppendPayment

SEE ALSO:
  - engine/distribute.go: Distribution algorithm
  - engine/allocation.go: Allocation builder and integrity checks
  - api/handlers.go: HTTP surface
*/
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/metrics"
)

// Service runs payment operations against a transactional store.
type Service struct {
	Store       engine.TxStore
	Allocations *engine.AllocationBuilder
	Logger      *log.Logger

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// NewService creates a service. A nil logger means log.Default().
func NewService(store engine.TxStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		Store:       store,
		Allocations: engine.NewAllocationBuilder(),
		Logger:      logger,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// PaymentRequest describes a payment received for one unit and module.
type PaymentRequest struct {
	ClientID       engine.ClientID
	UnitID         engine.UnitID
	Module         engine.ModuleKind
	Amount         engine.Money
	PaymentDate    engine.Date
	Method         string
	Reference      string
	IdempotencyKey string
	CreatedBy      string
}

func (r PaymentRequest) validate() error {
	if r.ClientID == "" {
		return &engine.ValidationError{Field: "clientId", Reason: "is required"}
	}
	if r.UnitID == "" {
		return &engine.ValidationError{Field: "unitId", Reason: "is required"}
	}
	switch r.Module {
	case engine.ModuleHOADues, engine.ModuleWater:
	default:
		return &engine.ValidationError{Field: "module", Reason: fmt.Sprintf("unknown module %q", r.Module)}
	}
	if r.Amount < 0 {
		return &engine.ValidationError{Field: "paymentAmount", Reason: "must not be negative"}
	}
	return nil
}

// Preview is a distribution that has not been persisted.
type Preview struct {
	Distribution *engine.DistributionResult
	Allocations  []engine.Allocation
	Summary      engine.Summary
}

// Receipt is the result of a recorded payment.
type Receipt struct {
	Transaction  engine.PaymentTransaction
	Distribution *engine.DistributionResult
	Summary      engine.Summary
}

// =============================================================================
// PREVIEW / RECORD
// =============================================================================

// Preview distributes a payment without writing anything.
func (s *Service) Preview(ctx context.Context, req PaymentRequest) (*Preview, error) {
	p, err := s.preview(ctx, s.Store, req)
	metrics.ObservePreview(req.Module, err)
	return p, err
}

func (s *Service) preview(ctx context.Context, st engine.Store, req PaymentRequest) (*Preview, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	asOf := s.paymentDate(req)

	cfg, err := st.BillingConfig(ctx, req.ClientID, req.Module)
	if err != nil {
		return nil, fmt.Errorf("billing config %s/%s: %w", req.ClientID, req.Module, err)
	}
	d, err := engine.NewDistributor(cfg)
	if err != nil {
		return nil, err
	}

	bills, err := st.OutstandingBills(ctx, req.UnitID, req.Module)
	if err != nil {
		return nil, err
	}
	credit, err := st.CreditBalance(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}

	r, err := d.Distribute(bills, req.Amount, credit, &asOf)
	if err != nil {
		return nil, err
	}
	allocs := s.Allocations.Build(r, req.UnitID, req.Module)

	return &Preview{
		Distribution: r,
		Allocations:  allocs,
		Summary:      engine.Summarize(allocs, req.Amount),
	}, nil
}

// Record distributes a payment and persists the bill updates, the credit
// change, and the payment transaction in one transaction.
func (s *Service) Record(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	start := time.Now()
	receipt, err := s.record(ctx, req)
	metrics.ObservePayment(req.Module, err, time.Since(start))

	if err != nil {
		s.Logger.Printf("[Payments] Rejected %s/%s amount=%s: %v", req.UnitID, req.Module, req.Amount, err)
		return nil, err
	}
	metrics.AddAllocations(receipt.Transaction.Allocations)
	s.Logger.Printf("[Payments] Recorded %s for %s/%s: %d bill(s), credit %s -> %s",
		receipt.Transaction.ID, req.UnitID, req.Module,
		receipt.Distribution.BillsTouched(), receipt.Transaction.CreditBefore, receipt.Transaction.CreditAfter)
	return receipt, nil
}

func (s *Service) record(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		exists, err := s.Store.PaymentExists(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, engine.ErrDuplicatePayment
		}
	}

	var receipt *Receipt
	err := s.Store.WithTx(ctx, func(st engine.Store) error {
		p, err := s.preview(ctx, st, req)
		if err != nil {
			return err
		}

		report := engine.ValidateAllocations(p.Allocations, req.Amount)
		if !report.Valid {
			return report.Err()
		}
		if !p.Summary.IsValid {
			return p.Summary.Err()
		}

		r := p.Distribution
		txID := s.NewID()

		creditAfter := r.PriorCreditBalance
		if delta := r.CreditDelta(); delta != 0 {
			creditAfter, err = st.AdjustCredit(ctx, req.UnitID, engine.CreditEntry{
				Delta:         delta,
				Module:        req.Module,
				TransactionID: txID,
				Reason:        creditReason(delta),
				At:            s.Now(),
			})
			if err != nil {
				return err
			}
		}

		if updated := r.UpdatedBills(); len(updated) > 0 {
			if err := st.SaveBills(ctx, updated); err != nil {
				return err
			}
		}

		tx := engine.PaymentTransaction{
			ID:             txID,
			ClientID:       req.ClientID,
			UnitID:         req.UnitID,
			Module:         req.Module,
			Amount:         req.Amount,
			PaymentDate:    r.AsOf,
			Method:         req.Method,
			Reference:      req.Reference,
			IdempotencyKey: req.IdempotencyKey,
			Allocations:    p.Allocations,
			CreditBefore:   r.PriorCreditBalance,
			CreditAfter:    creditAfter,
			CreatedBy:      req.CreatedBy,
			CreatedAt:      s.Now().UTC(),
		}
		if err := st.AppendPayment(ctx, tx); err != nil {
			return err
		}

		receipt = &Receipt{Transaction: tx, Distribution: r, Summary: p.Summary}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func creditReason(delta engine.Money) string {
	if delta > 0 {
		return "overpayment"
	}
	return "credit applied to bills"
}

func (s *Service) paymentDate(req PaymentRequest) engine.Date {
	if req.PaymentDate.IsZero() {
		return engine.DateOf(s.Now())
	}
	return req.PaymentDate
}

// =============================================================================
// OUTSTANDING
// =============================================================================

// OutstandingSummary is a unit's open balance for one module as of a date.
type OutstandingSummary struct {
	UnitID          engine.UnitID
	Module          engine.ModuleKind
	AsOf            engine.Date
	Bills           []engine.Bill
	Groups          []engine.GroupPenalty
	TotalBaseDue    engine.Money
	TotalPenaltyDue engine.Money
	TotalDue        engine.Money
	CreditBalance   engine.Money
	NetDue          engine.Money
}

// Outstanding returns unpaid bills with penalties evaluated as of asOf. A zero
// asOf means today. Nothing is persisted.
func (s *Service) Outstanding(ctx context.Context, clientID engine.ClientID, unitID engine.UnitID, module engine.ModuleKind, asOf engine.Date) (*OutstandingSummary, error) {
	if asOf.IsZero() {
		asOf = engine.DateOf(s.Now())
	}

	cfg, err := s.Store.BillingConfig(ctx, clientID, module)
	if err != nil {
		return nil, fmt.Errorf("billing config %s/%s: %w", clientID, module, err)
	}
	pc, err := engine.NewPenaltyCalculator(cfg)
	if err != nil {
		return nil, err
	}

	bills, err := s.Store.OutstandingBills(ctx, unitID, module)
	if err != nil {
		return nil, err
	}
	assessment, err := pc.Assess(bills, asOf)
	if err != nil {
		return nil, err
	}
	credit, err := s.Store.CreditBalance(ctx, unitID)
	if err != nil {
		return nil, err
	}

	sum := &OutstandingSummary{
		UnitID:        unitID,
		Module:        module,
		AsOf:          asOf,
		Bills:         assessment.Bills,
		Groups:        assessment.Groups,
		CreditBalance: credit,
	}
	for _, b := range assessment.Bills {
		sum.TotalBaseDue += b.UnpaidBase()
		sum.TotalPenaltyDue += b.UnpaidPenalty()
	}
	sum.TotalDue = sum.TotalBaseDue + sum.TotalPenaltyDue
	sum.NetDue = (sum.TotalDue - credit).Max(0)
	return sum, nil
}

// =============================================================================
// PENALTY REFRESH
// =============================================================================

// RefreshReport summarizes a batch penalty refresh.
type RefreshReport struct {
	ClientID     engine.ClientID
	Module       engine.ModuleKind
	AsOf         engine.Date
	Units        int
	BillsUpdated int
	PenaltyDelta engine.Money
	Failed       map[engine.UnitID]string
}

// RefreshPenalties recalculates and persists penalties for every unit of a
// client with outstanding bills in module. Each unit is refreshed in its own
// transaction; a failing unit is reported and the rest continue.
func (s *Service) RefreshPenalties(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind, asOf engine.Date) (*RefreshReport, error) {
	start := time.Now()
	report, err := s.refreshPenalties(ctx, clientID, module, asOf)

	updated := 0
	if report != nil {
		updated = report.BillsUpdated
	}
	metrics.ObservePenaltyRefresh(module, updated, err, time.Since(start))
	return report, err
}

func (s *Service) refreshPenalties(ctx context.Context, clientID engine.ClientID, module engine.ModuleKind, asOf engine.Date) (*RefreshReport, error) {
	if asOf.IsZero() {
		asOf = engine.DateOf(s.Now())
	}

	cfg, err := s.Store.BillingConfig(ctx, clientID, module)
	if err != nil {
		return nil, fmt.Errorf("billing config %s/%s: %w", clientID, module, err)
	}
	pc, err := engine.NewPenaltyCalculator(cfg)
	if err != nil {
		return nil, err
	}

	units, err := s.Store.UnitsWithOutstanding(ctx, clientID, module)
	if err != nil {
		return nil, err
	}

	report := &RefreshReport{ClientID: clientID, Module: module, AsOf: asOf, Failed: map[engine.UnitID]string{}}
	var errs []error
	for _, unitID := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var changed int
		var delta engine.Money
		err := s.Store.WithTx(ctx, func(st engine.Store) error {
			bills, err := st.OutstandingBills(ctx, unitID, module)
			if err != nil {
				return err
			}
			refreshed, err := pc.Recalculate(bills, asOf)
			if err != nil {
				return err
			}

			var dirty []engine.Bill
			for i, b := range refreshed {
				if b.PenaltyAmount != bills[i].PenaltyAmount {
					delta += b.PenaltyAmount - bills[i].PenaltyAmount
					dirty = append(dirty, b)
				}
			}
			changed = len(dirty)
			if changed == 0 {
				return nil
			}
			return st.SaveBills(ctx, dirty)
		})
		if err != nil {
			s.Logger.Printf("[Payments] Penalty refresh failed for %s/%s: %v", unitID, module, err)
			report.Failed[unitID] = err.Error()
			errs = append(errs, fmt.Errorf("unit %s: %w", unitID, err))
			continue
		}

		report.Units++
		report.BillsUpdated += changed
		report.PenaltyDelta += delta
	}

	s.Logger.Printf("[Payments] Penalty refresh %s/%s as of %s: %d unit(s), %d bill(s) updated, %d failed",
		clientID, module, asOf, report.Units, report.BillsUpdated, len(report.Failed))
	return report, errors.Join(errs...)
}

// =============================================================================
// INGEST / CONFIG
// =============================================================================

// SaveBills stores bills for one unit. Every bill must belong to unitID.
func (s *Service) SaveBills(ctx context.Context, unitID engine.UnitID, bills []engine.Bill) error {
	for i := range bills {
		if bills[i].UnitID == "" {
			bills[i].UnitID = unitID
		}
		if bills[i].UnitID != unitID {
			return &engine.ValidationError{Field: "bill.unitId", Reason: fmt.Sprintf("bill %s belongs to %s", bills[i].ID, bills[i].UnitID)}
		}
	}
	return s.Store.SaveBills(ctx, bills)
}

// SetConfig validates and stores a billing config.
func (s *Service) SetConfig(ctx context.Context, cfg engine.BillingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.Store.SaveBillingConfig(ctx, cfg); err != nil {
		return err
	}
	s.Logger.Printf("[Payments] Billing config updated for %s/%s", cfg.ClientID, cfg.Module)
	return nil
}

// Credit returns a unit's credit balance with its history.
func (s *Service) Credit(ctx context.Context, unitID engine.UnitID) (engine.CreditBalance, error) {
	bal, err := s.Store.CreditBalance(ctx, unitID)
	if err != nil {
		return engine.CreditBalance{}, err
	}
	history, err := s.Store.CreditHistory(ctx, unitID)
	if err != nil {
		return engine.CreditBalance{}, err
	}
	return engine.CreditBalance{UnitID: unitID, Balance: bal, History: history}, nil
}

// Payments lists a unit's recorded payments.
func (s *Service) Payments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentTransaction, error) {
	return s.Store.Payments(ctx, unitID)
}
