/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. These types decouple
	the engine's minor-unit Money from the external contract, which speaks
	major-unit decimals ("450.00" or 450.00).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:

	Bills:    BillDTO, BillInput, CreateBillsRequest, OutstandingDTO
	Payments: PaymentRequestDTO, DistributionDTO, ReceiptDTO, TransactionDTO
	Credit:   CreditDTO, CreditEntryDTO
	Admin:    RecalculateRequest, RefreshReportDTO

AMOUNTS:

	Every amount crosses the boundary as decimal.Decimal and is converted with
	engine.MoneyFromMajor / Money.Major. The engine never sees a float amount.

VALIDATION:

	Validation is done in handlers and the engine, not in DTOs. DTOs are pure
	data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: ConfigJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/payments"
)

// =============================================================================
// BILLS
// =============================================================================

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id"`
	UnitID        string          `json:"unit_id"`
	Module        string          `json:"module"`
	Period        string          `json:"period"`
	DueDate       string          `json:"due_date,omitempty"`
	BaseCharge    decimal.Decimal `json:"base_charge"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
	PaidBase      decimal.Decimal `json:"paid_base"`
	PaidPenalty   decimal.Decimal `json:"paid_penalty"`
	UnpaidTotal   decimal.Decimal `json:"unpaid_total"`
	Status        string          `json:"status"`
}

// BillInput is one bill in a CreateBillsRequest.
type BillInput struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id"`
	Module        string          `json:"module"`
	Period        string          `json:"period"`
	DueDate       string          `json:"due_date,omitempty"`
	BaseCharge    decimal.Decimal `json:"base_charge"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
	PaidBase      decimal.Decimal `json:"paid_base"`
	PaidPenalty   decimal.Decimal `json:"paid_penalty"`
}

// CreateBillsRequest is the bill ingest body.
type CreateBillsRequest struct {
	Bills []BillInput `json:"bills"`
}

// GroupPenaltyDTO is one due-date group in an outstanding summary.
type GroupPenaltyDTO struct {
	DueDate         string          `json:"due_date"`
	BillIDs         []string        `json:"bill_ids"`
	UnpaidPrincipal decimal.Decimal `json:"unpaid_principal"`
	MonthsOverdue   int             `json:"months_overdue"`
	Penalty         decimal.Decimal `json:"penalty"`
	AssignedPenalty decimal.Decimal `json:"assigned_penalty"`
}

// OutstandingDTO is a unit's open balance for one module.
type OutstandingDTO struct {
	UnitID          string            `json:"unit_id"`
	Module          string            `json:"module"`
	AsOf            string            `json:"as_of"`
	Bills           []BillDTO         `json:"bills"`
	Groups          []GroupPenaltyDTO `json:"groups"`
	TotalBaseDue    decimal.Decimal   `json:"total_base_due"`
	TotalPenaltyDue decimal.Decimal   `json:"total_penalty_due"`
	TotalDue        decimal.Decimal   `json:"total_due"`
	CreditBalance   decimal.Decimal   `json:"credit_balance"`
	NetDue          decimal.Decimal   `json:"net_due"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequestDTO is the body for preview and record.
type PaymentRequestDTO struct {
	ClientID       string          `json:"client_id"`
	Module         string          `json:"module"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    string          `json:"payment_date,omitempty"`
	Method         string          `json:"method,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
}

// BillPaymentDTO is the effect of a payment on one bill.
type BillPaymentDTO struct {
	BillID        string          `json:"bill_id"`
	Period        string          `json:"period"`
	DueDate       string          `json:"due_date"`
	UnpaidBase    decimal.Decimal `json:"unpaid_base"`
	UnpaidPenalty decimal.Decimal `json:"unpaid_penalty"`
	BasePaid      decimal.Decimal `json:"base_paid"`
	PenaltyPaid   decimal.Decimal `json:"penalty_paid"`
	StatusBefore  string          `json:"status_before"`
	Status        string          `json:"status"`
}

// AllocationDTO is one ledger line.
type AllocationDTO struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	TargetBillID *string         `json:"target_bill_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Category     string          `json:"category"`
	Description  string          `json:"description,omitempty"`
}

// SummaryDTO is the allocation reconciliation result.
type SummaryDTO struct {
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	ExpectedTotal  decimal.Decimal `json:"expected_total"`
	Difference     decimal.Decimal `json:"difference"`
	BillsTouched   int             `json:"bills_touched"`
	IsValid        bool            `json:"is_valid"`
}

// DistributionDTO is a preview or the distribution part of a receipt.
type DistributionDTO struct {
	AsOf               string           `json:"as_of,omitempty"`
	PaymentAmount      decimal.Decimal  `json:"payment_amount"`
	PriorCreditBalance decimal.Decimal  `json:"prior_credit_balance"`
	TotalAvailable     decimal.Decimal  `json:"total_available"`
	TotalBillsDue      decimal.Decimal  `json:"total_bills_due"`
	TotalBasePaid      decimal.Decimal  `json:"total_base_paid"`
	TotalPenaltyPaid   decimal.Decimal  `json:"total_penalty_paid"`
	CreditUsed         decimal.Decimal  `json:"credit_used"`
	Overpayment        decimal.Decimal  `json:"overpayment"`
	NewCreditBalance   decimal.Decimal  `json:"new_credit_balance"`
	BillPayments       []BillPaymentDTO `json:"bill_payments"`
	Allocations        []AllocationDTO  `json:"allocations"`
	Summary            SummaryDTO       `json:"summary"`
}

// ReceiptDTO is the response to a recorded payment.
type ReceiptDTO struct {
	TransactionID string `json:"transaction_id"`
	DistributionDTO
}

// TransactionDTO is a recorded payment in history listings.
type TransactionDTO struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"client_id"`
	UnitID         string          `json:"unit_id"`
	Module         string          `json:"module"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    string          `json:"payment_date"`
	Method         string          `json:"method,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreditBefore   decimal.Decimal `json:"credit_before"`
	CreditAfter    decimal.Decimal `json:"credit_after"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      string          `json:"created_at"`
	Allocations    []AllocationDTO `json:"allocations"`
}

// =============================================================================
// CREDIT / ADMIN
// =============================================================================

// CreditEntryDTO is one credit history entry.
type CreditEntryDTO struct {
	Delta         decimal.Decimal `json:"delta"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Module        string          `json:"module,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	At            string          `json:"at"`
}

// CreditDTO is a unit's credit balance with history.
type CreditDTO struct {
	UnitID  string           `json:"unit_id"`
	Balance decimal.Decimal  `json:"balance"`
	History []CreditEntryDTO `json:"history"`
}

// RecalculateRequest triggers a batch penalty refresh.
type RecalculateRequest struct {
	ClientID string `json:"client_id"`
	Module   string `json:"module"`
	AsOf     string `json:"as_of,omitempty"`
}

// RefreshReportDTO is the result of a batch penalty refresh.
type RefreshReportDTO struct {
	ClientID     string            `json:"client_id"`
	Module       string            `json:"module"`
	AsOf         string            `json:"as_of"`
	Units        int               `json:"units"`
	BillsUpdated int               `json:"bills_updated"`
	PenaltyDelta decimal.Decimal   `json:"penalty_delta"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBillDTO(b engine.Bill) BillDTO {
	return BillDTO{
		ID:            string(b.ID),
		ClientID:      string(b.ClientID),
		UnitID:        string(b.UnitID),
		Module:        string(b.Module),
		Period:        b.Period.String(),
		DueDate:       b.DueDate.String(),
		BaseCharge:    b.BaseCharge.Major(),
		PenaltyAmount: b.PenaltyAmount.Major(),
		PaidBase:      b.PaidBase.Major(),
		PaidPenalty:   b.PaidPenalty.Major(),
		UnpaidTotal:   b.UnpaidTotal().Major(),
		Status:        string(b.Status()),
	}
}

func (in BillInput) toBill(unitID engine.UnitID) (engine.Bill, error) {
	period, err := engine.ParsePeriodKey(in.Period)
	if err != nil {
		return engine.Bill{}, err
	}
	b := engine.Bill{
		ID:       engine.BillID(in.ID),
		ClientID: engine.ClientID(in.ClientID),
		UnitID:   unitID,
		Module:   engine.ModuleKind(in.Module),
		Period:   period,
	}
	amounts := []struct {
		in    decimal.Decimal
		field string
		dst   *engine.Money
	}{
		{in.BaseCharge, "bill.baseCharge", &b.BaseCharge},
		{in.PenaltyAmount, "bill.penaltyAmount", &b.PenaltyAmount},
		{in.PaidBase, "bill.paidBase", &b.PaidBase},
		{in.PaidPenalty, "bill.paidPenalty", &b.PaidPenalty},
	}
	for _, a := range amounts {
		if *a.dst, err = engine.MoneyFromMajor(a.in, a.field); err != nil {
			return engine.Bill{}, err
		}
	}
	if in.DueDate != "" {
		if b.DueDate, err = engine.ParseDate(in.DueDate); err != nil {
			return engine.Bill{}, err
		}
	}
	return b, b.Validate()
}

func (req PaymentRequestDTO) toRequest(unitID engine.UnitID) (payments.PaymentRequest, error) {
	pr := payments.PaymentRequest{
		ClientID:       engine.ClientID(req.ClientID),
		UnitID:         unitID,
		Module:         engine.ModuleKind(req.Module),
		Method:         req.Method,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
	}
	amount, err := engine.MoneyFromMajor(req.Amount, "paymentAmount")
	if err != nil {
		return pr, err
	}
	pr.Amount = amount
	if req.PaymentDate != "" {
		d, err := engine.ParseDate(req.PaymentDate)
		if err != nil {
			return pr, err
		}
		pr.PaymentDate = d
	}
	return pr, nil
}

func toAllocationDTOs(allocs []engine.Allocation) []AllocationDTO {
	out := make([]AllocationDTO, 0, len(allocs))
	for _, a := range allocs {
		dto := AllocationDTO{
			ID:          a.ID,
			Kind:        string(a.Kind),
			Amount:      a.Amount.Major(),
			Category:    a.Category,
			Description: a.Description,
		}
		if a.TargetBillID != nil {
			id := string(*a.TargetBillID)
			dto.TargetBillID = &id
		}
		out = append(out, dto)
	}
	return out
}

func toDistributionDTO(r *engine.DistributionResult, allocs []engine.Allocation, s engine.Summary) DistributionDTO {
	dto := DistributionDTO{
		AsOf:               r.AsOf.String(),
		PaymentAmount:      r.PaymentAmount.Major(),
		PriorCreditBalance: r.PriorCreditBalance.Major(),
		TotalAvailable:     r.TotalAvailable.Major(),
		TotalBillsDue:      r.TotalBillsDue.Major(),
		TotalBasePaid:      r.TotalBasePaid.Major(),
		TotalPenaltyPaid:   r.TotalPenaltyPaid.Major(),
		CreditUsed:         r.CreditUsed.Major(),
		Overpayment:        r.Overpayment.Major(),
		NewCreditBalance:   r.NewCreditBalance.Major(),
		BillPayments:       make([]BillPaymentDTO, 0, len(r.Payments)),
		Allocations:        toAllocationDTOs(allocs),
		Summary: SummaryDTO{
			TotalAllocated: s.TotalAllocated.Major(),
			ExpectedTotal:  s.ExpectedTotal.Major(),
			Difference:     s.Difference.Major(),
			BillsTouched:   s.BillsTouched,
			IsValid:        s.IsValid,
		},
	}
	for _, p := range r.Payments {
		dto.BillPayments = append(dto.BillPayments, BillPaymentDTO{
			BillID:        string(p.BillID),
			Period:        p.Period.String(),
			DueDate:       p.DueDate.String(),
			UnpaidBase:    p.UnpaidBase.Major(),
			UnpaidPenalty: p.UnpaidPenalty.Major(),
			BasePaid:      p.BasePaid.Major(),
			PenaltyPaid:   p.PenaltyPaid.Major(),
			StatusBefore:  string(p.StatusBefore),
			Status:        string(p.Status),
		})
	}
	return dto
}

func toTransactionDTO(tx engine.PaymentTransaction) TransactionDTO {
	return TransactionDTO{
		ID:             tx.ID,
		ClientID:       string(tx.ClientID),
		UnitID:         string(tx.UnitID),
		Module:         string(tx.Module),
		Amount:         tx.Amount.Major(),
		PaymentDate:    tx.PaymentDate.String(),
		Method:         tx.Method,
		Reference:      tx.Reference,
		IdempotencyKey: tx.IdempotencyKey,
		CreditBefore:   tx.CreditBefore.Major(),
		CreditAfter:    tx.CreditAfter.Major(),
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		Allocations:    toAllocationDTOs(tx.Allocations),
	}
}

func toOutstandingDTO(s *payments.OutstandingSummary) OutstandingDTO {
	dto := OutstandingDTO{
		UnitID:          string(s.UnitID),
		Module:          string(s.Module),
		AsOf:            s.AsOf.String(),
		Bills:           make([]BillDTO, 0, len(s.Bills)),
		Groups:          make([]GroupPenaltyDTO, 0, len(s.Groups)),
		TotalBaseDue:    s.TotalBaseDue.Major(),
		TotalPenaltyDue: s.TotalPenaltyDue.Major(),
		TotalDue:        s.TotalDue.Major(),
		CreditBalance:   s.CreditBalance.Major(),
		NetDue:          s.NetDue.Major(),
	}
	for _, b := range s.Bills {
		dto.Bills = append(dto.Bills, toBillDTO(b))
	}
	for _, g := range s.Groups {
		ids := make([]string, len(g.BillIDs))
		for i, id := range g.BillIDs {
			ids[i] = string(id)
		}
		dto.Groups = append(dto.Groups, GroupPenaltyDTO{
			DueDate:         g.DueDate.String(),
			BillIDs:         ids,
			UnpaidPrincipal: g.UnpaidPrincipal.Major(),
			MonthsOverdue:   g.MonthsOverdue,
			Penalty:         g.Penalty.Major(),
			AssignedPenalty: g.Assigned.Major(),
		})
	}
	return dto
}

func toCreditDTO(c engine.CreditBalance) CreditDTO {
	dto := CreditDTO{
		UnitID:  string(c.UnitID),
		Balance: c.Balance.Major(),
		History: make([]CreditEntryDTO, 0, len(c.History)),
	}
	for _, e := range c.History {
		dto.History = append(dto.History, CreditEntryDTO{
			Delta:         e.Delta.Major(),
			BalanceAfter:  e.BalanceAfter.Major(),
			Module:        string(e.Module),
			TransactionID: e.TransactionID,
			Reason:        e.Reason,
			At:            e.At.Format(time.RFC3339),
		})
	}
	return dto
}

func toRefreshReportDTO(r *payments.RefreshReport) RefreshReportDTO {
	dto := RefreshReportDTO{
		ClientID:     string(r.ClientID),
		Module:       string(r.Module),
		AsOf:         r.AsOf.String(),
		Units:        r.Units,
		BillsUpdated: r.BillsUpdated,
		PenaltyDelta: r.PenaltyDelta.Major(),
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for u, msg := range r.Failed {
			dto.Failed[string(u)] = msg
		}
	}
	return dto
}
