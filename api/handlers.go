/*
handlers.go - HTTP API handlers for the payment distribution engine

PURPOSE:

	Exposes the payments service via REST API. Handles HTTP request/response,
	JSON serialization, and major/minor unit conversion, and delegates to
	payments.Service.

ENDPOINTS:

	Bills:
	  GET    /api/units/{unitID}/bills             Outstanding bills with penalties as of a date
	  POST   /api/units/{unitID}/bills             Ingest bills from the billing generator

	Payments:
	  POST   /api/units/{unitID}/payments/preview  Distribute without persisting
	  POST   /api/units/{unitID}/payments          Record a payment
	  GET    /api/units/{unitID}/payments          Payment history

	Credit:
	  GET    /api/units/{unitID}/credit            Credit balance and history

	Config:
	  PUT    /api/config/{clientID}/{module}       Set penalty and calendar settings

	Admin:
	  POST   /api/admin/penalties/recalculate      Batch penalty refresh

ERROR HANDLING:

	Errors are returned as JSON with appropriate HTTP status:
	- 400: Validation errors, invalid input, bad config documents
	- 404: Billing config or unit not found
	- 409: Duplicate idempotency key
	- 422: Allocations did not reconcile with the payment
	- 500: Stored config unusable, internal errors

SECURITY NOTE:

	No authentication or authorization. Deploy behind the association
	portal's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - payments/service.go: Operations
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/factory"
	"github.com/warp/dues-engine/payments"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Payments      *payments.Service
	ConfigFactory *factory.ConfigFactory

	// Demo enables the scenario endpoints when set.
	Demo DemoStore
}

// NewHandler creates a new handler over the payments service.
func NewHandler(svc *payments.Service) *Handler {
	return &Handler{
		Payments:      svc,
		ConfigFactory: factory.NewConfigFactory(),
	}
}

// =============================================================================
// BILL ENDPOINTS
// =============================================================================

// GetBills returns outstanding bills for a unit and module. Query parameters:
// client_id and module (required), as_of (optional, YYYY-MM-DD).
func (h *Handler) GetBills(w http.ResponseWriter, r *http.Request) {
	unitID := engine.UnitID(chi.URLParam(r, "unitID"))
	q := r.URL.Query()

	clientID := q.Get("client_id")
	module := q.Get("module")
	if clientID == "" || module == "" {
		writeError(w, http.StatusBadRequest, "client_id and module are required", nil)
		return
	}

	var asOf engine.Date
	if s := q.Get("as_of"); s != "" {
		d, err := engine.ParseDate(s)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		asOf = d
	}

	sum, err := h.Payments.Outstanding(r.Context(), engine.ClientID(clientID), unitID, engine.ModuleKind(module), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutstandingDTO(sum))
}

// CreateBills ingests bills for a unit. Existing bills with the same id are
// replaced.
func (h *Handler) CreateBills(w http.ResponseWriter, r *http.Request) {
	unitID := engine.UnitID(chi.URLParam(r, "unitID"))

	var req CreateBillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Bills) == 0 {
		writeError(w, http.StatusBadRequest, "At least one bill is required", nil)
		return
	}

	bills := make([]engine.Bill, 0, len(req.Bills))
	for _, in := range req.Bills {
		b, err := in.toBill(unitID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		bills = append(bills, b)
	}

	if err := h.Payments.SaveBills(r.Context(), unitID, bills); err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]BillDTO, 0, len(bills))
	for _, b := range bills {
		dtos = append(dtos, toBillDTO(b))
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// PreviewPayment distributes a payment without writing anything.
func (h *Handler) PreviewPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePaymentRequest(w, r)
	if !ok {
		return
	}

	p, err := h.Payments.Preview(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTO(p.Distribution, p.Allocations, p.Summary))
}

// RecordPayment records a payment. A reused idempotency_key returns 409.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePaymentRequest(w, r)
	if !ok {
		return
	}

	receipt, err := h.Payments.Record(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReceiptDTO{
		TransactionID:   receipt.Transaction.ID,
		DistributionDTO: toDistributionDTO(receipt.Distribution, receipt.Transaction.Allocations, receipt.Summary),
	})
}

// ListPayments returns a unit's recorded payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	unitID := engine.UnitID(chi.URLParam(r, "unitID"))

	txs, err := h.Payments.Payments(r.Context(), unitID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func decodePaymentRequest(w http.ResponseWriter, r *http.Request) (payments.PaymentRequest, bool) {
	unitID := engine.UnitID(chi.URLParam(r, "unitID"))

	var dto PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return payments.PaymentRequest{}, false
	}
	req, err := dto.toRequest(unitID)
	if err != nil {
		writeEngineError(w, err)
		return req, false
	}
	return req, true
}

// =============================================================================
// CREDIT / CONFIG / ADMIN ENDPOINTS
// =============================================================================

// GetCredit returns a unit's credit balance and history.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	unitID := engine.UnitID(chi.URLParam(r, "unitID"))

	c, err := h.Payments.Credit(r.Context(), unitID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// PutConfig replaces the billing config for a client and module. The body
// is a factory.ConfigJSON document; client and module come from the path.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, err := h.ConfigFactory.ParseConfigBytes(body)
	if err != nil {
		// A rejected document is the caller's fault here
		var cErr *engine.ConfigurationError
		if errors.As(err, &cErr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid billing config", Field: cErr.Field, Details: err.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid billing config", err)
		return
	}
	cfg.ClientID = engine.ClientID(chi.URLParam(r, "clientID"))
	cfg.Module = engine.ModuleKind(chi.URLParam(r, "module"))

	if err := h.Payments.SetConfig(r.Context(), cfg); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ConfigFactory.ToJSON(cfg))
}

// RecalculatePenalties runs a batch penalty refresh for a client and module.
func (h *Handler) RecalculatePenalties(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" || req.Module == "" {
		writeError(w, http.StatusBadRequest, "client_id and module are required", nil)
		return
	}

	var asOf engine.Date
	if req.AsOf != "" {
		d, err := engine.ParseDate(req.AsOf)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		asOf = d
	}

	report, err := h.Payments.RefreshPenalties(r.Context(), engine.ClientID(req.ClientID), engine.ModuleKind(req.Module), asOf)
	if report == nil {
		writeEngineError(w, err)
		return
	}
	// Per-unit failures are listed in the report
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, toRefreshReportDTO(report))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		vErr *engine.ValidationError
		cErr *engine.ConfigurationError
	)

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Field: vErr.Field, Details: err.Error()})
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, "Payment already recorded", err)
	case errors.Is(err, engine.ErrIntegrity):
		writeError(w, http.StatusUnprocessableEntity, "Allocations do not reconcile", err)
	case errors.As(err, &cErr):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Billing config is unusable", Field: cErr.Field, Details: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
