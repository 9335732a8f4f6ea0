package payment

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/httpx"
)

// Handler exposes payment approval and ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/{id}/payment-approval", h.approve)
	r.Post("/invoices/{id}/payment-rejection", h.reject)
	r.Get("/payment-approvals/{id}", h.ledger)
	r.Post("/payment-approvals/{id}/transactions", h.recordPayment)
	r.Post("/payment-approvals/{id}/done", h.markDone)
}

type approveRequest struct {
	BankAccountName   string `json:"bankAccountName"`
	BankAccountNumber string `json:"bankAccountNumber" validate:"omitempty,numeric"`
	BankIFSC          string `json:"bankIfsc" validate:"omitempty,alphanum,len=11"`
	BankName          string `json:"bankName"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type paymentRequest struct {
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Notes       string           `json:"notes" validate:"max=500"`
	PaymentType string           `json:"paymentType" validate:"omitempty,oneof=NEFT RTGS IMPS CHEQUE CASH UPI"`
	Reference   string           `json:"reference"`
}

type markDoneRequest struct {
	Notes       string `json:"notes" validate:"max=500"`
	PaymentType string `json:"paymentType" validate:"omitempty,oneof=NEFT RTGS IMPS CHEQUE CASH UPI"`
	Reference   string `json:"reference"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	approval, err := h.service.Approve(r.Context(), id, ApproveInput{Bank: BankDetails{
		AccountName:   strings.TrimSpace(req.BankAccountName),
		AccountNumber: req.BankAccountNumber,
		IFSC:          strings.ToUpper(req.BankIFSC),
		BankName:      strings.TrimSpace(req.BankName),
	}})
	if err != nil {
		h.fail(w, "approve payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, approval)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	approval, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, "reject payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, approval)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecordPayment(r.Context(), id, PaymentInput{
		Amount:         *req.Amount,
		Notes:          req.Notes,
		PaymentType:    req.PaymentType,
		Reference:      req.Reference,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.fail(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) markDone(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req markDoneRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.MarkDone(r.Context(), id, MarkDoneInput(req))
	if err != nil {
		h.fail(w, "mark payment done", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ledger, err := h.service.GetLedger(r.Context(), id)
	if err != nil {
		h.fail(w, "payment ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
