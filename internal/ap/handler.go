package ap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// Handler exposes invoice reconciliation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.saveInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/validation", h.classify)
	r.Post("/invoices/{id}/validate", h.validate)
	r.Post("/invoices/{id}/resolve", h.resolve)
	r.Post("/invoices/{id}/proceed-to-payment", h.proceedToPayment)
	r.Post("/invoices/{id}/debit-note", h.moveToDebitNote)
	r.Post("/invoices/{id}/debit-note/approve", h.approveDebitNote)
	r.Post("/invoices/{id}/exception/approve", h.approveException)
}

type invoiceLineRequest struct {
	ItemName     string          `json:"itemName" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Rate         decimal.Decimal `json:"rate"`
	TaxableValue decimal.Decimal `json:"taxableValue"`
	CGSTAmount   decimal.Decimal `json:"cgstAmount"`
	SGSTAmount   decimal.Decimal `json:"sgstAmount"`
	Amount       decimal.Decimal `json:"amount"`
}

type saveInvoiceRequest struct {
	InvoiceNumber string               `json:"invoiceNumber" validate:"required"`
	InvoiceDate   string               `json:"invoiceDate" validate:"omitempty,datetime=2006-01-02"`
	SupplierID    int64                `json:"supplierId" validate:"gte=0"`
	POID          *int64               `json:"poId" validate:"omitempty,gt=0"`
	PONumber      string               `json:"poNumber"`
	TotalAmount   decimal.Decimal      `json:"totalAmount"`
	TaxAmount     decimal.Decimal      `json:"taxAmount"`
	Items         []invoiceLineRequest `json:"items" validate:"required,min=1,dive"`
}

type resolveRequest struct {
	Action string `json:"action" validate:"required"`
}

type debitNoteRequest struct {
	DebitNoteValue *decimal.Decimal `json:"debitNoteValue" validate:"required"`
}

func (h *Handler) saveInvoice(w http.ResponseWriter, r *http.Request) {
	var req saveInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SaveInvoiceInput{
		Number:      req.InvoiceNumber,
		SupplierID:  req.SupplierID,
		POID:        req.POID,
		PONumber:    req.PONumber,
		TotalAmount: req.TotalAmount,
		TaxAmount:   req.TaxAmount,
	}
	if req.InvoiceDate != "" {
		date, err := time.Parse("2006-01-02", req.InvoiceDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invoiceDate: %w", shared.ErrValidation))
			return
		}
		input.Date = date
	}
	for _, item := range req.Items {
		input.Lines = append(input.Lines, InvoiceLineInput{
			ItemName:     item.ItemName,
			BilledQty:    item.Quantity,
			Rate:         item.Rate,
			TaxableValue: item.TaxableValue,
			CGSTAmount:   item.CGSTAmount,
			SGSTAmount:   item.SGSTAmount,
			LineTotal:    item.Amount,
		})
	}
	res, err := h.service.SaveInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, "save invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetInvoiceDetail(r.Context(), id)
	if err != nil {
		h.fail(w, "invoice detail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.ValidateInvoiceAgainstPOGRN(r.Context(), id)
	if err != nil {
		h.fail(w, "classify invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ValidateAndUpdateInvoiceStatus(r.Context(), id)
	if err != nil {
		h.fail(w, "validate invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ResolveMismatch(r.Context(), id, ResolutionAction(req.Action))
	if err != nil {
		h.fail(w, "resolve invoice mismatch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) proceedToPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "proceed to payment", h.service.ProceedToPaymentFromMismatch)
}

func (h *Handler) moveToDebitNote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "move to debit note", h.service.MoveToDebitNoteApproval)
}

func (h *Handler) approveException(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve exception", h.service.ExceptionApprove)
}

func (h *Handler) approveDebitNote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req debitNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.DebitNoteApprove(r.Context(), id, *req.DebitNoteValue)
	if err != nil {
		h.fail(w, "approve debit note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) (TransitionResult, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
