// Package ap reconciles supplier invoices against purchase orders and receipts and drives the
// invoice status workflow up to payment.
package ap

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// InvoiceStatus is the invoice workflow state.
type InvoiceStatus string

const (
	InvoiceStatusWaitingForValidation   InvoiceStatus = "waiting_for_validation"
	InvoiceStatusWaitingForReValidation InvoiceStatus = "waiting_for_re_validation"
	InvoiceStatusDebitNoteApproval      InvoiceStatus = "debit_note_approval"
	InvoiceStatusExceptionApproval      InvoiceStatus = "exception_approval"
	InvoiceStatusValidated              InvoiceStatus = "validated"
	InvoiceStatusReadyForPayment        InvoiceStatus = "ready_for_payment"
	InvoiceStatusPartiallyPaid          InvoiceStatus = "partially_paid"
	InvoiceStatusPaid                   InvoiceStatus = "paid"
	InvoiceStatusRejected               InvoiceStatus = "rejected"
)

var reviewTargets = []InvoiceStatus{
	InvoiceStatusValidated,
	InvoiceStatusWaitingForReValidation,
	InvoiceStatusDebitNoteApproval,
	InvoiceStatusExceptionApproval,
}

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusWaitingForValidation:   reviewTargets,
	InvoiceStatusWaitingForReValidation: reviewTargets,
	InvoiceStatusDebitNoteApproval:      {InvoiceStatusValidated},
	InvoiceStatusExceptionApproval:      {InvoiceStatusValidated},
	InvoiceStatusValidated:              {InvoiceStatusReadyForPayment, InvoiceStatusRejected},
	InvoiceStatusReadyForPayment:        {InvoiceStatusPartiallyPaid, InvoiceStatusPaid, InvoiceStatusRejected},
	InvoiceStatusPartiallyPaid:          {InvoiceStatusPartiallyPaid, InvoiceStatusPaid},
	InvoiceStatusPaid:                   nil,
	InvoiceStatusRejected:               nil,
}

// IsValid reports whether s belongs to the invoice vocabulary.
func (s InvoiceStatus) IsValid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

// CanTransitionTo checks the invoice transition table.
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s InvoiceStatus) Terminal() bool {
	return s.IsValid() && len(invoiceTransitions[s]) == 0
}

// Invoice is a supplier invoice header.
type Invoice struct {
	ID               int64               `json:"id"`
	Number           string              `json:"invoiceNumber"`
	Date             time.Time           `json:"invoiceDate"`
	SupplierID       int64               `json:"supplierId"`
	POID             *int64              `json:"poId,omitempty"`
	Status           InvoiceStatus       `json:"status"`
	PaymentDueDate   *time.Time          `json:"paymentDueDate,omitempty"`
	DebitNoteValue   decimal.NullDecimal `json:"debitNoteValue"`
	TotalAmount      decimal.Decimal     `json:"totalAmount"`
	TaxAmount        decimal.Decimal     `json:"taxAmount"`
	ValidationReason string              `json:"validationReason,omitempty"`
	ThisInvQty       decimal.NullDecimal `json:"thisInvQty"`
	POQty            decimal.NullDecimal `json:"poQty"`
	GRNQty           decimal.NullDecimal `json:"grnQty"`
}

// EffectiveTotal is the amount payable: the debit-note value when one was approved.
func (inv Invoice) EffectiveTotal() decimal.Decimal {
	if inv.DebitNoteValue.Valid {
		return inv.DebitNoteValue.Decimal
	}
	return inv.TotalAmount
}

// InvoiceLine carries billed quantity and tax breakdown.
type InvoiceLine struct {
	ID           int64           `json:"id"`
	InvoiceID    int64           `json:"invoiceId"`
	POLineID     *int64          `json:"poLineId,omitempty"`
	ItemName     string          `json:"itemName"`
	BilledQty    decimal.Decimal `json:"billedQty"`
	Rate         decimal.Decimal `json:"rate"`
	TaxableValue decimal.Decimal `json:"taxableValue"`
	CGSTAmount   decimal.Decimal `json:"cgstAmount"`
	SGSTAmount   decimal.Decimal `json:"sgstAmount"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
}

// Classification is the verdict on one invoice against its PO and receipts.
type Classification struct {
	Valid              bool             `json:"valid"`
	Reason             string           `json:"reason,omitempty"`
	POAlreadyFulfilled bool             `json:"poAlreadyFulfilled,omitempty"`
	IsShortfall        bool             `json:"isShortfall,omitempty"`
	ThisInvQty         *decimal.Decimal `json:"thisInvQty,omitempty"`
	POQty              *decimal.Decimal `json:"poQty,omitempty"`
	GRNQty             *decimal.Decimal `json:"grnQty,omitempty"`
}

// ValidationAction names the branch validateAndUpdate took.
type ValidationAction string

const (
	ActionException ValidationAction = "exception"
	ActionShortfall ValidationAction = "shortfall"
	ActionValidated ValidationAction = "validated"
)

// ValidationOutcome is returned by ValidateAndUpdateInvoiceStatus.
type ValidationOutcome struct {
	Action                  ValidationAction     `json:"action"`
	InvoiceStatus           InvoiceStatus        `json:"invoiceStatus,omitempty"`
	PaymentDueDate          *time.Time           `json:"paymentDueDate,omitempty"`
	POStatus                procurement.POStatus `json:"poStatus,omitempty"`
	ValidationFailureReason string               `json:"validationFailureReason,omitempty"`
	ThisInvQty              *decimal.Decimal     `json:"thisInvQty,omitempty"`
	POQty                   *decimal.Decimal     `json:"poQty,omitempty"`
	GRNQty                  *decimal.Decimal     `json:"grnQty,omitempty"`
}

// TransitionResult is returned by the human resolution operations.
type TransitionResult struct {
	InvoiceStatus  InvoiceStatus        `json:"invoiceStatus"`
	PaymentDueDate *time.Time           `json:"paymentDueDate,omitempty"`
	POStatus       procurement.POStatus `json:"poStatus,omitempty"`
	DebitNoteValue *decimal.Decimal     `json:"debitNoteValue,omitempty"`
}

// ResolutionAction is a human decision on a mismatched invoice.
type ResolutionAction string

const (
	ResolveProceedToPayment ResolutionAction = "proceed_to_payment"
	ResolveDebitNote        ResolutionAction = "debit_note"
	ResolveRevalidate       ResolutionAction = "revalidate"
)

// ResolutionResult holds whichever result the chosen action produced.
type ResolutionResult struct {
	Action     ResolutionAction   `json:"action"`
	Transition *TransitionResult  `json:"transition,omitempty"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
}

// InvoiceDetail is the read model behind the invoice page.
type InvoiceDetail struct {
	Invoice       Invoice           `json:"invoice"`
	Lines         []InvoiceLine     `json:"lines"`
	ASNs          []procurement.ASN `json:"asns"`
	DebitNoteFile *string           `json:"debitNoteFile"`
}

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)
	// ErrInvoiceWithoutPO indicates the invoice cannot be classified.
	ErrInvoiceWithoutPO = fmt.Errorf("invoice has no purchase order: %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates the invoice status does not allow the requested change.
	ErrInvalidTransition = fmt.Errorf("invoice status transition not allowed: %w", shared.ErrStateConflict)
	// ErrNegativeDebitNote rejects debit notes below zero.
	ErrNegativeDebitNote = fmt.Errorf("debit note value must not be negative: %w", shared.ErrValidation)
	// ErrUnknownResolution rejects unrecognised resolution actions.
	ErrUnknownResolution = fmt.Errorf("unknown resolution action: %w", shared.ErrValidation)
	// ErrDuplicateInvoice indicates the invoice number is taken.
	ErrDuplicateInvoice = fmt.Errorf("invoice number already exists: %w", shared.ErrDuplicate)
)
