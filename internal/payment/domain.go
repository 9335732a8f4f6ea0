// Package payment keeps the approval and ledger of supplier payments for validated invoices.
package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// ApprovalStatus is the payment approval state.
type ApprovalStatus string

const (
	StatusPendingApproval ApprovalStatus = "pending_approval"
	StatusApproved        ApprovalStatus = "approved"
	StatusPartiallyPaid   ApprovalStatus = "partially_paid"
	StatusPaymentDone     ApprovalStatus = "payment_done"
	StatusRejected        ApprovalStatus = "rejected"
)

// Payable reports whether transactions may be recorded against the approval.
func (s ApprovalStatus) Payable() bool {
	return s == StatusApproved || s == StatusPartiallyPaid
}

// Locked reports whether money already moved, which blocks re-approval and rejection.
func (s ApprovalStatus) Locked() bool {
	return s == StatusPartiallyPaid || s == StatusPaymentDone
}

// SettlementEpsilon absorbs rounding when deciding whether an approval is fully paid.
var SettlementEpsilon = decimal.New(1, -2)

// BankDetails is the banking snapshot taken at approval time.
type BankDetails struct {
	AccountName   string `json:"bankAccountName"`
	AccountNumber string `json:"bankAccountNumber"`
	IFSC          string `json:"bankIfsc"`
	BankName      string `json:"bankName"`
}

// merge fills empty fields of b from fallback.
func (b BankDetails) merge(fallback BankDetails) BankDetails {
	if b.AccountName == "" {
		b.AccountName = fallback.AccountName
	}
	if b.AccountNumber == "" {
		b.AccountNumber = fallback.AccountNumber
	}
	if b.IFSC == "" {
		b.IFSC = fallback.IFSC
	}
	if b.BankName == "" {
		b.BankName = fallback.BankName
	}
	return b
}

// Approval is the single payment approval row of an invoice.
type Approval struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoiceId"`
	ApproverID       int64           `json:"approverId"`
	Bank             BankDetails     `json:"bank"`
	Status           ApprovalStatus  `json:"status"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	RejectionReason  string          `json:"rejectionReason,omitempty"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	PaidBy           *int64          `json:"paidBy,omitempty"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	PaymentType      string          `json:"paymentType,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
}

// Transaction is one append-only ledger row.
type Transaction struct {
	ID          int64           `json:"id"`
	ApprovalID  int64           `json:"paymentApprovalId"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       string          `json:"notes,omitempty"`
	PaymentType string          `json:"paymentType,omitempty"`
	Reference   string          `json:"reference"`
	PaidBy      int64           `json:"paidBy"`
	PaidAt      time.Time       `json:"paidAt"`
}

// Result summarises the ledger after a payment.
type Result struct {
	PaidSoFar decimal.Decimal `json:"paidSoFar"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    ApprovalStatus  `json:"status"`
}

// Ledger is the approval with its transactions and approval history.
type Ledger struct {
	Approval     Approval             `json:"approval"`
	Transactions []Transaction        `json:"transactions"`
	PaidSoFar    decimal.Decimal      `json:"paidSoFar"`
	Remaining    decimal.Decimal      `json:"remaining"`
	History      []shared.ApprovalLog `json:"history"`
}

var (
	// ErrApprovalNotFound indicates the payment approval does not exist.
	ErrApprovalNotFound = fmt.Errorf("payment approval %w", shared.ErrNotFound)
	// ErrInvoiceNotPayable indicates the invoice is not in a state that allows this action.
	ErrInvoiceNotPayable = fmt.Errorf("invoice not in payable state: %w", shared.ErrStateConflict)
	// ErrApprovalConflict indicates an existing approval blocks the action.
	ErrApprovalConflict = fmt.Errorf("conflicting payment approval: %w", shared.ErrStateConflict)
	// ErrAmountNotPositive rejects zero or negative payments.
	ErrAmountNotPositive = fmt.Errorf("amount must be greater than zero: %w", shared.ErrValidation)
	// ErrAmountExceedsRemaining rejects payments larger than what is still owed.
	ErrAmountExceedsRemaining = fmt.Errorf("amount exceeds remaining balance: %w", shared.ErrValidation)
	// ErrReasonRequired rejects a rejection without a reason.
	ErrReasonRequired = fmt.Errorf("rejection reason required: %w", shared.ErrValidation)
)
