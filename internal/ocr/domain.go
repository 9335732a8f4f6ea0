// Package ocr previews supplier invoices and weight slips through an OCR collaborator.
// Nothing extracted here is persisted; callers review the preview before saving an invoice.
package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// Backend returns raw model output for a document.
type Backend interface {
	InvoiceJSON(ctx context.Context, doc []byte) (string, error)
	WeightText(ctx context.Context, doc []byte) (string, error)
}

// PreviewItem is one extracted line of the invoice item table.
type PreviewItem struct {
	ItemName     string              `json:"itemName"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	UnitPrice    decimal.NullDecimal `json:"unitPrice"`
	Amount       decimal.NullDecimal `json:"amount"`
	HSNSAC       string              `json:"hsnSac"`
	TaxableValue decimal.NullDecimal `json:"taxableValue"`
	CGSTPercent  decimal.NullDecimal `json:"cgstPercent"`
	CGSTAmount   decimal.NullDecimal `json:"cgstAmount"`
	SGSTPercent  decimal.NullDecimal `json:"sgstPercent"`
	SGSTAmount   decimal.NullDecimal `json:"sgstAmount"`
}

// InvoicePreview is the typed form of the extracted invoice. Dates stay as printed.
type InvoicePreview struct {
	InvoiceNumber      string              `json:"invoiceNumber"`
	InvoiceDate        string              `json:"invoiceDate"`
	PONumber           string              `json:"poNumber"`
	SupplierName       string              `json:"supplierName"`
	BillTo             string              `json:"billTo"`
	BillToAddress      string              `json:"billToAddress"`
	BillToGST          string              `json:"billToGst"`
	Items              []PreviewItem       `json:"items"`
	Subtotal           decimal.NullDecimal `json:"subtotal"`
	CGST               decimal.NullDecimal `json:"cgst"`
	SGST               decimal.NullDecimal `json:"sgst"`
	RoundOff           decimal.NullDecimal `json:"roundOff"`
	TaxAmount          decimal.NullDecimal `json:"taxAmount"`
	TotalAmount        decimal.NullDecimal `json:"totalAmount"`
	TotalAmountInWords string              `json:"totalAmountInWords"`
}

// WeightResult carries the weight in kilograms; Weight is nil when none was read.
type WeightResult struct {
	Weight *decimal.Decimal `json:"weight"`
}

var (
	// ErrEmptyDocument rejects uploads without content.
	ErrEmptyDocument = fmt.Errorf("document is empty: %w", shared.ErrValidation)
	// ErrNoJSONObject indicates the model output held no JSON object.
	ErrNoJSONObject = errors.New("ocr output contains no json object")
	// ErrUpstream wraps collaborator failures.
	ErrUpstream = errors.New("ocr collaborator failed")
)
