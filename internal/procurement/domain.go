package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// POStatus is the purchase order fulfilment status.
type POStatus string

const (
	POStatusOpen               POStatus = "open"
	POStatusPartiallyFulfilled POStatus = "partially_fulfilled"
	POStatusFulfilled          POStatus = "fulfilled"
)

// IsValid reports whether s belongs to the PO vocabulary.
func (s POStatus) IsValid() bool {
	switch s {
	case POStatusOpen, POStatusPartiallyFulfilled, POStatusFulfilled:
		return true
	}
	return false
}

// CanTransitionTo checks the forward-only PO status table.
func (s POStatus) CanTransitionTo(target POStatus) bool {
	switch s {
	case POStatusOpen:
		return target == POStatusPartiallyFulfilled || target == POStatusFulfilled
	case POStatusPartiallyFulfilled:
		return target == POStatusFulfilled
	}
	return false
}

// Advance returns target when the table allows it and s otherwise, so a PO never regresses.
func (s POStatus) Advance(target POStatus) POStatus {
	if s.CanTransitionTo(target) {
		return target
	}
	return s
}

// QtyTolerance absorbs rounding noise when quantities are compared.
var QtyTolerance = decimal.New(1, -3)

// Supplier holds the banking details snapshotted at payment approval.
type Supplier struct {
	ID                int64
	Code              string
	Name              string
	BankAccountName   string
	BankAccountNumber string
	BankIFSC          string
	BankName          string
}

// PurchaseOrder is identified by number plus amendment.
type PurchaseOrder struct {
	ID           int64
	Number       string
	AmdNo        int
	Date         time.Time
	SupplierID   int64
	PaymentTerms string
	Status       POStatus
}

// POLine is an ordered item; LineNo is 1-based within the PO.
type POLine struct {
	ID       int64
	POID     int64
	LineNo   int
	ItemCode string
	ItemName string
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// GRN is one goods-receipt row. POID stays nil until the PO number resolves.
type GRN struct {
	ID          int64
	Number      string
	PONumber    string
	POID        *int64
	DCNumber    string
	ItemCode    string
	ReceivedAt  time.Time
	GRNQty      decimal.NullDecimal
	AcceptedQty decimal.NullDecimal
}

// EffectiveQty prefers the accepted quantity over the received one.
func (g GRN) EffectiveQty() decimal.Decimal {
	switch {
	case g.AcceptedQty.Valid:
		return g.AcceptedQty.Decimal
	case g.GRNQty.Valid:
		return g.GRNQty.Decimal
	}
	return decimal.Zero
}

// ASN links a shipment to an invoice number and a delivery challan; display only.
type ASN struct {
	ID            int64
	Number        string
	InvoiceNumber string
	DCNumber      string
	ShipDate      time.Time
}

// CumulativeQuantities is a point-in-time snapshot of totals for one PO.
type CumulativeQuantities struct {
	POQty  decimal.Decimal `json:"poQty"`
	InvQty decimal.Decimal `json:"invQty"`
	GRNQty decimal.Decimal `json:"grnQty"`
}

// CumulativelyFulfilled is true once both invoicing and receipts caught up with the order.
func (q CumulativeQuantities) CumulativelyFulfilled() bool {
	if !q.POQty.IsPositive() {
		return false
	}
	floor := q.POQty.Sub(QtyTolerance)
	return q.InvQty.GreaterThanOrEqual(floor) && q.GRNQty.GreaterThanOrEqual(floor)
}

// SweepResult reports the outcome of a cumulative check on one PO.
type SweepResult struct {
	POID       int64                `json:"poId"`
	Previous   POStatus             `json:"previousStatus"`
	Status     POStatus             `json:"poStatus"`
	Promoted   bool                 `json:"promoted"`
	Quantities CumulativeQuantities `json:"quantities"`
}

var (
	// ErrPONotFound indicates the purchase order does not exist.
	ErrPONotFound = fmt.Errorf("purchase order %w", shared.ErrNotFound)
	// ErrSupplierNotFound indicates the supplier does not exist.
	ErrSupplierNotFound = fmt.Errorf("supplier %w", shared.ErrNotFound)
	// ErrPONotClosable indicates force-close was requested on a PO that is not partially fulfilled.
	ErrPONotClosable = fmt.Errorf("purchase order not partially fulfilled: %w", shared.ErrNotFound)
	// ErrInvalidWorkbook indicates the import file could not be interpreted.
	ErrInvalidWorkbook = fmt.Errorf("procurement workbook invalid: %w", shared.ErrValidation)
)
