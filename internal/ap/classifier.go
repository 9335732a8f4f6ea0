package ap

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

// Classify decides whether an invoice may proceed. thisInvQty covers this invoice only; of q
// only POQty and GRNQty are consulted. Reasons are checked in a fixed order and the first one
// that applies is reported.
func Classify(poStatus procurement.POStatus, thisInvQty decimal.Decimal, q procurement.CumulativeQuantities) Classification {
	if poStatus == procurement.POStatusFulfilled {
		return Classification{Valid: false, POAlreadyFulfilled: true}
	}

	tol := procurement.QtyTolerance
	invMatchesPO := thisInvQty.Sub(q.POQty).Abs().LessThanOrEqual(tol)
	invLteGRN := q.GRNQty.GreaterThanOrEqual(thisInvQty.Sub(tol))
	short := thisInvQty.LessThan(q.POQty.Sub(tol))
	receiptShort := q.GRNQty.IsPositive() && !invLteGRN

	if invMatchesPO && !short && !receiptShort {
		return Classification{Valid: true}
	}

	var reason string
	switch {
	case short:
		reason = fmt.Sprintf("Invoice quantity (%s) is less than PO total (%s)", thisInvQty, q.POQty)
	case thisInvQty.GreaterThan(q.POQty.Add(tol)):
		reason = fmt.Sprintf("Invoice quantity (%s) exceeds PO total (%s)", thisInvQty, q.POQty)
	case !invMatchesPO:
		reason = fmt.Sprintf("Invoice quantity (%s) does not match PO total (%s)", thisInvQty, q.POQty)
	default:
		reason = fmt.Sprintf("GRN received quantity (%s) is less than invoiced quantity (%s); pay only for what was received", q.GRNQty, thisInvQty)
	}
	inv, po, grn := thisInvQty, q.POQty, q.GRNQty
	return Classification{
		Valid:       false,
		IsShortfall: true,
		Reason:      reason,
		ThisInvQty:  &inv,
		POQty:       &po,
		GRNQty:      &grn,
	}
}
