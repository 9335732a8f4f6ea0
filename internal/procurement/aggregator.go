package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityReader scans the three quantity sources of a PO. Implemented by Queries on both the
// pool and an open transaction.
type QuantityReader interface {
	SumPOQty(ctx context.Context, poID int64) (decimal.Decimal, error)
	SumInvoicedQty(ctx context.Context, poID int64) (decimal.Decimal, error)
	SumGRNQty(ctx context.Context, poID int64) (decimal.Decimal, error)
}

// Aggregate re-scans every source. Nothing is cached so repeated calls with no writes in between
// return identical values.
func Aggregate(ctx context.Context, r QuantityReader, poID int64) (CumulativeQuantities, error) {
	poQty, err := r.SumPOQty(ctx, poID)
	if err != nil {
		return CumulativeQuantities{}, fmt.Errorf("sum po qty: %w", err)
	}
	invQty, err := r.SumInvoicedQty(ctx, poID)
	if err != nil {
		return CumulativeQuantities{}, fmt.Errorf("sum invoiced qty: %w", err)
	}
	grnQty, err := r.SumGRNQty(ctx, poID)
	if err != nil {
		return CumulativeQuantities{}, fmt.Errorf("sum grn qty: %w", err)
	}
	return CumulativeQuantities{POQty: poQty, InvQty: invQty, GRNQty: grnQty}, nil
}
