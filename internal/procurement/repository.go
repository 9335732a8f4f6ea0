package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	QuantityReader
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	EnsureSupplier(ctx context.Context, code, name string) (int64, error)
	UpsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	ReplacePOLines(ctx context.Context, poID int64, lines []POLine) error
	LatestPOIDByNumber(ctx context.Context, number string) (int64, error)
	UpsertGRN(ctx context.Context, grn GRN) error
	UpsertASN(ctx context.Context, asn ASN) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	*Queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, Queries: NewQueries(pool)}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

// Queries runs procurement statements against a pool or an open transaction.
type Queries struct {
	db db.DBTX
}

// NewQueries binds the statements to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{db: q}
}

// SumPOQty totals the ordered quantity of a PO.
func (q *Queries) SumPOQty(ctx context.Context, poID int64) (decimal.Decimal, error) {
	return q.sum(ctx, `SELECT COALESCE(SUM(qty), 0) FROM purchase_order_lines WHERE po_id = $1`, poID)
}

// SumInvoicedQty totals billed quantity across every invoice referencing the PO.
func (q *Queries) SumInvoicedQty(ctx context.Context, poID int64) (decimal.Decimal, error) {
	return q.sum(ctx, `SELECT COALESCE(SUM(il.billed_qty), 0)
FROM invoice_lines il
JOIN invoices i ON i.id = il.invoice_id
WHERE i.po_id = $1`, poID)
}

// SumGRNQty totals received quantity, preferring accepted over received per row.
func (q *Queries) SumGRNQty(ctx context.Context, poID int64) (decimal.Decimal, error) {
	return q.sum(ctx, `SELECT COALESCE(SUM(COALESCE(accepted_qty, grn_qty, 0)), 0) FROM grn WHERE po_id = $1`, poID)
}

func (q *Queries) sum(ctx context.Context, sql string, poID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := q.db.QueryRow(ctx, sql, poID).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

const selectPO = `SELECT id, po_number, amd_no, po_date, supplier_id, payment_terms, status FROM purchase_orders WHERE id = $1`

// GetPO loads the PO header.
func (q *Queries) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return q.getPO(ctx, selectPO, id)
}

// GetPOForUpdate loads the PO header and locks the row until the transaction ends.
func (q *Queries) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return q.getPO(ctx, selectPO+` FOR UPDATE`, id)
}

func (q *Queries) getPO(ctx context.Context, sql string, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := q.db.QueryRow(ctx, sql, id).Scan(&po.ID, &po.Number, &po.AmdNo, &po.Date, &po.SupplierID, &po.PaymentTerms, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrPONotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	return po, nil
}

// GetPOLines lists lines ordered by line number.
func (q *Queries) GetPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := q.db.Query(ctx, `SELECT id, po_id, line_no, item_code, item_name, qty, unit_cost
FROM purchase_order_lines WHERE po_id = $1 ORDER BY line_no`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.LineNo, &l.ItemCode, &l.ItemName, &l.Qty, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetSupplier loads supplier master data including banking details.
func (q *Queries) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := q.db.QueryRow(ctx, `SELECT id, code, name, bank_account_name, bank_account_number, bank_ifsc, bank_name
FROM suppliers WHERE id = $1`, id).Scan(&s.ID, &s.Code, &s.Name, &s.BankAccountName, &s.BankAccountNumber, &s.BankIFSC, &s.BankName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

// ListASNByInvoiceNumber returns ASN rows that reference the invoice number.
func (q *Queries) ListASNByInvoiceNumber(ctx context.Context, invoiceNumber string) ([]ASN, error) {
	rows, err := q.db.Query(ctx, `SELECT id, asn_number, invoice_number, dc_number, ship_date
FROM asn WHERE invoice_number = $1 ORDER BY asn_number`, invoiceNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ASN
	for rows.Next() {
		var a ASN
		var ship *time.Time
		if err := rows.Scan(&a.ID, &a.Number, &a.InvoiceNumber, &a.DCNumber, &ship); err != nil {
			return nil, err
		}
		if ship != nil {
			a.ShipDate = *ship
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListOpenPOIDs returns every PO that has not reached fulfilled.
func (q *Queries) ListOpenPOIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM purchase_orders WHERE status <> $1 ORDER BY id`, string(POStatusFulfilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePOStatus writes the status column.
func (q *Queries) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPONotFound
	}
	return nil
}

// EnsureSupplier returns the supplier id for code, creating a bare record when missing.
func (q *Queries) EnsureSupplier(ctx context.Context, code, name string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO suppliers (code, name) VALUES ($1, $2)
ON CONFLICT (code) DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), suppliers.name)
RETURNING id`, code, name).Scan(&id)
	return id, err
}

// UpsertPO inserts or refreshes the header keyed by number and amendment. Status is kept.
func (q *Queries) UpsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO purchase_orders (po_number, amd_no, po_date, supplier_id, payment_terms, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (po_number, amd_no) DO UPDATE
SET po_date = EXCLUDED.po_date, supplier_id = EXCLUDED.supplier_id, payment_terms = EXCLUDED.payment_terms, updated_at = NOW()
RETURNING id`, po.Number, po.AmdNo, po.Date, po.SupplierID, po.PaymentTerms, string(POStatusOpen)).Scan(&id)
	return id, err
}

// ReplacePOLines drops every line of the PO and inserts lines in order.
func (q *Queries) ReplacePOLines(ctx context.Context, poID int64, lines []POLine) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM purchase_order_lines WHERE po_id = $1`, poID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := q.db.Exec(ctx, `INSERT INTO purchase_order_lines (po_id, line_no, item_code, item_name, qty, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6)`, poID, l.LineNo, l.ItemCode, l.ItemName, l.Qty, l.UnitCost)
		if err != nil {
			return err
		}
	}
	return nil
}

// LatestPOIDByNumber resolves a PO number to its highest amendment.
func (q *Queries) LatestPOIDByNumber(ctx context.Context, number string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `SELECT id FROM purchase_orders WHERE po_number = $1 ORDER BY amd_no DESC LIMIT 1`, number).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPONotFound
		}
		return 0, err
	}
	return id, nil
}

// UpsertGRN stores one receipt row keyed by GRN number and item.
func (q *Queries) UpsertGRN(ctx context.Context, grn GRN) error {
	_, err := q.db.Exec(ctx, `INSERT INTO grn (grn_number, po_number, po_id, dc_number, item_code, grn_date, grn_qty, accepted_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (grn_number, item_code) DO UPDATE
SET po_number = EXCLUDED.po_number, po_id = EXCLUDED.po_id, dc_number = EXCLUDED.dc_number,
    grn_date = EXCLUDED.grn_date, grn_qty = EXCLUDED.grn_qty, accepted_qty = EXCLUDED.accepted_qty`,
		grn.Number, grn.PONumber, grn.POID, grn.DCNumber, grn.ItemCode, nullTime(grn.ReceivedAt), grn.GRNQty, grn.AcceptedQty)
	return err
}

// UpsertASN stores an ASN reference.
func (q *Queries) UpsertASN(ctx context.Context, asn ASN) error {
	_, err := q.db.Exec(ctx, `INSERT INTO asn (asn_number, invoice_number, dc_number, ship_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (asn_number, invoice_number) DO UPDATE SET dc_number = EXCLUDED.dc_number, ship_date = EXCLUDED.ship_date`,
		asn.Number, asn.InvoiceNumber, asn.DCNumber, nullTime(asn.ShipDate))
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
