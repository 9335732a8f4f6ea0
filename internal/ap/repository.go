package ap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/db"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

// TxRepository exposes transactional operations. PO statements come from procurement so an
// invoice transition and its PO update commit together.
type TxRepository interface {
	procurement.QuantityReader
	GetPOForUpdate(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status procurement.POStatus) error
	GetPOLines(ctx context.Context, poID int64) ([]procurement.POLine, error)
	LatestPOIDByNumber(ctx context.Context, number string) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	SumInvoiceQty(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	SaveInvoiceState(ctx context.Context, inv Invoice) error
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line InvoiceLine) error
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

// Queries runs invoice statements, plus the procurement ones, against a pool or transaction.
type Queries struct {
	*procurement.Queries
	db db.DBTX
}

// NewQueries binds the statements to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{Queries: procurement.NewQueries(q), db: q}
}

const selectInvoice = `SELECT id, invoice_number, invoice_date, supplier_id, po_id, status, payment_due_date,
       debit_note_value, total_amount, tax_amount, validation_reason, last_this_inv_qty, last_po_qty, last_grn_qty
FROM invoices WHERE id = $1`

// GetInvoice loads the invoice header.
func (q *Queries) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return q.getInvoice(ctx, selectInvoice, id)
}

// GetInvoiceForUpdate loads the invoice header and locks the row.
func (q *Queries) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return q.getInvoice(ctx, selectInvoice+` FOR UPDATE`, id)
}

func (q *Queries) getInvoice(ctx context.Context, sql string, id int64) (Invoice, error) {
	var inv Invoice
	var status string
	err := q.db.QueryRow(ctx, sql, id).Scan(
		&inv.ID, &inv.Number, &inv.Date, &inv.SupplierID, &inv.POID, &status, &inv.PaymentDueDate,
		&inv.DebitNoteValue, &inv.TotalAmount, &inv.TaxAmount, &inv.ValidationReason,
		&inv.ThisInvQty, &inv.POQty, &inv.GRNQty,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

// GetInvoiceLines lists the invoice lines in entry order.
func (q *Queries) GetInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := q.db.Query(ctx, `SELECT id, invoice_id, po_line_id, item_name, billed_qty, rate, taxable_value,
       cgst_amount, sgst_amount, line_total
FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.POLineID, &l.ItemName, &l.BilledQty, &l.Rate, &l.TaxableValue,
			&l.CGSTAmount, &l.SGSTAmount, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SumInvoiceQty totals billed quantity of one invoice.
func (q *Queries) SumInvoiceQty(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(billed_qty), 0) FROM invoice_lines WHERE invoice_id = $1`, invoiceID).Scan(&total)
	return total, err
}

// DebitNoteFilename returns the most recent debit-note attachment name, empty when none exists.
func (q *Queries) DebitNoteFilename(ctx context.Context, invoiceID int64) (string, error) {
	var name string
	err := q.db.QueryRow(ctx, `SELECT file_name FROM invoice_attachments
WHERE invoice_id = $1 AND kind = 'debit_note' ORDER BY uploaded_at DESC LIMIT 1`, invoiceID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// SaveInvoiceState writes the mutable workflow columns of inv.
func (q *Queries) SaveInvoiceState(ctx context.Context, inv Invoice) error {
	tag, err := q.db.Exec(ctx, `UPDATE invoices
SET status = $2, payment_due_date = $3, debit_note_value = $4, validation_reason = $5,
    last_this_inv_qty = $6, last_po_qty = $7, last_grn_qty = $8, updated_at = NOW()
WHERE id = $1`, inv.ID, string(inv.Status), inv.PaymentDueDate, inv.DebitNoteValue, inv.ValidationReason,
		inv.ThisInvQty, inv.POQty, inv.GRNQty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// SetInvoiceStatus writes only the status column.
func (q *Queries) SetInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// InsertInvoice creates the header.
func (q *Queries) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO invoices (invoice_number, invoice_date, supplier_id, po_id, status, total_amount, tax_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		inv.Number, inv.Date, inv.SupplierID, inv.POID, string(inv.Status), inv.TotalAmount, inv.TaxAmount).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", inv.Number, ErrDuplicateInvoice)
		}
		return 0, err
	}
	return id, nil
}

// InsertInvoiceLine appends one line.
func (q *Queries) InsertInvoiceLine(ctx context.Context, l InvoiceLine) error {
	_, err := q.db.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, po_line_id, item_name, billed_qty, rate, taxable_value,
    cgst_amount, sgst_amount, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.InvoiceID, l.POLineID, l.ItemName, l.BilledQty, l.Rate, l.TaxableValue, l.CGSTAmount, l.SGSTAmount, l.LineTotal)
	return err
}
