package payment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/ap"
	"github.com/odyssey-erp/odyssey-p2p/internal/platform/db"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// IdempotencyModule scopes Idempotency-Key values of recorded payments.
const IdempotencyModule = "payment.record"

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (ap.Invoice, error)
	SetInvoiceStatus(ctx context.Context, id int64, status ap.InvoiceStatus) error
	GetSupplier(ctx context.Context, id int64) (procurement.Supplier, error)
	FindApprovalByInvoiceForUpdate(ctx context.Context, invoiceID int64) (Approval, bool, error)
	GetApproval(ctx context.Context, id int64) (Approval, error)
	GetApprovalForUpdate(ctx context.Context, id int64) (Approval, error)
	UpsertApproval(ctx context.Context, a Approval) (Approval, error)
	SaveSettlement(ctx context.Context, a Approval) error
	SumTransactions(ctx context.Context, approvalID int64) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	ClaimIdempotencyKey(ctx context.Context, key string) error
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

// Queries runs ledger statements; invoice and supplier statements come from ap.
type Queries struct {
	*ap.Queries
	db db.DBTX
}

// NewQueries binds the statements to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{Queries: ap.NewQueries(q), db: q}
}

const approvalColumns = `id, invoice_id, approver_id, bank_account_name, bank_account_number, bank_ifsc, bank_name,
       status, total_amount, rejection_reason, approved_at, paid_by, paid_at, payment_type, payment_reference`

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	var status string
	err := row.Scan(&a.ID, &a.InvoiceID, &a.ApproverID, &a.Bank.AccountName, &a.Bank.AccountNumber, &a.Bank.IFSC, &a.Bank.BankName,
		&status, &a.TotalAmount, &a.RejectionReason, &a.ApprovedAt, &a.PaidBy, &a.PaidAt, &a.PaymentType, &a.PaymentReference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrApprovalNotFound
		}
		return Approval{}, err
	}
	a.Status = ApprovalStatus(status)
	return a, nil
}

// GetApproval loads an approval by id.
func (q *Queries) GetApproval(ctx context.Context, id int64) (Approval, error) {
	return scanApproval(q.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM payment_approvals WHERE id = $1`, id))
}

// GetApprovalForUpdate loads and locks an approval for the balance check.
func (q *Queries) GetApprovalForUpdate(ctx context.Context, id int64) (Approval, error) {
	return scanApproval(q.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM payment_approvals WHERE id = $1 FOR UPDATE`, id))
}

// FindApprovalByInvoiceForUpdate locks the approval of an invoice when one exists.
func (q *Queries) FindApprovalByInvoiceForUpdate(ctx context.Context, invoiceID int64) (Approval, bool, error) {
	a, err := scanApproval(q.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM payment_approvals WHERE invoice_id = $1 FOR UPDATE`, invoiceID))
	if errors.Is(err, ErrApprovalNotFound) {
		return Approval{}, false, nil
	}
	if err != nil {
		return Approval{}, false, err
	}
	return a, true, nil
}

// UpsertApproval writes the one approval row of the invoice.
func (q *Queries) UpsertApproval(ctx context.Context, a Approval) (Approval, error) {
	return scanApproval(q.db.QueryRow(ctx, `INSERT INTO payment_approvals (invoice_id, approver_id, bank_account_name, bank_account_number,
    bank_ifsc, bank_name, status, total_amount, rejection_reason, approved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (invoice_id) DO UPDATE
SET approver_id = EXCLUDED.approver_id, bank_account_name = EXCLUDED.bank_account_name,
    bank_account_number = EXCLUDED.bank_account_number, bank_ifsc = EXCLUDED.bank_ifsc, bank_name = EXCLUDED.bank_name,
    status = EXCLUDED.status, total_amount = EXCLUDED.total_amount, rejection_reason = EXCLUDED.rejection_reason,
    approved_at = EXCLUDED.approved_at, updated_at = NOW()
RETURNING `+approvalColumns,
		a.InvoiceID, a.ApproverID, a.Bank.AccountName, a.Bank.AccountNumber, a.Bank.IFSC, a.Bank.BankName,
		string(a.Status), a.TotalAmount, a.RejectionReason, a.ApprovedAt))
}

// SaveSettlement writes status and payer columns.
func (q *Queries) SaveSettlement(ctx context.Context, a Approval) error {
	tag, err := q.db.Exec(ctx, `UPDATE payment_approvals
SET status = $2, paid_by = $3, paid_at = $4, payment_type = $5, payment_reference = $6, updated_at = NOW()
WHERE id = $1`, a.ID, string(a.Status), a.PaidBy, a.PaidAt, a.PaymentType, a.PaymentReference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrApprovalNotFound
	}
	return nil
}

// SumTransactions totals what has been paid against an approval.
func (q *Queries) SumTransactions(ctx context.Context, approvalID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_transactions WHERE payment_approval_id = $1`, approvalID).Scan(&total)
	return total, err
}

// InsertTransaction appends a ledger row.
func (q *Queries) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO payment_transactions (payment_approval_id, amount, notes, payment_type, reference, paid_by, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.ApprovalID, t.Amount, t.Notes, t.PaymentType, t.Reference, t.PaidBy, t.PaidAt).Scan(&id)
	return id, err
}

// ListTransactions returns the ledger rows oldest first.
func (q *Queries) ListTransactions(ctx context.Context, approvalID int64) ([]Transaction, error) {
	rows, err := q.db.Query(ctx, `SELECT id, payment_approval_id, amount, notes, payment_type, reference, paid_by, paid_at
FROM payment_transactions WHERE payment_approval_id = $1 ORDER BY paid_at, id`, approvalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ApprovalID, &t.Amount, &t.Notes, &t.PaymentType, &t.Reference, &t.PaidBy, &t.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimIdempotencyKey stores key inside the running transaction so a rollback releases it.
func (q *Queries) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.CheckAndInsert(ctx, q.db, key, IdempotencyModule)
}
