package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/ap"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// ApprovalModule tags approval log rows of payment approvals.
const ApprovalModule = "PAYMENT"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetApproval(ctx context.Context, id int64) (Approval, error)
	ListTransactions(ctx context.Context, approvalID int64) ([]Transaction, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalLogPort persists and lists approval history.
type ApprovalLogPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Observer receives one call per recorded transaction.
type Observer interface {
	ObservePayment(status string, amount decimal.Decimal)
}

// Service runs the payment approval workflow and ledger.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	history  ApprovalLogPort
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the ledger service. audit, history and observer may be nil.
func NewService(repo RepositoryPort, audit AuditPort, history ApprovalLogPort, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, history: history, observer: observer, logger: logger, now: time.Now}
}

// ApproveInput carries optional bank overrides; empty fields fall back to the supplier record.
type ApproveInput struct {
	Bank BankDetails
}

// Approve authorises payment of a validated invoice and snapshots the bank details.
func (s *Service) Approve(ctx context.Context, invoiceID int64, input ApproveInput) (Approval, error) {
	actor := shared.ActorFromContext(ctx)
	var approval Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != ap.InvoiceStatusValidated {
			return fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrInvoiceNotPayable)
		}
		existing, found, err := tx.FindApprovalByInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if found && (existing.Status == StatusApproved || existing.Status.Locked()) {
			return fmt.Errorf("invoice %s already %s: %w", inv.Number, existing.Status, ErrApprovalConflict)
		}
		supplier, err := tx.GetSupplier(ctx, inv.SupplierID)
		if err != nil {
			return err
		}
		now := s.now()
		approval, err = tx.UpsertApproval(ctx, Approval{
			InvoiceID:  invoiceID,
			ApproverID: actor,
			Bank: input.Bank.merge(BankDetails{
				AccountName:   supplier.BankAccountName,
				AccountNumber: supplier.BankAccountNumber,
				IFSC:          supplier.BankIFSC,
				BankName:      supplier.BankName,
			}),
			Status:      StatusApproved,
			TotalAmount: inv.EffectiveTotal(),
			ApprovedAt:  &now,
		})
		if err != nil {
			return err
		}
		return tx.SetInvoiceStatus(ctx, invoiceID, ap.InvoiceStatusReadyForPayment)
	})
	if err != nil {
		return Approval{}, err
	}
	s.recordAudit(ctx, "PAYMENT_APPROVE", approval.ID, map[string]any{"invoice_id": invoiceID, "total": approval.TotalAmount.String()})
	s.recordHistory(ctx, approval, shared.ApprovalApprove, fmt.Sprintf("approved %s", approval.TotalAmount))
	return approval, nil
}

// Reject refuses payment; the invoice mirrors the rejection.
func (s *Service) Reject(ctx context.Context, invoiceID int64, reason string) (Approval, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Approval{}, ErrReasonRequired
	}
	actor := shared.ActorFromContext(ctx)
	var approval Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.CanTransitionTo(ap.InvoiceStatusRejected) {
			return fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrInvoiceNotPayable)
		}
		existing, found, err := tx.FindApprovalByInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if found && existing.Status.Locked() {
			return fmt.Errorf("invoice %s already %s: %w", inv.Number, existing.Status, ErrApprovalConflict)
		}
		draft := Approval{InvoiceID: invoiceID, ApproverID: actor, Status: StatusRejected, TotalAmount: inv.EffectiveTotal(), RejectionReason: reason}
		if found {
			draft.Bank = existing.Bank
			draft.ApprovedAt = existing.ApprovedAt
		}
		if approval, err = tx.UpsertApproval(ctx, draft); err != nil {
			return err
		}
		return tx.SetInvoiceStatus(ctx, invoiceID, ap.InvoiceStatusRejected)
	})
	if err != nil {
		return Approval{}, err
	}
	s.recordAudit(ctx, "PAYMENT_REJECT", approval.ID, map[string]any{"invoice_id": invoiceID, "reason": reason})
	s.recordHistory(ctx, approval, shared.ApprovalReject, reason)
	return approval, nil
}

// PaymentInput describes one payment against an approval.
type PaymentInput struct {
	Amount         decimal.Decimal
	Notes          string
	PaymentType    string
	Reference      string
	IdempotencyKey string
}

// RecordPayment appends a transaction under a row lock on the approval and settles the approval
// once the ledger reaches its total.
func (s *Service) RecordPayment(ctx context.Context, approvalID int64, input PaymentInput) (Result, error) {
	var res Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, inv, err := lockForPayment(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		if !input.Amount.IsPositive() {
			return ErrAmountNotPositive
		}
		paid, err := tx.SumTransactions(ctx, approvalID)
		if err != nil {
			return err
		}
		remaining := a.TotalAmount.Sub(paid)
		if input.Amount.GreaterThan(remaining) {
			return fmt.Errorf("%s > %s: %w", input.Amount, remaining, ErrAmountExceedsRemaining)
		}
		if !a.Status.Payable() {
			return fmt.Errorf("approval %d is %s: %w", approvalID, a.Status, ErrApprovalConflict)
		}
		if input.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey); err != nil {
				return err
			}
		}
		res, err = s.pay(ctx, tx, a, inv, paid, input)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if s.observer != nil {
		s.observer.ObservePayment(string(res.Status), input.Amount)
	}
	s.recordAudit(ctx, "PAYMENT_RECORD", approvalID, map[string]any{"amount": input.Amount.String(), "status": res.Status})
	return res, nil
}

// MarkDoneInput carries the settlement details of the final payment.
type MarkDoneInput struct {
	Notes       string
	PaymentType string
	Reference   string
}

// MarkDone pays whatever remains and settles the approval.
func (s *Service) MarkDone(ctx context.Context, approvalID int64, input MarkDoneInput) (Result, error) {
	var res Result
	var amount decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, inv, err := lockForPayment(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		if !a.Status.Payable() {
			return fmt.Errorf("approval %d is %s: %w", approvalID, a.Status, ErrApprovalConflict)
		}
		paid, err := tx.SumTransactions(ctx, approvalID)
		if err != nil {
			return err
		}
		amount = a.TotalAmount.Sub(paid)
		if !amount.IsPositive() {
			amount = decimal.Zero
		}
		res, err = s.pay(ctx, tx, a, inv, paid, PaymentInput{Amount: amount, Notes: input.Notes, PaymentType: input.PaymentType, Reference: input.Reference})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if s.observer != nil {
		s.observer.ObservePayment(string(res.Status), amount)
	}
	s.recordAudit(ctx, "PAYMENT_DONE", approvalID, map[string]any{"amount": amount.String()})
	return res, nil
}

// pay inserts the transaction when amount is positive and moves approval and invoice to the
// state matching the new balance.
func (s *Service) pay(ctx context.Context, tx TxRepository, a Approval, inv ap.Invoice, paid decimal.Decimal, input PaymentInput) (Result, error) {
	now := s.now()
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = "PAY-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if input.Amount.IsPositive() {
		_, err := tx.InsertTransaction(ctx, Transaction{
			ApprovalID:  a.ID,
			Amount:      input.Amount,
			Notes:       input.Notes,
			PaymentType: input.PaymentType,
			Reference:   reference,
			PaidBy:      shared.ActorFromContext(ctx),
			PaidAt:      now,
		})
		if err != nil {
			return Result{}, err
		}
		paid = paid.Add(input.Amount)
	}
	res := Result{PaidSoFar: paid, Remaining: a.TotalAmount.Sub(paid)}
	if res.Remaining.IsNegative() {
		res.Remaining = decimal.Zero
	}
	if paid.GreaterThanOrEqual(a.TotalAmount.Sub(SettlementEpsilon)) {
		if err := s.settle(ctx, tx, a, inv, input.PaymentType, reference, &res); err != nil {
			return Result{}, err
		}
		return res, nil
	}
	if !input.Amount.IsPositive() {
		res.Status = a.Status
		return res, nil
	}
	a.Status = StatusPartiallyPaid
	if err := tx.SaveSettlement(ctx, a); err != nil {
		return Result{}, err
	}
	if err := moveInvoice(ctx, tx, inv, ap.InvoiceStatusPartiallyPaid); err != nil {
		return Result{}, err
	}
	res.Status = StatusPartiallyPaid
	return res, nil
}

func (s *Service) settle(ctx context.Context, tx TxRepository, a Approval, inv ap.Invoice, paymentType, reference string, res *Result) error {
	now := s.now()
	actor := shared.ActorFromContext(ctx)
	a.Status = StatusPaymentDone
	a.PaidBy = &actor
	a.PaidAt = &now
	a.PaymentType = paymentType
	a.PaymentReference = reference
	if err := tx.SaveSettlement(ctx, a); err != nil {
		return err
	}
	if err := moveInvoice(ctx, tx, inv, ap.InvoiceStatusPaid); err != nil {
		return err
	}
	res.Status = StatusPaymentDone
	res.Remaining = decimal.Zero
	return nil
}

// lockForPayment locks the invoice before the approval, the same order Approve and Reject use.
func lockForPayment(ctx context.Context, tx TxRepository, approvalID int64) (Approval, ap.Invoice, error) {
	a, err := tx.GetApproval(ctx, approvalID)
	if err != nil {
		return Approval{}, ap.Invoice{}, err
	}
	inv, err := tx.GetInvoiceForUpdate(ctx, a.InvoiceID)
	if err != nil {
		return Approval{}, ap.Invoice{}, err
	}
	if a, err = tx.GetApprovalForUpdate(ctx, approvalID); err != nil {
		return Approval{}, ap.Invoice{}, err
	}
	return a, inv, nil
}

func moveInvoice(ctx context.Context, tx TxRepository, inv ap.Invoice, target ap.InvoiceStatus) error {
	if !inv.Status.CanTransitionTo(target) {
		return fmt.Errorf("invoice %s is %s, cannot become %s: %w", inv.Number, inv.Status, target, ErrInvoiceNotPayable)
	}
	return tx.SetInvoiceStatus(ctx, inv.ID, target)
}

// GetLedger returns the approval with its transactions, balance and approval history.
func (s *Service) GetLedger(ctx context.Context, approvalID int64) (Ledger, error) {
	a, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return Ledger{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, approvalID)
	if err != nil {
		return Ledger{}, err
	}
	paid := decimal.Zero
	for _, t := range txs {
		paid = paid.Add(t.Amount)
	}
	remaining := a.TotalAmount.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	ledger := Ledger{Approval: a, Transactions: txs, PaidSoFar: paid, Remaining: remaining}
	if s.history != nil {
		history, err := s.history.List(ctx, ApprovalModule, shared.ApprovalRef(ApprovalModule, a.InvoiceID))
		if err != nil {
			s.logger.Warn("approval history lookup failed", slog.Int64("approval_id", approvalID), slog.Any("error", err))
		} else {
			ledger.History = history
		}
	}
	return ledger, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, approvalID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.AuditEntityPaymentApproval,
		EntityID: fmt.Sprintf("%d", approvalID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("approval_id", approvalID), slog.Any("error", err))
	}
}

func (s *Service) recordHistory(ctx context.Context, a Approval, action shared.ApprovalAction, note string) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   shared.ApprovalRef(ApprovalModule, a.InvoiceID),
		ActorID: shared.ActorFromContext(ctx),
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("approval log failed", slog.Int64("approval_id", a.ID), slog.Any("error", err))
	}
}
