package ap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// ApprovalModule tags approval log rows written for invoice overrides.
const ApprovalModule = "AP_INVOICE"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	procurement.QuantityReader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error)
	SumInvoiceQty(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	GetPO(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	ListASNByInvoiceNumber(ctx context.Context, invoiceNumber string) ([]procurement.ASN, error)
	DebitNoteFilename(ctx context.Context, invoiceID int64) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records human overrides.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// ClassificationObserver receives one call per classification.
type ClassificationObserver interface {
	ObserveClassification(outcome string)
}

// Config tunes the engine.
type Config struct {
	DefaultTermsDays int
}

// Service is the invoice status transition engine.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals ApprovalPort
	observer  ClassificationObserver
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the engine. audit, approvals and observer may be nil.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort, observer ClassificationObserver, cfg Config, logger *slog.Logger) *Service {
	if cfg.DefaultTermsDays <= 0 {
		cfg.DefaultTermsDays = DefaultTermsDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, approvals: approvals, observer: observer, cfg: cfg, logger: logger, now: time.Now}
}

type classifySource interface {
	procurement.QuantityReader
	SumInvoiceQty(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

func classifyInvoice(ctx context.Context, src classifySource, inv Invoice, po procurement.PurchaseOrder) (Classification, error) {
	if po.Status == procurement.POStatusFulfilled {
		return Classify(po.Status, decimal.Zero, procurement.CumulativeQuantities{}), nil
	}
	thisInvQty, err := src.SumInvoiceQty(ctx, inv.ID)
	if err != nil {
		return Classification{}, fmt.Errorf("sum invoice qty: %w", err)
	}
	qty, err := procurement.Aggregate(ctx, src, po.ID)
	if err != nil {
		return Classification{}, err
	}
	return Classify(po.Status, thisInvQty, qty), nil
}

// ValidateInvoiceAgainstPOGRN classifies an invoice without writing anything.
func (s *Service) ValidateInvoiceAgainstPOGRN(ctx context.Context, invoiceID int64) (Classification, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Classification{}, err
	}
	if inv.POID == nil {
		return Classification{}, ErrInvoiceWithoutPO
	}
	po, err := s.repo.GetPO(ctx, *inv.POID)
	if err != nil {
		return Classification{}, err
	}
	return classifyInvoice(ctx, s.repo, inv, po)
}

// ValidateAndUpdateInvoiceStatus classifies the invoice and applies the verdict in one transaction.
func (s *Service) ValidateAndUpdateInvoiceStatus(ctx context.Context, invoiceID int64) (ValidationOutcome, error) {
	var out ValidationOutcome
	var from InvoiceStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, po, err := lockInvoiceAndPO(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		from = inv.Status
		c, err := classifyInvoice(ctx, tx, inv, po)
		if err != nil {
			return err
		}
		out, err = s.applyClassification(ctx, tx, inv, po, c)
		return err
	})
	if err != nil {
		return ValidationOutcome{}, err
	}
	if s.observer != nil {
		s.observer.ObserveClassification(string(out.Action))
	}
	s.recordAudit(ctx, "INVOICE_VALIDATE", invoiceID, map[string]any{"from": from, "to": out.InvoiceStatus, "action": out.Action, "reason": out.ValidationFailureReason})
	return out, nil
}

func (s *Service) applyClassification(ctx context.Context, tx TxRepository, inv Invoice, po procurement.PurchaseOrder, c Classification) (ValidationOutcome, error) {
	switch {
	case c.POAlreadyFulfilled:
		if err := transition(&inv, InvoiceStatusExceptionApproval); err != nil {
			return ValidationOutcome{}, err
		}
		if err := tx.SaveInvoiceState(ctx, inv); err != nil {
			return ValidationOutcome{}, err
		}
		return ValidationOutcome{Action: ActionException, InvoiceStatus: inv.Status, POStatus: po.Status}, nil

	case !c.Valid:
		if err := transition(&inv, InvoiceStatusWaitingForReValidation); err != nil {
			return ValidationOutcome{}, err
		}
		inv.ValidationReason = c.Reason
		inv.ThisInvQty = decimal.NewNullDecimal(*c.ThisInvQty)
		inv.POQty = decimal.NewNullDecimal(*c.POQty)
		inv.GRNQty = decimal.NewNullDecimal(*c.GRNQty)
		if err := tx.SaveInvoiceState(ctx, inv); err != nil {
			return ValidationOutcome{}, err
		}
		return ValidationOutcome{
			Action:                  ActionShortfall,
			InvoiceStatus:           inv.Status,
			POStatus:                po.Status,
			ValidationFailureReason: c.Reason,
			ThisInvQty:              c.ThisInvQty,
			POQty:                   c.POQty,
			GRNQty:                  c.GRNQty,
		}, nil
	}

	if err := transition(&inv, InvoiceStatusValidated); err != nil {
		return ValidationOutcome{}, err
	}
	s.setDueDate(&inv, po)
	clearValidationFailure(&inv)
	if err := tx.SaveInvoiceState(ctx, inv); err != nil {
		return ValidationOutcome{}, err
	}
	poStatus, err := advancePO(ctx, tx, po, procurement.POStatusFulfilled)
	if err != nil {
		return ValidationOutcome{}, err
	}
	return ValidationOutcome{Action: ActionValidated, InvoiceStatus: inv.Status, PaymentDueDate: inv.PaymentDueDate, POStatus: poStatus}, nil
}

// ProceedToPaymentFromMismatch accepts a mismatched invoice; the PO stays owed the difference.
func (s *Service) ProceedToPaymentFromMismatch(ctx context.Context, invoiceID int64) (TransitionResult, error) {
	return s.override(ctx, invoiceID, "INVOICE_PROCEED_MISMATCH", func(inv *Invoice, po procurement.PurchaseOrder) (procurement.POStatus, error) {
		if inv.Status != InvoiceStatusWaitingForReValidation {
			return "", fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrInvalidTransition)
		}
		if err := transition(inv, InvoiceStatusValidated); err != nil {
			return "", err
		}
		s.setDueDate(inv, po)
		return procurement.POStatusPartiallyFulfilled, nil
	})
}

// MoveToDebitNoteApproval parks the invoice until a debit note is approved.
func (s *Service) MoveToDebitNoteApproval(ctx context.Context, invoiceID int64) (TransitionResult, error) {
	var res TransitionResult
	var from InvoiceStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		from = inv.Status
		if err := transition(&inv, InvoiceStatusDebitNoteApproval); err != nil {
			return err
		}
		if err := tx.SaveInvoiceState(ctx, inv); err != nil {
			return err
		}
		res = TransitionResult{InvoiceStatus: inv.Status}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.recordAudit(ctx, "INVOICE_DEBIT_NOTE", invoiceID, map[string]any{"from": from, "to": res.InvoiceStatus})
	return res, nil
}

// DebitNoteApprove validates the invoice with value replacing its total for payment.
func (s *Service) DebitNoteApprove(ctx context.Context, invoiceID int64, value decimal.Decimal) (TransitionResult, error) {
	if value.IsNegative() {
		return TransitionResult{}, ErrNegativeDebitNote
	}
	res, err := s.override(ctx, invoiceID, "INVOICE_DEBIT_NOTE_APPROVE", func(inv *Invoice, po procurement.PurchaseOrder) (procurement.POStatus, error) {
		if inv.Status != InvoiceStatusDebitNoteApproval {
			return "", fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrInvalidTransition)
		}
		if err := transition(inv, InvoiceStatusValidated); err != nil {
			return "", err
		}
		inv.DebitNoteValue = decimal.NewNullDecimal(value)
		s.setDueDate(inv, po)
		return procurement.POStatusPartiallyFulfilled, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res.DebitNoteValue = &value
	return res, nil
}

// ExceptionApprove validates an invoice raised against a closed PO. The PO is left alone.
func (s *Service) ExceptionApprove(ctx context.Context, invoiceID int64) (TransitionResult, error) {
	res, err := s.override(ctx, invoiceID, "INVOICE_EXCEPTION_APPROVE", func(inv *Invoice, po procurement.PurchaseOrder) (procurement.POStatus, error) {
		if inv.Status != InvoiceStatusExceptionApproval {
			return "", fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrInvalidTransition)
		}
		if err := transition(inv, InvoiceStatusValidated); err != nil {
			return "", err
		}
		s.setDueDate(inv, po)
		return "", nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res.POStatus = ""
	return res, nil
}

// ResolveMismatch dispatches a human decision on a mismatched invoice.
func (s *Service) ResolveMismatch(ctx context.Context, invoiceID int64, action ResolutionAction) (ResolutionResult, error) {
	switch action {
	case ResolveProceedToPayment:
		res, err := s.ProceedToPaymentFromMismatch(ctx, invoiceID)
		if err != nil {
			return ResolutionResult{}, err
		}
		return ResolutionResult{Action: action, Transition: &res}, nil
	case ResolveDebitNote:
		res, err := s.MoveToDebitNoteApproval(ctx, invoiceID)
		if err != nil {
			return ResolutionResult{}, err
		}
		return ResolutionResult{Action: action, Transition: &res}, nil
	case ResolveRevalidate:
		out, err := s.ValidateAndUpdateInvoiceStatus(ctx, invoiceID)
		if err != nil {
			return ResolutionResult{}, err
		}
		return ResolutionResult{Action: action, Validation: &out}, nil
	}
	return ResolutionResult{}, fmt.Errorf("%q: %w", action, ErrUnknownResolution)
}

// override runs a human decision that validates the invoice. apply mutates the invoice and names
// the PO status to advance towards; empty leaves the PO untouched.
func (s *Service) override(ctx context.Context, invoiceID int64, action string, apply func(*Invoice, procurement.PurchaseOrder) (procurement.POStatus, error)) (TransitionResult, error) {
	var res TransitionResult
	var inv Invoice
	var from InvoiceStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var po procurement.PurchaseOrder
		var err error
		inv, po, err = lockInvoiceAndPO(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		from = inv.Status
		target, err := apply(&inv, po)
		if err != nil {
			return err
		}
		if err := tx.SaveInvoiceState(ctx, inv); err != nil {
			return err
		}
		res = TransitionResult{InvoiceStatus: inv.Status, PaymentDueDate: inv.PaymentDueDate, POStatus: po.Status}
		if target != "" {
			if res.POStatus, err = advancePO(ctx, tx, po, target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.recordAudit(ctx, action, invoiceID, map[string]any{"from": from, "to": res.InvoiceStatus, "poStatus": res.POStatus})
	s.recordOverride(ctx, inv, action)
	return res, nil
}

// SaveInvoiceInput carries a new invoice. POID wins over PONumber; SupplierID defaults to the PO's.
type SaveInvoiceInput struct {
	Number      string
	Date        time.Time
	SupplierID  int64
	POID        *int64
	PONumber    string
	TotalAmount decimal.Decimal
	TaxAmount   decimal.Decimal
	Lines       []InvoiceLineInput
}

// InvoiceLineInput is one billed line.
type InvoiceLineInput struct {
	ItemName     string
	BilledQty    decimal.Decimal
	Rate         decimal.Decimal
	TaxableValue decimal.Decimal
	CGSTAmount   decimal.Decimal
	SGSTAmount   decimal.Decimal
	LineTotal    decimal.Decimal
}

// SaveResult reports the stored invoice and, when it has a PO, the automatic validation.
type SaveResult struct {
	Invoice    Invoice            `json:"invoice"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
}

// SaveInvoice stores the invoice as waiting_for_validation, links lines to PO lines and then
// validates it. A failed validation leaves the invoice saved.
func (s *Service) SaveInvoice(ctx context.Context, input SaveInvoiceInput) (SaveResult, error) {
	input.Number = strings.TrimSpace(input.Number)
	if input.Number == "" {
		return SaveResult{}, fmt.Errorf("invoice number required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return SaveResult{}, fmt.Errorf("invoice needs at least one line: %w", shared.ErrValidation)
	}
	for i, l := range input.Lines {
		if l.BilledQty.IsNegative() {
			return SaveResult{}, fmt.Errorf("line %d billed quantity negative: %w", i+1, shared.ErrValidation)
		}
	}

	inv := Invoice{
		Number:      input.Number,
		Date:        input.Date,
		SupplierID:  input.SupplierID,
		POID:        input.POID,
		Status:      InvoiceStatusWaitingForValidation,
		TotalAmount: input.TotalAmount,
		TaxAmount:   input.TaxAmount,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if inv.POID == nil && strings.TrimSpace(input.PONumber) != "" {
			poID, err := tx.LatestPOIDByNumber(ctx, strings.TrimSpace(input.PONumber))
			if err != nil {
				return err
			}
			inv.POID = &poID
		}
		var poLines []procurement.POLine
		if inv.POID != nil {
			po, err := tx.GetPOForUpdate(ctx, *inv.POID)
			if err != nil {
				return err
			}
			if inv.SupplierID == 0 {
				inv.SupplierID = po.SupplierID
			}
			if poLines, err = tx.GetPOLines(ctx, po.ID); err != nil {
				return err
			}
		}
		if inv.SupplierID == 0 {
			return fmt.Errorf("supplier required: %w", shared.ErrValidation)
		}
		id, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		for i, l := range input.Lines {
			line := InvoiceLine{
				InvoiceID:    id,
				ItemName:     strings.TrimSpace(l.ItemName),
				BilledQty:    l.BilledQty,
				Rate:         l.Rate,
				TaxableValue: l.TaxableValue,
				CGSTAmount:   l.CGSTAmount,
				SGSTAmount:   l.SGSTAmount,
				LineTotal:    l.LineTotal,
			}
			if match, ok := MatchPOLine(i, l.ItemName, poLines); ok {
				poLineID := match.ID
				line.POLineID = &poLineID
			}
			if err := tx.InsertInvoiceLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number, "lines": len(input.Lines)})

	res := SaveResult{Invoice: inv}
	if inv.POID == nil {
		return res, nil
	}
	out, err := s.ValidateAndUpdateInvoiceStatus(ctx, inv.ID)
	if err != nil {
		s.logger.Warn("automatic invoice validation failed", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		return res, nil
	}
	res.Validation = &out
	res.Invoice.Status = out.InvoiceStatus
	res.Invoice.PaymentDueDate = out.PaymentDueDate
	return res, nil
}

// GetInvoiceDetail loads an invoice with its lines and ASN references. The debit-note file name
// is best effort and comes back nil when the lookup fails.
func (s *Service) GetInvoiceDetail(ctx context.Context, invoiceID int64) (InvoiceDetail, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return InvoiceDetail{}, err
	}
	lines, err := s.repo.GetInvoiceLines(ctx, invoiceID)
	if err != nil {
		return InvoiceDetail{}, err
	}
	asns, err := s.repo.ListASNByInvoiceNumber(ctx, inv.Number)
	if err != nil {
		return InvoiceDetail{}, err
	}
	detail := InvoiceDetail{Invoice: inv, Lines: lines, ASNs: asns}
	name, err := s.repo.DebitNoteFilename(ctx, invoiceID)
	switch {
	case err != nil:
		s.logger.Warn("debit note lookup failed", slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
	case name != "":
		detail.DebitNoteFile = &name
	}
	return detail, nil
}

func lockInvoiceAndPO(ctx context.Context, tx TxRepository, invoiceID int64) (Invoice, procurement.PurchaseOrder, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return Invoice{}, procurement.PurchaseOrder{}, err
	}
	if inv.POID == nil {
		return Invoice{}, procurement.PurchaseOrder{}, ErrInvoiceWithoutPO
	}
	po, err := tx.GetPOForUpdate(ctx, *inv.POID)
	if err != nil {
		return Invoice{}, procurement.PurchaseOrder{}, err
	}
	return inv, po, nil
}

func transition(inv *Invoice, target InvoiceStatus) error {
	if !inv.Status.CanTransitionTo(target) {
		return fmt.Errorf("invoice %s %s -> %s: %w", inv.Number, inv.Status, target, ErrInvalidTransition)
	}
	inv.Status = target
	return nil
}

// advancePO moves the PO towards target without ever regressing it.
func advancePO(ctx context.Context, tx TxRepository, po procurement.PurchaseOrder, target procurement.POStatus) (procurement.POStatus, error) {
	next := po.Status.Advance(target)
	if next == po.Status {
		return po.Status, nil
	}
	if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
		return "", err
	}
	return next, nil
}

func (s *Service) setDueDate(inv *Invoice, po procurement.PurchaseOrder) {
	due := DueDate(inv.Date, po.PaymentTerms, s.cfg.DefaultTermsDays, s.now())
	inv.PaymentDueDate = &due
}

func clearValidationFailure(inv *Invoice) {
	inv.ValidationReason = ""
	inv.ThisInvQty = decimal.NullDecimal{}
	inv.POQty = decimal.NullDecimal{}
	inv.GRNQty = decimal.NullDecimal{}
}

func (s *Service) recordAudit(ctx context.Context, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.AuditEntityInvoice,
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
	}
}

func (s *Service) recordOverride(ctx context.Context, inv Invoice, action string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   shared.ApprovalRef(ApprovalModule, inv.ID),
		ActorID: shared.ActorFromContext(ctx),
		Action:  shared.ApprovalOverride,
		Note:    fmt.Sprintf("%s %s", action, inv.Number),
	})
	if err != nil {
		s.logger.Warn("approval log failed", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
}
