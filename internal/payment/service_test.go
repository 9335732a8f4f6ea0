package payment

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-p2p/internal/ap"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

type memoryLedgerRepo struct {
	mu           sync.Mutex
	invoices     map[int64]ap.Invoice
	suppliers    map[int64]procurement.Supplier
	approvals    map[int64]Approval
	transactions []Transaction
	keys         map[string]struct{}
	failInsert   bool
	nextID       int64
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		invoices: make(map[int64]ap.Invoice),
		suppliers: map[int64]procurement.Supplier{
			3: {ID: 3, Code: "SUP-3", BankAccountName: "Acme Metals", BankAccountNumber: "001122", BankIFSC: "HDFC0001234", BankName: "HDFC"},
		},
		approvals: make(map[int64]Approval),
		keys:      make(map[string]struct{}),
	}
}

func (r *memoryLedgerRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryLedgerRepo) addInvoice(status ap.InvoiceStatus, total string) int64 {
	id := r.id()
	r.invoices[id] = ap.Invoice{ID: id, Number: "INV-9", SupplierID: 3, Status: status, TotalAmount: decimal.RequireFromString(total)}
	return id
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoices := maps.Clone(r.invoices)
	approvals := maps.Clone(r.approvals)
	keys := maps.Clone(r.keys)
	txs := slices.Clone(r.transactions)
	if err := fn(ctx, &memoryLedgerTx{repo: r}); err != nil {
		r.invoices, r.approvals, r.keys, r.transactions = invoices, approvals, keys, txs
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) GetApproval(ctx context.Context, id int64) (Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok {
		return Approval{}, ErrApprovalNotFound
	}
	return a, nil
}

func (r *memoryLedgerRepo) ListTransactions(ctx context.Context, approvalID int64) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, t := range r.transactions {
		if t.ApprovalID == approvalID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (t *memoryLedgerTx) GetInvoiceForUpdate(ctx context.Context, id int64) (ap.Invoice, error) {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return ap.Invoice{}, ap.ErrInvoiceNotFound
	}
	return inv, nil
}

func (t *memoryLedgerTx) SetInvoiceStatus(ctx context.Context, id int64, status ap.InvoiceStatus) error {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return ap.ErrInvoiceNotFound
	}
	inv.Status = status
	t.repo.invoices[id] = inv
	return nil
}

func (t *memoryLedgerTx) GetSupplier(ctx context.Context, id int64) (procurement.Supplier, error) {
	s, ok := t.repo.suppliers[id]
	if !ok {
		return procurement.Supplier{}, procurement.ErrSupplierNotFound
	}
	return s, nil
}

func (t *memoryLedgerTx) FindApprovalByInvoiceForUpdate(ctx context.Context, invoiceID int64) (Approval, bool, error) {
	for _, a := range t.repo.approvals {
		if a.InvoiceID == invoiceID {
			return a, true, nil
		}
	}
	return Approval{}, false, nil
}

func (t *memoryLedgerTx) GetApproval(ctx context.Context, id int64) (Approval, error) {
	return t.GetApprovalForUpdate(ctx, id)
}

func (t *memoryLedgerTx) GetApprovalForUpdate(ctx context.Context, id int64) (Approval, error) {
	a, ok := t.repo.approvals[id]
	if !ok {
		return Approval{}, ErrApprovalNotFound
	}
	return a, nil
}

func (t *memoryLedgerTx) UpsertApproval(ctx context.Context, a Approval) (Approval, error) {
	if existing, found, _ := t.FindApprovalByInvoiceForUpdate(ctx, a.InvoiceID); found {
		a.ID = existing.ID
		a.PaidBy, a.PaidAt = existing.PaidBy, existing.PaidAt
		a.PaymentType, a.PaymentReference = existing.PaymentType, existing.PaymentReference
	} else {
		a.ID = t.repo.id()
	}
	t.repo.approvals[a.ID] = a
	return a, nil
}

func (t *memoryLedgerTx) SaveSettlement(ctx context.Context, a Approval) error {
	if _, ok := t.repo.approvals[a.ID]; !ok {
		return ErrApprovalNotFound
	}
	t.repo.approvals[a.ID] = a
	return nil
}

func (t *memoryLedgerTx) SumTransactions(ctx context.Context, approvalID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tr := range t.repo.transactions {
		if tr.ApprovalID == approvalID {
			total = total.Add(tr.Amount)
		}
	}
	return total, nil
}

func (t *memoryLedgerTx) InsertTransaction(ctx context.Context, tr Transaction) (int64, error) {
	if t.repo.failInsert {
		return 0, context.DeadlineExceeded
	}
	tr.ID = t.repo.id()
	t.repo.transactions = append(t.repo.transactions, tr)
	return tr.ID, nil
}

func (t *memoryLedgerTx) ClaimIdempotencyKey(ctx context.Context, key string) error {
	if _, ok := t.repo.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.repo.keys[key] = struct{}{}
	return nil
}

type memoryHistory struct {
	logs []shared.ApprovalLog
}

func (h *memoryHistory) Record(ctx context.Context, log shared.ApprovalLog) error {
	h.logs = append(h.logs, log)
	return nil
}

func (h *memoryHistory) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range h.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingObserver struct {
	statuses []string
}

func (o *recordingObserver) ObservePayment(status string, amount decimal.Decimal) {
	o.statuses = append(o.statuses, status)
}

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(repo *memoryLedgerRepo) (*Service, *memoryHistory, *recordingObserver) {
	history := &memoryHistory{}
	observer := &recordingObserver{}
	svc := NewService(repo, nil, history, observer, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, history, observer
}

func approvedInvoice(t *testing.T, repo *memoryLedgerRepo, svc *Service, total string) (int64, Approval) {
	t.Helper()
	invID := repo.addInvoice(ap.InvoiceStatusValidated, total)
	approval, err := svc.Approve(context.Background(), invID, ApproveInput{})
	require.NoError(t, err)
	return invID, approval
}

func amount(v string) PaymentInput {
	return PaymentInput{Amount: decimal.RequireFromString(v)}
}

func TestApproveSnapshotsBankAndTotal(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, history, _ := newTestService(repo)
	invID := repo.addInvoice(ap.InvoiceStatusValidated, "1180")
	inv := repo.invoices[invID]
	inv.DebitNoteValue = decimal.NewNullDecimal(decimal.NewFromInt(1000))
	repo.invoices[invID] = inv

	ctx := shared.ContextWithActor(context.Background(), 42)
	approval, err := svc.Approve(ctx, invID, ApproveInput{Bank: BankDetails{BankName: "ICICI"}})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approval.Status)
	require.True(t, approval.TotalAmount.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, int64(42), approval.ApproverID)
	require.Equal(t, BankDetails{AccountName: "Acme Metals", AccountNumber: "001122", IFSC: "HDFC0001234", BankName: "ICICI"}, approval.Bank)
	require.Equal(t, fixedNow, *approval.ApprovedAt)
	require.Equal(t, ap.InvoiceStatusReadyForPayment, repo.invoices[invID].Status)
	require.Len(t, history.logs, 1)
	require.Equal(t, shared.ApprovalApprove, history.logs[0].Action)

	_, err = svc.Approve(ctx, invID, ApproveInput{})
	require.ErrorIs(t, err, ErrInvoiceNotPayable)
}

func TestApproveRequiresValidatedInvoice(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	invID := repo.addInvoice(ap.InvoiceStatusWaitingForReValidation, "100")

	_, err := svc.Approve(context.Background(), invID, ApproveInput{})
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Empty(t, repo.approvals)

	_, err = svc.Approve(context.Background(), 999, ApproveInput{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordPaymentPartialThenSettled(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, observer := newTestService(repo)
	invID, approval := approvedInvoice(t, repo, svc, "1000")
	ctx := context.Background()

	res, err := svc.RecordPayment(ctx, approval.ID, amount("400"))
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, res.Status)
	require.True(t, res.PaidSoFar.Equal(decimal.NewFromInt(400)))
	require.True(t, res.Remaining.Equal(decimal.NewFromInt(600)))
	require.Equal(t, ap.InvoiceStatusPartiallyPaid, repo.invoices[invID].Status)

	res, err = svc.RecordPayment(ctx, approval.ID, amount("600"))
	require.NoError(t, err)
	require.Equal(t, StatusPaymentDone, res.Status)
	require.True(t, res.Remaining.IsZero())
	require.Equal(t, ap.InvoiceStatusPaid, repo.invoices[invID].Status)
	require.Equal(t, fixedNow, *repo.approvals[approval.ID].PaidAt)

	_, err = svc.RecordPayment(ctx, approval.ID, amount("1"))
	require.ErrorIs(t, err, ErrAmountExceedsRemaining)
	require.Len(t, repo.transactions, 2)
	require.Equal(t, []string{"partially_paid", "payment_done"}, observer.statuses)
}

func TestRecordPaymentConservesBalance(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	_, approval := approvedInvoice(t, repo, svc, "250.75")
	ctx := context.Background()

	for _, v := range []string{"100.25", "50", "0.5", "99.995"} {
		res, err := svc.RecordPayment(ctx, approval.ID, amount(v))
		require.NoError(t, err)
		require.True(t, res.PaidSoFar.Add(res.Remaining).Equal(approval.TotalAmount) || res.Status == StatusPaymentDone)
	}
	ledger, err := svc.GetLedger(ctx, approval.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentDone, ledger.Approval.Status)
	require.True(t, ledger.PaidSoFar.Equal(decimal.RequireFromString("250.745")))
	require.Len(t, ledger.Transactions, 4)
}

func TestRecordPaymentRejectsBadAmounts(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	_, approval := approvedInvoice(t, repo, svc, "100")
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, approval.ID, amount("0"))
	require.ErrorIs(t, err, ErrAmountNotPositive)
	_, err = svc.RecordPayment(ctx, approval.ID, amount("-5"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordPayment(ctx, approval.ID, amount("100.01"))
	require.ErrorIs(t, err, ErrAmountExceedsRemaining)
	_, err = svc.RecordPayment(ctx, 999, amount("1"))
	require.ErrorIs(t, err, ErrApprovalNotFound)
	require.Empty(t, repo.transactions)
}

func TestRecordPaymentRollsBackOnInsertFailure(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	invID, approval := approvedInvoice(t, repo, svc, "100")
	repo.failInsert = true

	_, err := svc.RecordPayment(context.Background(), approval.ID, PaymentInput{Amount: decimal.NewFromInt(10), IdempotencyKey: "k-1"})
	require.Error(t, err)
	require.Equal(t, StatusApproved, repo.approvals[approval.ID].Status)
	require.Equal(t, ap.InvoiceStatusReadyForPayment, repo.invoices[invID].Status)
	require.Empty(t, repo.keys)
}

func TestRecordPaymentIdempotencyKey(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	_, approval := approvedInvoice(t, repo, svc, "100")
	ctx := context.Background()

	in := PaymentInput{Amount: decimal.NewFromInt(30), IdempotencyKey: "bank-ref-77"}
	_, err := svc.RecordPayment(ctx, approval.ID, in)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, approval.ID, in)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Len(t, repo.transactions, 1)
	require.Regexp(t, `^PAY-[0-9A-F]{8}$`, repo.transactions[0].Reference)
}

func TestRecordPaymentRequiresPayableApproval(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	invID := repo.addInvoice(ap.InvoiceStatusValidated, "100")
	rejected, err := svc.Reject(context.Background(), invID, "duplicate billing")
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), rejected.ID, amount("10"))
	require.ErrorIs(t, err, ErrApprovalConflict)
}

func TestMarkDonePaysRemainder(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	invID, approval := approvedInvoice(t, repo, svc, "500")
	ctx := shared.ContextWithActor(context.Background(), 8)

	_, err := svc.RecordPayment(ctx, approval.ID, amount("120"))
	require.NoError(t, err)
	res, err := svc.MarkDone(ctx, approval.ID, MarkDoneInput{PaymentType: "NEFT", Reference: "UTR-1"})
	require.NoError(t, err)
	require.Equal(t, StatusPaymentDone, res.Status)
	require.True(t, res.PaidSoFar.Equal(decimal.NewFromInt(500)))
	require.Len(t, repo.transactions, 2)
	require.True(t, repo.transactions[1].Amount.Equal(decimal.NewFromInt(380)))

	settled := repo.approvals[approval.ID]
	require.Equal(t, "UTR-1", settled.PaymentReference)
	require.Equal(t, int64(8), *settled.PaidBy)
	require.Equal(t, ap.InvoiceStatusPaid, repo.invoices[invID].Status)

	_, err = svc.MarkDone(ctx, approval.ID, MarkDoneInput{})
	require.ErrorIs(t, err, ErrApprovalConflict)
}

func TestReject(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, history, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Reject(ctx, 1, "   ")
	require.ErrorIs(t, err, ErrReasonRequired)

	invID, approval := approvedInvoice(t, repo, svc, "100")
	rejected, err := svc.Reject(ctx, invID, "bank details mismatch")
	require.NoError(t, err)
	require.Equal(t, approval.ID, rejected.ID)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "bank details mismatch", rejected.RejectionReason)
	require.Equal(t, ap.InvoiceStatusRejected, repo.invoices[invID].Status)
	require.Equal(t, shared.ApprovalReject, history.logs[len(history.logs)-1].Action)

	ledger, err := svc.GetLedger(ctx, approval.ID)
	require.NoError(t, err)
	require.Len(t, ledger.History, 2)
}

func TestRejectBlockedOnceMoneyMoved(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	invID, approval := approvedInvoice(t, repo, svc, "100")
	_, err := svc.RecordPayment(context.Background(), approval.ID, amount("10"))
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), invID, "late")
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Equal(t, StatusPartiallyPaid, repo.approvals[approval.ID].Status)
	require.Equal(t, ap.InvoiceStatusPartiallyPaid, repo.invoices[invID].Status)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	_, approval := approvedInvoice(t, repo, svc, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.RecordPayment(context.Background(), approval.ID, amount("75"))
		}()
	}
	wg.Wait()

	ledger, err := svc.GetLedger(context.Background(), approval.ID)
	require.NoError(t, err)
	require.True(t, ledger.PaidSoFar.LessThanOrEqual(approval.TotalAmount))
	require.Len(t, ledger.Transactions, 13)
}

func TestPaymentHonoursInvoiceTransitions(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	invID, approval := approvedInvoice(t, repo, svc, "100")
	inv := repo.invoices[invID]
	inv.Status = ap.InvoiceStatusRejected
	repo.invoices[invID] = inv

	_, err := svc.RecordPayment(ctx, approval.ID, amount("40"))
	require.ErrorIs(t, err, ErrInvoiceNotPayable)
	_, err = svc.MarkDone(ctx, approval.ID, MarkDoneInput{})
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Empty(t, repo.transactions)
	require.Equal(t, StatusApproved, repo.approvals[approval.ID].Status)
	require.Equal(t, ap.InvoiceStatusRejected, repo.invoices[invID].Status)

	partial, partialApproval := approvedInvoice(t, repo, svc, "100")
	for _, v := range []string{"10", "20"} {
		res, err := svc.RecordPayment(ctx, partialApproval.ID, amount(v))
		require.NoError(t, err)
		require.Equal(t, StatusPartiallyPaid, res.Status)
	}
	require.Equal(t, ap.InvoiceStatusPartiallyPaid, repo.invoices[partial].Status)
}
