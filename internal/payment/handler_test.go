package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-p2p/internal/ap"
)

func newTestRouter(repo *memoryLedgerRepo) http.Handler {
	svc, _, _ := newTestService(repo)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func doRequest(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPaymentFlow(t *testing.T) {
	repo := newMemoryLedgerRepo()
	invID := repo.addInvoice(ap.InvoiceStatusValidated, "1000")
	h := newTestRouter(repo)

	rec := doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/payment-approval", invID), `{"bankIfsc":"sbin0000001"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approval Approval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approval))
	require.Equal(t, "SBIN0000001", approval.Bank.IFSC)
	require.Equal(t, "001122", approval.Bank.AccountNumber)

	path := fmt.Sprintf("/payment-approvals/%d/transactions", approval.ID)
	rec = doRequest(h, http.MethodPost, path, `{"amount":"400","paymentType":"NEFT"}`, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, StatusPartiallyPaid, res.Status)
	require.True(t, res.Remaining.Equal(decimal.NewFromInt(600)))

	rec = doRequest(h, http.MethodPost, path, `{"amount":"400"}`, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(h, http.MethodPost, path, `{"amount":"600.5"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "amount exceeds remaining balance")

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/payment-approvals/%d/done", approval.ID), `{"reference":"UTR-9"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodGet, fmt.Sprintf("/payment-approvals/%d", approval.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger Ledger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	require.Equal(t, StatusPaymentDone, ledger.Approval.Status)
	require.Len(t, ledger.Transactions, 2)
	require.True(t, ledger.Remaining.IsZero())
}

func TestHandlerPaymentValidation(t *testing.T) {
	repo := newMemoryLedgerRepo()
	invID := repo.addInvoice(ap.InvoiceStatusValidated, "100")
	h := newTestRouter(repo)

	rec := doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/payment-approval", invID), `{"bankIfsc":"short"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/payment-rejection", invID), `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, "/payment-approvals/77/transactions", `{"amount":"5"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodPost, "/payment-approvals/77/transactions", `{"paymentType":"NEFT"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/payment-rejection", invID), `{"reason":"duplicate"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ap.InvoiceStatusRejected, repo.invoices[invID].Status)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/payment-approval", invID), `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
