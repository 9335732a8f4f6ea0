package ap

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

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

func newTestRouter(repo *memoryAPRepo) http.Handler {
	svc, _, _ := newTestService(repo)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerValidateInvoice(t *testing.T) {
	repo := newMemoryAPRepo()
	poID := repo.addPO(procurement.POStatusOpen, "", "100")
	invID := repo.addInvoice(poID, InvoiceStatusWaitingForValidation, invoiceDate, "80")
	h := newTestRouter(repo)

	rec := doRequest(h, http.MethodGet, fmt.Sprintf("/invoices/%d/validation", invID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	require.True(t, c.IsShortfall)
	require.True(t, c.ThisInvQty.Equal(decimal.NewFromInt(80)))

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/validate", invID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out ValidationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, ActionShortfall, out.Action)
	require.Equal(t, InvoiceStatusWaitingForReValidation, out.InvoiceStatus)
}

func TestHandlerErrorMapping(t *testing.T) {
	repo := newMemoryAPRepo()
	poID := repo.addPO(procurement.POStatusOpen, "", "100")
	invID := repo.addInvoice(poID, InvoiceStatusWaitingForReValidation, invoiceDate, "80")
	h := newTestRouter(repo)

	rec := doRequest(h, http.MethodGet, "/invoices/999/validation", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = doRequest(h, http.MethodPost, "/invoices/abc/validate", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/resolve", invID), `{"action":"ignore"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/exception/approve", invID), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/debit-note/approve", invID), `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, InvoiceStatusWaitingForReValidation, repo.invoices[invID].Status)
}

func TestHandlerDebitNoteApprove(t *testing.T) {
	repo := newMemoryAPRepo()
	poID := repo.addPO(procurement.POStatusOpen, "", "100")
	invID := repo.addInvoice(poID, InvoiceStatusWaitingForReValidation, invoiceDate, "80")
	h := newTestRouter(repo)

	rec := doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/resolve", invID), `{"action":"debit_note"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodPost, fmt.Sprintf("/invoices/%d/debit-note/approve", invID), `{"debitNoteValue": 812.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, InvoiceStatusValidated, res.InvoiceStatus)
	require.True(t, res.DebitNoteValue.Equal(decimal.RequireFromString("812.5")))
}

func TestHandlerSaveInvoice(t *testing.T) {
	repo := newMemoryAPRepo()
	poID := repo.addPO(procurement.POStatusOpen, "", "10")
	repo.grnQty[poID] = decimal.NewFromInt(10)
	h := newTestRouter(repo)

	body := fmt.Sprintf(`{"invoiceNumber":"INV-7","invoiceDate":"2024-01-10","poId":%d,"totalAmount":"118","taxAmount":"18",
"items":[{"itemName":"Item 10","quantity":10,"rate":"10","amount":"100"}]}`, poID)
	rec := doRequest(h, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res SaveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, InvoiceStatusValidated, res.Invoice.Status)
	require.Equal(t, ActionValidated, res.Validation.Action)

	rec = doRequest(h, http.MethodPost, "/invoices", `{"invoiceNumber":"INV-8","items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, "/invoices", `{"invoiceNumber":"INV-9","invoiceDate":"10/01/2024","supplierId":1,"items":[{"itemName":"x","quantity":1}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
