package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail bool
	}{
		{fmt.Errorf("po 9: %w", shared.ErrNotFound), http.StatusNotFound, true},
		{fmt.Errorf("invoice not awaiting re-validation: %w", shared.ErrStateConflict), http.StatusNotFound, true},
		{fmt.Errorf("amount: %w", shared.ErrValidation), http.StatusBadRequest, true},
		{shared.ErrIdempotencyConflict, http.StatusConflict, true},
		{errors.New("connection reset"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.detail {
			require.Equal(t, tc.err.Error(), body.Detail)
		} else {
			require.Empty(t, body.Detail, "internal errors must not leak")
		}
	}
}

type decodeTarget struct {
	Reason string `json:"reason" validate:"required"`
}

type optionalTarget struct {
	Notes string `json:"notes"`
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"wrong rate"}`))
	var ok decodeTarget
	require.NoError(t, DecodeJSON(req, &ok))
	require.Equal(t, "wrong rate", ok.Reason)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`))
	err := DecodeJSON(req, &decodeTarget{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "Reason failed required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.ErrorIs(t, DecodeJSON(req, &decodeTarget{}), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, DecodeJSON(req, &optionalTarget{}))
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	var gotErr error
	r.Get("/po/{id}", func(w http.ResponseWriter, req *http.Request) {
		got, gotErr = IDParam(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/po/17", nil))
	require.NoError(t, gotErr)
	require.Equal(t, int64(17), got)

	for _, raw := range []string{"0", "-4", "abc"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/po/"+raw, nil))
		require.ErrorIs(t, gotErr, shared.ErrValidation, raw)
	}
}
