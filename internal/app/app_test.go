package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-p2p/testing"

	"github.com/odyssey-erp/odyssey-p2p/internal/observability"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
	"github.com/odyssey-erp/odyssey-p2p/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, OCRBackendService, cfg.OCRBackend)
	require.Equal(t, 30, cfg.PaymentTermsDefaultDays)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsVisionWithoutKey(t *testing.T) {
	t.Setenv("OCR_BACKEND", OCRBackendVision)
	t.Setenv("OCR_API_KEY", "")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "OCR_API_KEY")

	t.Setenv("OCR_BACKEND", "tesseract")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "unknown OCR_BACKEND")
}

func TestTestModeFromEnvironment(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json", AppEnv: "staging"}).Info("hello")
	require.Contains(t, buf.String(), `"env":"staging"`)
	require.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	for header, want := range map[string]int64{"42": 42, "": 0, "abc": 0, "-1": 0} {
		seen = -1
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(ActorHeader, header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, want, seen, "header %q", header)
	}
}

func TestRouterOpsEndpoints(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:     &Config{AppEnv: "production"},
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    metrics,
	})

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = get("/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get("/api/invoices/1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `p2p_http_requests_total{code="200",route="/healthz"} 1`))
}
