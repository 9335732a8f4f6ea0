package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

const maxWorkbookBytes = 32 << 20

// SweepEnqueuer schedules a background sweep of all open POs.
type SweepEnqueuer interface {
	EnqueuePOSweep(ctx context.Context) (string, error)
}

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	sweeps  SweepEnqueuer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sweeps SweepEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, sweeps: sweeps}
}

// MountRoutes registers procurement routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Post("/sweep", h.enqueueSweep)
		r.Get("/{id}/quantities", h.getQuantities)
		r.Post("/{id}/force-close", h.forceClose)
		r.Post("/{id}/sweep", h.sweepOne)
	})
	r.Post("/imports/procurement", h.importWorkbook)
}

func (h *Handler) getQuantities(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.service.GetCumulativeQuantities(r.Context(), id)
	if err != nil {
		h.fail(w, "po quantities", err)
		return
	}
	httpx.JSON(w, http.StatusOK, qty)
}

func (h *Handler) forceClose(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ForceClosePO(r.Context(), id)
	if err != nil {
		h.fail(w, "force close po", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"poId": po.ID, "poStatus": po.Status})
}

func (h *Handler) sweepOne(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.UpdatePOStatusFromCumulative(r.Context(), id)
	if err != nil {
		h.fail(w, "po cumulative check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) enqueueSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeps == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background jobs not configured")
		return
	}
	taskID, err := h.sweeps.EnqueuePOSweep(r.Context())
	if err != nil {
		h.fail(w, "enqueue po sweep", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (h *Handler) importWorkbook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWorkbookBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("multipart field file: %w", shared.ErrValidation))
		return
	}
	defer file.Close()
	wb, err := ParseWorkbook(file)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sum, err := h.service.Import(r.Context(), wb)
	if err != nil {
		h.fail(w, "import workbook", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
