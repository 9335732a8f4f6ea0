package ocr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-p2p/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

const maxDocumentBytes = 20 << 20

// Handler exposes extraction previews.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers OCR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ocr/invoice", h.previewInvoice)
	r.Post("/ocr/weight", h.extractWeight)
}

func (h *Handler) previewInvoice(w http.ResponseWriter, r *http.Request) {
	doc, err := readDocument(w, r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	preview, err := h.service.PreviewInvoice(r.Context(), doc)
	if err != nil {
		h.fail(w, "ocr invoice preview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) extractWeight(w http.ResponseWriter, r *http.Request) {
	doc, err := readDocument(w, r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ExtractWeight(r.Context(), doc)
	if err != nil {
		h.fail(w, "ocr weight", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func readDocument(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart field file: %w", shared.ErrValidation)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	switch {
	case errors.Is(err, ErrUpstream):
		httpx.Problem(w, http.StatusBadGateway, "OCR Unavailable", "the OCR collaborator did not return a result")
	case errors.Is(err, ErrNoJSONObject):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unreadable Document", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
