package ocr

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	kindInvoice = "invoice"
	kindWeight  = "weight"
)

// DefaultLoadTimeout bounds one shared backend call.
const DefaultLoadTimeout = 2 * time.Minute

// Service extracts previews through a Backend, deduplicating concurrent and repeated work on the
// same document.
type Service struct {
	backend Backend
	cache   *Cache
	group   singleflight.Group
	logger  *slog.Logger
	timeout time.Duration
}

// NewService wires the backend with an optional cache.
func NewService(backend Backend, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, cache: cache, logger: logger, timeout: DefaultLoadTimeout}
}

// WithLoadTimeout overrides DefaultLoadTimeout; non-positive values are ignored.
func (s *Service) WithLoadTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// PreviewInvoice returns the typed invoice extracted from doc.
func (s *Service) PreviewInvoice(ctx context.Context, doc []byte) (InvoicePreview, error) {
	var out InvoicePreview
	err := s.extract(ctx, kindInvoice, doc, &out, func(ctx context.Context) (any, error) {
		raw, err := s.backend.InvoiceJSON(ctx, doc)
		if err != nil {
			return nil, err
		}
		return ParseInvoice(raw)
	})
	return out, err
}

// ExtractWeight returns the weight read from a weight slip.
func (s *Service) ExtractWeight(ctx context.Context, doc []byte) (WeightResult, error) {
	var out WeightResult
	err := s.extract(ctx, kindWeight, doc, &out, func(ctx context.Context) (any, error) {
		raw, err := s.backend.WeightText(ctx, doc)
		if err != nil {
			return nil, err
		}
		res, err := ParseWeight(raw)
		if err != nil {
			// an unreadable slip yields no weight rather than an error
			s.logger.Warn("weight output unparseable", slog.Any("error", err))
			return WeightResult{}, nil
		}
		return res, nil
	})
	return out, err
}

func (s *Service) extract(ctx context.Context, kind string, doc []byte, dest any, load func(context.Context) (any, error)) error {
	if len(doc) == 0 {
		return ErrEmptyDocument
	}
	key := Key(kind, doc)
	if hit, err := s.cache.Get(ctx, key, dest); err != nil {
		s.logger.Warn("ocr cache read failed", slog.String("key", key), slog.Any("error", err))
	} else if hit {
		return nil
	}

	// detached from ctx: the flight outlives any single waiter
	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(loadCtx, key, value); err != nil {
			s.logger.Warn("ocr cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		assign(dest, res.Val)
		return nil
	}
}

func assign(dest, value any) {
	switch d := dest.(type) {
	case *InvoicePreview:
		*d = value.(InvoicePreview)
	case *WeightResult:
		*d = value.(WeightResult)
	}
}
