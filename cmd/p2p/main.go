package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-p2p/internal/ap"
	"github.com/odyssey-erp/odyssey-p2p/internal/app"
	"github.com/odyssey-erp/odyssey-p2p/internal/observability"
	"github.com/odyssey-erp/odyssey-p2p/internal/ocr"
	"github.com/odyssey-erp/odyssey-p2p/internal/payment"
	"github.com/odyssey-erp/odyssey-p2p/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-p2p/internal/platform/db"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
	"github.com/odyssey-erp/odyssey-p2p/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// The OCR cache is optional; previews still work without redis.
	var ocrCache *ocr.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, ocr cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		ocrCache = ocr.NewCache(redisClient, cfg.OCRCacheTTL)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.SweepConcurrency)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), auditLogger, logger)
	apService := ap.NewService(ap.NewRepository(dbpool), auditLogger, approvalRecorder, metrics,
		ap.Config{DefaultTermsDays: cfg.PaymentTermsDefaultDays}, logger)
	paymentService := payment.NewService(payment.NewRepository(dbpool), auditLogger, approvalRecorder, metrics, logger)

	backend, err := newOCRBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("init ocr backend", slog.Any("error", err))
		os.Exit(1)
	}
	ocrService := ocr.NewService(backend, ocrCache, logger).WithLoadTimeout(cfg.OCRTimeout)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurement.NewHandler(logger, procurementService, jobClient),
		APHandler:          ap.NewHandler(logger, apService),
		PaymentHandler:     payment.NewHandler(logger, paymentService),
		OCRHandler:         ocr.NewHandler(logger, ocrService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newOCRBackend(ctx context.Context, cfg *app.Config, logger *slog.Logger) (ocr.Backend, error) {
	switch cfg.OCRBackend {
	case app.OCRBackendVision:
		return ocr.NewVisionBackend(ocr.VisionConfig{
			APIKey:  cfg.OCRAPIKey,
			BaseURL: cfg.OCRBaseURL,
			Model:   cfg.OCRModel,
		}), nil
	case app.OCRBackendService:
		client := ocr.NewServiceClient(cfg.OCRServiceURL, cfg.OCRTimeout)
		if err := client.Ping(ctx); err != nil {
			logger.Warn("ocr service not reachable yet", slog.String("url", cfg.OCRServiceURL), slog.Any("error", err))
		}
		return client, nil
	default:
		return nil, errors.New("unsupported ocr backend " + cfg.OCRBackend)
	}
}
