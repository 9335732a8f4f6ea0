package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-p2p/internal/jobs"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

// Sweeper runs the cumulative fulfilment check over open purchase orders.
type Sweeper interface {
	SweepOpenPOs(ctx context.Context, concurrency int) (procurement.SweepSummary, error)
}

// POSweepJob promotes purchase orders whose receipts and invoices caught up with the order.
type POSweepJob struct {
	Sweeper     Sweeper
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewPOSweepJob initialises the sweep handler.
func NewPOSweepJob(sweeper Sweeper, concurrency int, logger *slog.Logger, metrics *jobmetrics.Metrics) *POSweepJob {
	return &POSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics, Concurrency: concurrency}
}

// Handle executes one sweep.
func (j *POSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("po sweep: handler not configured")
	}
	var payload POSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = j.Concurrency
	}

	tracker := j.metrics().Track(TaskPOSweep)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int("concurrency", concurrency))
	summary, err := j.Sweeper.SweepOpenPOs(ctx, concurrency)
	if err != nil {
		logger.Error("po sweep failed", slog.Any("error", err))
		return err
	}
	j.metrics().AddPromotions(summary.Promoted)
	logger.Info("po sweep completed",
		slog.Int64("checked", summary.Checked),
		slog.Int64("promoted", summary.Promoted),
		slog.Int64("failed", summary.Failed),
	)
	return nil
}

func (j *POSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPOSweep))
	}
	return slog.Default().With(slog.String("job", TaskPOSweep))
}

func (j *POSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
