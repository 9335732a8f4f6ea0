package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-p2p/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPOSweep re-checks cumulative quantities of every open purchase order.
	TaskPOSweep = "procurement:po-sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// POSweepPayload tunes a sweep run; zero concurrency uses the job default.
type POSweepPayload struct {
	Concurrency int `json:"concurrency"`
}

// NewPOSweepTask builds a sweep task.
func NewPOSweepTask(concurrency int) (*asynq.Task, error) {
	body, err := json.Marshal(POSweepPayload{Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOSweep, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload holds the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
