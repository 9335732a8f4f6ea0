package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-p2p/internal/jobs"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

type fakeSweeper struct {
	concurrency int
	summary     procurement.SweepSummary
	err         error
}

func (f *fakeSweeper) SweepOpenPOs(ctx context.Context, concurrency int) (procurement.SweepSummary, error) {
	f.concurrency = concurrency
	return f.summary, f.err
}

func TestPOSweepJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	sweeper := &fakeSweeper{summary: procurement.SweepSummary{Checked: 9, Promoted: 4, Failed: 1}}
	job := NewPOSweepJob(sweeper, 8, nil, metrics)

	task, err := NewPOSweepTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 8, sweeper.concurrency)

	task, err = NewPOSweepTask(2)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, sweeper.concurrency)

	sweeper.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))

	err = job.Handle(context.Background(), asynq.NewTask(TaskPOSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter() != nil {
				values[f.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(8), values["p2p_po_sweep_promotions_total"])
	require.Equal(t, float64(1), values["p2p_jobs_failures_total"])
	require.Equal(t, float64(3), values["p2p_jobs_total"])
}

type fakeKeyStore struct {
	retention time.Duration
	purged    int64
}

func (f *fakeKeyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.purged, nil
}

func TestIdempotencyCleanupJob(t *testing.T) {
	store := &fakeKeyStore{purged: 12}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, store.retention)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.retention)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientEnqueuePOSweep(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq, 6)

	id, err := client.EnqueuePOSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskPOSweep, enq.tasks[0].Type())
	var payload POSweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 6, payload.Concurrency)

	enq.err = asynq.ErrDuplicateTask
	id, err = client.EnqueuePOSweep(context.Background())
	require.NoError(t, err)
	require.Empty(t, id)

	enq.err = errors.New("redis down")
	_, err = client.EnqueuePOSweep(context.Background())
	require.Error(t, err)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthHandler(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rec.Body.String())

	rec = serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Retry: 1}}, nil))
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":1}`, rec.Body.String())

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsTrackerNilSafe(t *testing.T) {
	var m *jobmetrics.Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.AddPromotions(3)
	m.AddPurged(1)
}
