package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/internal/delivery"
	jobmetrics "github.com/odyssey-erp/odyssey-procurement/internal/jobs"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
)

type stubOrderTotals struct {
	calls     int
	batchSize int
	report    procurement.RefreshReport
	err       error
}

func (s *stubOrderTotals) RefreshTotals(_ context.Context, batchSize int) (procurement.RefreshReport, error) {
	s.calls++
	s.batchSize = batchSize
	return s.report, s.err
}

type stubDeliveryTotals struct {
	calls  int
	report delivery.RefreshReport
}

func (s *stubDeliveryTotals) RefreshTotals(_ context.Context, _ int) (delivery.RefreshReport, error) {
	s.calls++
	return s.report, nil
}

func newTotalsJob() (*TotalsRefreshJob, *stubOrderTotals, *stubDeliveryTotals) {
	orders := &stubOrderTotals{report: procurement.RefreshReport{Scanned: 4, Repaired: 1}}
	deliveries := &stubDeliveryTotals{report: delivery.RefreshReport{Scanned: 2}}
	job := NewTotalsRefreshJob(orders, deliveries, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return job, orders, deliveries
}

func TestTotalsRefreshJobRunsBothScopes(t *testing.T) {
	job, orders, deliveries := newTotalsJob()
	task, err := NewTotalsRefreshTask("", 50)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, orders.calls)
	assert.Equal(t, 50, orders.batchSize)
	assert.Equal(t, 1, deliveries.calls)
}

func TestTotalsRefreshJobHonoursScope(t *testing.T) {
	job, orders, deliveries := newTotalsJob()
	task, err := NewTotalsRefreshTask(ScopeDeliveries, 0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Zero(t, orders.calls)
	assert.Equal(t, 1, deliveries.calls)
}

func TestTotalsRefreshJobFailures(t *testing.T) {
	job, orders, deliveries := newTotalsJob()
	orders.err = errors.New("db down")
	task, err := NewTotalsRefreshTask(ScopeAll, 0)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.EqualError(t, err, "db down")
	assert.Zero(t, deliveries.calls)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTotalsRefresh, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTotalsRefresh, []byte(`{"scope":"suppliers"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *TotalsRefreshJob
	assert.Error(t, unconfigured.Handle(context.Background(), task))
}

type countingBumper struct {
	bumps int
	err   error
}

func (c *countingBumper) Bump(context.Context) error {
	c.bumps++
	return c.err
}

func TestRankingReindexJobBumpsCache(t *testing.T) {
	cache := &countingBumper{}
	job := NewRankingReindexJob(cache, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewRankingReindexTask("nightly")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, cache.bumps)

	cache.err = errors.New("redis down")
	assert.EqualError(t, job.Handle(context.Background(), task), "redis down")
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: QueueDefault}, nil
}

func TestHandlerEnqueuesTotalsRefresh(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	router := chi.NewRouter()
	router.Route("/jobs", NewHandler(nil, &Client{client: enqueuer}, nil).MountRoutes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/totals-refresh", strings.NewReader(`{"scope":"orders","batch_size":25}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, enqueuer.tasks, 1)
	var payload TotalsRefreshPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	assert.Equal(t, TotalsRefreshPayload{Scope: ScopeOrders, BatchSize: 25}, payload)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/totals-refresh", strings.NewReader(`{"scope":"everything"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	enqueuer.err = asynq.ErrDuplicateTask
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/totals-refresh", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

type stubKeyCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (s *stubKeyCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.removed, nil
}

func TestIdempotencyCleanupJobUsesRetention(t *testing.T) {
	store := &stubKeyCleaner{removed: 3}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, store.olderThan)

	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, defaultKeyRetention, store.olderThan)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
