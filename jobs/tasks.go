package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-procurement/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTotalsRefresh recomputes cached order and delivery totals.
	TaskTotalsRefresh = "procurement:totals-refresh"
	// TaskRankingReindex drops every cached supplier ranking.
	TaskRankingReindex = "procurement:ranking-reindex"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Refresh scopes accepted by TotalsRefreshPayload.
const (
	ScopeAll        = "all"
	ScopeOrders     = "orders"
	ScopeDeliveries = "deliveries"
)

// TotalsRefreshPayload configures a totals refresh run.
type TotalsRefreshPayload struct {
	Scope     string `json:"scope"`
	BatchSize int    `json:"batch_size"`
}

// NewTotalsRefreshTask builds an Asynq task for refreshing totals.
func NewTotalsRefreshTask(scope string, batchSize int) (*asynq.Task, error) {
	if scope == "" {
		scope = ScopeAll
	}
	body, err := json.Marshal(TotalsRefreshPayload{Scope: scope, BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTotalsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// RankingReindexPayload records why rankings were dropped.
type RankingReindexPayload struct {
	Reason string `json:"reason"`
}

// NewRankingReindexTask builds a ranking reindex task.
func NewRankingReindexTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(RankingReindexPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRankingReindex, body, asynq.Queue(QueueDefault)), nil
}

// TaskIdempotencyCleanup purges expired idempotency keys.
const TaskIdempotencyCleanup = "procurement:idempotency-cleanup"

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
