package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-procurement/internal/jobs"
)

// RankingInvalidator drops cached supplier rankings.
type RankingInvalidator interface {
	Bump(ctx context.Context) error
}

// RankingReindexJob drops cached rankings so they are rebuilt from the
// supplier tables. Supplier edits made through the API already do this; the
// job covers edits made directly in the database.
type RankingReindexJob struct {
	Cache   RankingInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRankingReindexJob constructs the job handler.
func NewRankingReindexJob(cache RankingInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RankingReindexJob {
	return &RankingReindexJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle bumps the ranking cache version.
func (j *RankingReindexJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("ranking reindex: cache not configured")
	}
	var payload RankingReindexPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskRankingReindex)
	err := j.Cache.Bump(ctx)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("bump ranking cache", slog.String("job", TaskRankingReindex), slog.Any("error", err))
	} else {
		logger.Info("ranking cache dropped", slog.String("job", TaskRankingReindex), slog.String("reason", payload.Reason))
	}
	return tracker.End(err)
}
