package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procurement/internal/delivery"
	jobmetrics "github.com/odyssey-erp/odyssey-procurement/internal/jobs"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
)

// OrderTotals recomputes cached purchase order totals.
type OrderTotals interface {
	RefreshTotals(ctx context.Context, batchSize int) (procurement.RefreshReport, error)
}

// DeliveryTotals recomputes cached delivery totals.
type DeliveryTotals interface {
	RefreshTotals(ctx context.Context, batchSize int) (delivery.RefreshReport, error)
}

// TotalsRefreshJob repairs total_cost columns that drifted from their lines.
type TotalsRefreshJob struct {
	Orders     OrderTotals
	Deliveries DeliveryTotals
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewTotalsRefreshJob constructs the job handler.
func NewTotalsRefreshJob(orders OrderTotals, deliveries DeliveryTotals, logger *slog.Logger, metrics *jobmetrics.Metrics) *TotalsRefreshJob {
	return &TotalsRefreshJob{
		Orders:     orders,
		Deliveries: deliveries,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the totals refresh.
func (j *TotalsRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Orders == nil || j.Deliveries == nil {
		return errors.New("totals refresh: dependencies not configured")
	}
	var payload TotalsRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Scope == "" {
		payload.Scope = ScopeAll
	}
	if payload.Scope != ScopeAll && payload.Scope != ScopeOrders && payload.Scope != ScopeDeliveries {
		j.log().Warn("unknown refresh scope", slog.String("scope", payload.Scope))
		return fmt.Errorf("totals refresh: unknown scope %q: %w", payload.Scope, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskTotalsRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	if payload.Scope != ScopeDeliveries {
		report, err := j.Orders.RefreshTotals(ctx, payload.BatchSize)
		if err != nil {
			resultErr = err
			j.log().Error("refresh order totals", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddRepairs("order", report.Repaired)
		j.log().Info("refreshed order totals", slog.Int("scanned", report.Scanned), slog.Int("repaired", report.Repaired))
	}
	if payload.Scope != ScopeOrders {
		report, err := j.Deliveries.RefreshTotals(ctx, payload.BatchSize)
		if err != nil {
			resultErr = err
			j.log().Error("refresh delivery totals", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddRepairs("delivery", report.Repaired)
		j.log().Info("refreshed delivery totals", slog.Int("scanned", report.Scanned), slog.Int("repaired", report.Repaired))
	}
	j.log().Info("totals refresh finished", slog.String("scope", payload.Scope), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *TotalsRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *TotalsRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTotalsRefresh))
	}
	return slog.Default().With(slog.String("job", TaskTotalsRefresh))
}

func (j *TotalsRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *TotalsRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
