package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procurement/jobs"
)

// QueueInspector is the part of asynq.Inspector the CLI reads from.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    jobs.Enqueuer
	inspector QueueInspector
	closers   []io.Closer
	batchSize int
	retention time.Duration
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string, batchSize int, retention time.Duration) (*JobsCLI, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{
		client:    client,
		inspector: inspector,
		closers:   []io.Closer{inspector, client},
		batchSize: batchSize,
		retention: retention,
	}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskTotalsRefresh:
		task, err = jobs.NewTotalsRefreshTask(jobs.ScopeAll, c.batchSize)
	case jobs.TaskRankingReindex:
		task, err = jobs.NewRankingReindexTask("manual")
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(c.retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// Run dispatches a command line and writes a human readable result to out.
// It returns the process exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: jobsctl trigger <task> | inspect | scheduled [size]")
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(out, "trigger: task name required")
			return 2
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(out, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Fprintf(out, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(out, "inspect: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		_ = tw.Flush()
		return 0
	case "scheduled":
		size := 10
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &size); err != nil {
				fmt.Fprintf(out, "scheduled: invalid size %q\n", args[1])
				return 2
			}
		}
		tasks, err := c.ListScheduled(ctx, size)
		if err != nil {
			fmt.Fprintf(out, "scheduled: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNEXT")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
		return 0
	default:
		fmt.Fprintf(out, "unknown command %q\n", args[0])
		return 2
	}
}
