package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/jobs"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func TestRunTriggerTotalsRefreshUsesBatchSize(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := &JobsCLI{client: enq, batchSize: 75}
	var out bytes.Buffer

	code := c.Run(context.Background(), []string{"trigger", jobs.TaskTotalsRefresh}, &out)
	require.Equal(t, 0, code, out.String())
	require.Len(t, enq.tasks, 1)
	var payload jobs.TotalsRefreshPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, jobs.TotalsRefreshPayload{Scope: jobs.ScopeAll, BatchSize: 75}, payload)
	require.Contains(t, out.String(), "enqueued "+jobs.TaskTotalsRefresh)
}

func TestRunTriggerRejectsUnknownTask(t *testing.T) {
	c := &JobsCLI{client: &recordingEnqueuer{}}
	var out bytes.Buffer
	require.Equal(t, 1, c.Run(context.Background(), []string{"trigger", "reports:nightly"}, &out))
	require.Contains(t, out.String(), "unsupported job")
	require.Equal(t, 2, c.Run(context.Background(), nil, &out))
}

func TestRunInspectAndScheduled(t *testing.T) {
	next := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	c := &JobsCLI{inspector: stubInspector{
		info:      &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
		scheduled: []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskRankingReindex, NextProcessAt: next}},
	}}
	var out bytes.Buffer
	require.Equal(t, 0, c.Run(context.Background(), []string{"inspect"}, &out))
	require.Contains(t, out.String(), "PENDING")
	require.Contains(t, out.String(), "4")

	out.Reset()
	require.Equal(t, 0, c.Run(context.Background(), []string{"scheduled", "5"}, &out))
	require.Contains(t, out.String(), jobs.TaskRankingReindex)
	require.Contains(t, out.String(), "2026-03-01T02:00:00Z")

	failing := &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	out.Reset()
	require.Equal(t, 1, failing.Run(context.Background(), []string{"inspect"}, &out))
}
