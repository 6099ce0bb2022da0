package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"agenda/internal/models"
	"agenda/internal/scheduler"
	"agenda/internal/task"
)

func TestRunDueExecutesTask(t *testing.T) {
	tk := dueTask(t, "acc-1", 0)
	// Force it due now
	tk.UpdateRule(mustRule(t, "* * * * *"))
	tasks := newMemTasks(tk)
	statistics := newMemStats()
	publisher := &capturingPublisher{}

	var ran []string
	runner := scheduler.NewTaskRunner(tasks, statistics, publisher, func(_ context.Context, t *task.ScheduleTask) (string, error) {
		ran = append(ran, t.ID())
		return "done", nil
	})

	report, err := runner.RunDue(context.Background(), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, []string{tk.ID()}, ran)

	assert.Equal(t, int64(1), tk.ExecutionCount())
	assert.Zero(t, tk.ConsecutiveFailures())
	history := tk.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecSuccess, history[0].Status)
	assert.Equal(t, "done", history[0].Result)

	counters := statistics.counters("acc-1", models.ModuleTask)
	assert.Equal(t, int64(1), counters.SuccessExecutions)
	assert.Contains(t, publisher.names(), "task.executed")
}

func TestFailedTaskSchedulesRetryWithBackoff(t *testing.T) {
	tk := dueTask(t, "acc-1", 3)
	tasks := newMemTasks(tk)
	runner := scheduler.NewTaskRunner(tasks, newMemStats(), nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		return "", errors.New("flaky downstream")
	})

	before := time.Now()
	report, err := runner.RunDue(context.Background(), before.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedCount)

	assert.Equal(t, models.TaskActive, tk.Status(), "retries remain, task stays active")
	assert.Equal(t, 1, tk.ConsecutiveFailures())

	next := tk.NextRunAt()
	require.NotNil(t, next)
	// First failure already happened, so the delay doubles once: 10s
	assert.WithinDuration(t, before.Add(10*time.Second), *next, 2*time.Second)
}

func TestRetriesExhaustedFailsTask(t *testing.T) {
	tk := dueTask(t, "acc-1", 1)
	tasks := newMemTasks(tk)
	statistics := newMemStats()
	runner := scheduler.NewTaskRunner(tasks, statistics, nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		return "", errors.New("permanent")
	})

	// First pass: failure consumes the single allowed retry
	_, err := runner.RunDue(context.Background(), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, models.TaskFailed, tk.Status(), "one failure with maxRetries=1 exhausts the policy")

	counters := statistics.counters("acc-1", models.ModuleTask)
	assert.Equal(t, int64(1), counters.FailedExecutions)
	assert.Equal(t, int64(1), counters.FailedTasks)
}

func TestDisabledTaskIsSkipped(t *testing.T) {
	tk := dueTask(t, "acc-1", 0)
	tk.SetEnabled(false)
	tasks := newMemTasks(tk)
	statistics := newMemStats()
	runner := scheduler.NewTaskRunner(tasks, statistics, nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		t.Fatal("action must not run for a disabled task")
		return "", nil
	})

	report, err := runner.RunDue(context.Background(), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedCount)

	history := tk.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecSkipped, history[0].Status)
}

func TestActionPanicBecomesFailure(t *testing.T) {
	tk := dueTask(t, "acc-1", 0)
	tasks := newMemTasks(tk)
	runner := scheduler.NewTaskRunner(tasks, newMemStats(), nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		panic("boom")
	})

	report, err := runner.RunDue(context.Background(), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err, "a panicking action cannot abort the pass")
	assert.Equal(t, 1, report.FailedCount)

	history := tk.History()
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Error, "panic")
}

func TestRunDueRespectsLimit(t *testing.T) {
	tasks := newMemTasks()
	for i := 0; i < 5; i++ {
		tk := dueTask(t, "acc-1", 0)
		tasks.tasks[tk.ID()] = tk
	}
	var count int
	runner := scheduler.NewTaskRunner(tasks, newMemStats(), nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		count++
		return "", nil
	})

	report, err := runner.RunDue(context.Background(), time.Now().Add(2*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalCount)
	assert.Equal(t, 2, count)
}

func TestDaemonDoesNotOverlapPasses(t *testing.T) {
	tk := dueTask(t, "acc-1", 0)
	// Every-second rule so the daemon's now-scoped scan picks it up quickly
	tk.UpdateRule(mustRule(t, "* * * * * *"))
	tasks := newMemTasks(tk)

	var started atomic.Int32
	release := make(chan struct{})
	runner := scheduler.NewTaskRunner(tasks, newMemStats(), nil, func(_ context.Context, _ *task.ScheduleTask) (string, error) {
		started.Add(1)
		<-release
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx, 5*time.Millisecond, 10)
	defer runner.Stop()

	assert.Eventually(t, func() bool {
		return started.Load() == 1
	}, 3*time.Second, 5*time.Millisecond, "first pass picks up the due task")

	// Ticks keep firing while the pass is blocked; none may start a second one
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load(), "in-flight pass is not doubled up")

	close(release)
}

func mustRule(t *testing.T, expr string) task.TriggerRule {
	t.Helper()
	rule, err := task.NewTriggerRule(expr, "UTC")
	require.NoError(t, err)
	return rule
}
