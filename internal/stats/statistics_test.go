package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/stats"
)

func TestTaskLifecycleCounters(t *testing.T) {
	s := stats.New("acc-1")

	s.OnTaskCreated(models.ModuleReminder)
	s.OnTaskCreated(models.ModuleReminder)
	s.OnTaskCreated(models.ModuleGoal)

	c := s.Module(models.ModuleReminder)
	assert.Equal(t, int64(2), c.TotalTasks)
	assert.Equal(t, int64(2), c.ActiveTasks)

	s.OnTaskStatusChanged(models.ModuleReminder, models.TaskActive, models.TaskPaused)
	c = s.Module(models.ModuleReminder)
	assert.Equal(t, int64(1), c.ActiveTasks)
	assert.Equal(t, int64(1), c.PausedTasks)

	s.OnTaskStatusChanged(models.ModuleReminder, models.TaskPaused, models.TaskActive)
	s.OnTaskStatusChanged(models.ModuleReminder, models.TaskActive, models.TaskCompleted)
	c = s.Module(models.ModuleReminder)
	assert.Equal(t, int64(1), c.ActiveTasks)
	assert.Equal(t, int64(1), c.CompletedTasks)
	assert.Zero(t, c.PausedTasks)

	totals := s.Totals()
	assert.Equal(t, int64(3), totals.TotalTasks)
}

func TestExecutionCounters(t *testing.T) {
	s := stats.New("acc-1")

	for _, st := range []models.ExecutionStatus{
		models.ExecSuccess, models.ExecSuccess, models.ExecFailed,
		models.ExecTimeout, models.ExecSkipped, models.ExecRetrying,
	} {
		s.OnExecution(models.ModuleTask, st)
	}

	c := s.Module(models.ModuleTask)
	assert.Equal(t, int64(6), c.TotalExecutions)
	assert.Equal(t, int64(2), c.SuccessExecutions)
	assert.Equal(t, int64(1), c.FailedExecutions)
	assert.Equal(t, int64(1), c.TimeoutExecutions)
	assert.Equal(t, int64(1), c.SkippedExecutions)
}

func TestCountersNeverNegative(t *testing.T) {
	s := stats.New("acc-1")

	// Decrements against empty buckets clamp at zero
	s.OnTaskDeleted(models.ModuleReminder, models.TaskActive)
	s.OnTaskStatusChanged(models.ModuleReminder, models.TaskPaused, models.TaskActive)

	c := s.Module(models.ModuleReminder)
	assert.GreaterOrEqual(t, c.TotalTasks, int64(0))
	assert.GreaterOrEqual(t, c.PausedTasks, int64(0))
	assert.Equal(t, int64(1), c.ActiveTasks)
}

func TestCancelledTasksLeaveBuckets(t *testing.T) {
	s := stats.New("acc-1")
	s.OnTaskCreated(models.ModuleNotification)
	s.OnTaskStatusChanged(models.ModuleNotification, models.TaskActive, models.TaskCancelled)
	s.OnTaskDeleted(models.ModuleNotification, models.TaskCancelled)

	c := s.Module(models.ModuleNotification)
	assert.Zero(t, c.ActiveTasks)
	assert.Zero(t, c.TotalTasks)
}

func TestRecomputeModule(t *testing.T) {
	c := stats.RecomputeModule(
		[]models.TaskStatus{models.TaskActive, models.TaskActive, models.TaskCompleted, models.TaskFailed},
		[]models.ExecutionStatus{models.ExecSuccess, models.ExecFailed, models.ExecSkipped},
	)

	assert.Equal(t, int64(4), c.TotalTasks)
	assert.Equal(t, int64(2), c.ActiveTasks)
	assert.Equal(t, int64(1), c.CompletedTasks)
	assert.Equal(t, int64(1), c.FailedTasks)
	assert.Equal(t, int64(3), c.TotalExecutions)
	assert.Equal(t, int64(1), c.SuccessExecutions)

	s := stats.New("acc-1")
	s.TakeEvents()
	s.ReplaceModule(models.ModuleReminder, c)
	assert.Equal(t, c, s.Module(models.ModuleReminder))
}

func TestStatisticsEvents(t *testing.T) {
	s := stats.New("acc-1")
	s.OnTaskCreated(models.ModuleReminder)
	s.Reset()

	evts := s.TakeEvents()
	require.Len(t, evts, 3)
	assert.Equal(t, events.StatisticsCreated, evts[0].Name)
	assert.Equal(t, events.StatisticsIncremented, evts[1].Name)
	assert.Equal(t, events.StatisticsReset, evts[2].Name)

	assert.Equal(t, stats.ModuleCounters{}, s.Module(models.ModuleReminder), "reset zeroes everything")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := stats.New("acc-1")
	s.OnTaskCreated(models.ModuleGoal)
	s.OnExecution(models.ModuleGoal, models.ExecSuccess)

	snap := s.Snapshot()
	restored := stats.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())

	// Mutating the snapshot must not touch the aggregate
	mc := snap.Modules[models.ModuleGoal]
	mc.TotalTasks = 99
	snap.Modules[models.ModuleGoal] = mc
	assert.Equal(t, int64(1), s.Module(models.ModuleGoal).TotalTasks)
}
