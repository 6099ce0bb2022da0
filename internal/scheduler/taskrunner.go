package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/stats"
	"agenda/internal/task"
)

// TaskAction performs the actual work behind a schedule task (sending the
// notification, syncing the goal, ...). It is an external collaborator; the
// runner only cares whether it errored and how long it took.
type TaskAction func(ctx context.Context, t *task.ScheduleTask) (result string, err error)

// TaskRunner executes due schedule tasks: it runs the action, records the
// execution on the aggregate, schedules retries under the task's own policy
// and keeps statistics current. Retries are not slept in place - the next run
// time is pushed forward by the backoff delay and the task is picked up again
// on a later pass.
type TaskRunner struct {
	tasks      TaskRepository
	statistics StatisticsRepository
	publisher  events.Publisher
	action     TaskAction

	// Used for the daemon mode
	isRunning  bool
	ticker     *time.Ticker
	context    context.Context
	cancelFunc context.CancelFunc
}

// NewTaskRunner creates a task runner around the given action
func NewTaskRunner(tasks TaskRepository, statistics StatisticsRepository, publisher events.Publisher, action TaskAction) *TaskRunner {
	return &TaskRunner{
		tasks:      tasks,
		statistics: statistics,
		publisher:  publisher,
		action:     action,
	}
}

// RunDue fetches up to limit due tasks and executes them sequentially,
// converting per-task errors into failed results so one bad task cannot
// abort the pass
func (r *TaskRunner) RunDue(ctx context.Context, before time.Time, limit int) (RunReport, error) {
	started := time.Now()
	if before.IsZero() {
		before = started
	}
	if limit <= 0 {
		limit = DefaultMaxCount
	}

	due, err := r.tasks.FindDueForExecution(ctx, before, limit)
	if err != nil {
		return RunReport{}, fmt.Errorf("could not fetch due tasks: %w", err)
	}

	var report RunReport
	for _, t := range due {
		status := r.runOne(ctx, t)
		report.TotalCount++
		switch status {
		case models.ExecSuccess:
			report.SuccessCount++
		case models.ExecSkipped:
			report.SkippedCount++
		default:
			report.FailedCount++
		}
	}
	report.Duration = time.Since(started)
	return report, nil
}

// runOne executes a single task end to end and returns the outcome bucket
func (r *TaskRunner) runOne(ctx context.Context, t *task.ScheduleTask) models.ExecutionStatus {
	if !t.Enabled() || t.Status() != models.TaskActive {
		t.RecordExecution(models.ExecSkipped, 0, "", "")
		r.persist(ctx, t, models.ExecSkipped)
		return models.ExecSkipped
	}

	actionStart := time.Now()
	result, err := r.runAction(ctx, t)
	elapsed := time.Since(actionStart)

	if err == nil {
		t.RecordExecution(models.ExecSuccess, elapsed, result, "")
		r.persist(ctx, t, models.ExecSuccess)
		return models.ExecSuccess
	}

	status := models.ExecFailed
	if ctx.Err() == context.DeadlineExceeded {
		status = models.ExecTimeout
	}
	t.RecordExecution(status, elapsed, "", err.Error())

	if !t.ScheduleRetry(time.Now()) {
		prev := t.Status()
		if failErr := t.Fail("retries exhausted: " + err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("task_id", t.ID()).Msg("Could not fail task")
		} else {
			r.bumpStatusChange(ctx, t, prev, models.TaskFailed)
		}
	}

	r.persist(ctx, t, status)
	return status
}

// runAction invokes the external action, converting panics into errors
func (r *TaskRunner) runAction(ctx context.Context, t *task.ScheduleTask) (result string, err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Str("task_id", t.ID()).Msg("Task action panicked")
			err = fmt.Errorf("action panicked: %v", rcv)
		}
	}()
	return r.action(ctx, t)
}

// persist saves the task, publishes its events and bumps the execution
// counters. Statistics stay best-effort.
func (r *TaskRunner) persist(ctx context.Context, t *task.ScheduleTask, status models.ExecutionStatus) {
	if err := r.tasks.Save(ctx, t); err != nil {
		log.Error().Err(err).Str("task_id", t.ID()).Msg("Could not save task after execution")
		return
	}
	publishEvents(ctx, r.publisher, t.TakeEvents())

	err := updateStatistics(ctx, r.statistics, r.publisher, t.AccountID(), func(s *stats.AccountStatistics) {
		s.OnExecution(t.SourceModule(), status)
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", t.AccountID()).Msg("Could not update statistics")
	}
}

func (r *TaskRunner) bumpStatusChange(ctx context.Context, t *task.ScheduleTask, from, to models.TaskStatus) {
	err := updateStatistics(ctx, r.statistics, r.publisher, t.AccountID(), func(s *stats.AccountStatistics) {
		s.OnTaskStatusChanged(t.SourceModule(), from, to)
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", t.AccountID()).Msg("Could not update statistics")
	}
}

// Start runs the runner as a daemon, executing one pass per tick. A pass still
// in flight when the next tick fires is not doubled up.
func (r *TaskRunner) Start(ctx context.Context, interval time.Duration, batchSize int) {
	if r.isRunning {
		return
	}

	r.isRunning = true
	r.ticker = time.NewTicker(interval)
	r.context, r.cancelFunc = context.WithCancel(ctx)

	go func() {
		var passRunning atomic.Bool
		for {
			select {
			case <-r.context.Done():
				return
			case <-r.ticker.C:
				if !passRunning.CompareAndSwap(false, true) {
					continue
				}

				go func() {
					defer passRunning.Store(false)
					if _, err := r.RunDue(r.context, time.Time{}, batchSize); err != nil {
						log.Error().Err(err).Msg("Task runner pass failed")
					}
				}()
			}
		}
	}()
}

// Stop halts the daemon
func (r *TaskRunner) Stop() {
	if !r.isRunning {
		return
	}

	r.cancelFunc()
	if r.ticker != nil {
		r.ticker.Stop()
	}
	r.isRunning = false
}
