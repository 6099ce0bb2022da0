package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"agenda/internal/models"
	"agenda/internal/task"
)

// TaskStore persists scheduled tasks in agenda.schedule_task and their
// execution history in agenda.task_execution
type TaskStore struct {
	db *sqlx.DB
}

func NewTaskStore(db *sqlx.DB) *TaskStore {
	return &TaskStore{db: db}
}

const upsertTaskQuery = `
INSERT INTO agenda.schedule_task
(id, account_id, name, source_module, source_entity_id, status, enabled,
 cron_expression, timezone, window_start, window_end, max_executions,
 retry_enabled, max_retries, retry_delay_ms, backoff_multiplier, max_retry_delay_ms,
 last_run_at, next_run_at, execution_count, consecutive_failures, metadata)
VALUES (:id, :account_id, :name, :source_module, :source_entity_id, :status, :enabled,
        :cron_expression, :timezone, :window_start, :window_end, :max_executions,
        :retry_enabled, :max_retries, :retry_delay_ms, :backoff_multiplier, :max_retry_delay_ms,
        :last_run_at, :next_run_at, :execution_count, :consecutive_failures, :metadata)
ON CONFLICT (id) DO UPDATE
SET name                 = EXCLUDED.name,
    status               = EXCLUDED.status,
    enabled              = EXCLUDED.enabled,
    cron_expression      = EXCLUDED.cron_expression,
    timezone             = EXCLUDED.timezone,
    window_start         = EXCLUDED.window_start,
    window_end           = EXCLUDED.window_end,
    max_executions       = EXCLUDED.max_executions,
    retry_enabled        = EXCLUDED.retry_enabled,
    max_retries          = EXCLUDED.max_retries,
    retry_delay_ms       = EXCLUDED.retry_delay_ms,
    backoff_multiplier   = EXCLUDED.backoff_multiplier,
    max_retry_delay_ms   = EXCLUDED.max_retry_delay_ms,
    last_run_at          = EXCLUDED.last_run_at,
    next_run_at          = EXCLUDED.next_run_at,
    execution_count      = EXCLUDED.execution_count,
    consecutive_failures = EXCLUDED.consecutive_failures,
    metadata             = EXCLUDED.metadata,
    updated_at           = NOW()`

// Executions are append-only, so replays of already persisted records are a
// no-op rather than an update
const insertExecutionQuery = `
INSERT INTO agenda.task_execution
(id, task_id, execution_time, status, duration_ms, result, error, retry_count)
VALUES (:id, :task_id, :execution_time, :status, :duration_ms, :result, :error, :retry_count)
ON CONFLICT (id) DO NOTHING`

// Save upserts the task row and appends any new execution records in one
// transaction
func (s *TaskStore) Save(ctx context.Context, t *task.ScheduleTask) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveTaskTx(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveBatch persists several tasks atomically
func (s *TaskStore) SaveBatch(ctx context.Context, tasks []*task.ScheduleTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if err := saveTaskTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveTaskTx(ctx context.Context, tx *sqlx.Tx, t *task.ScheduleTask) error {
	row, err := taskToRow(t.Snapshot())
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, upsertTaskQuery, row); err != nil {
		return fmt.Errorf("could not save task %s: %w", t.ID(), err)
	}

	for _, record := range t.History() {
		if _, err := tx.NamedExecContext(ctx, insertExecutionQuery, executionToRow(record)); err != nil {
			return fmt.Errorf("could not save execution %s: %w", record.ID, err)
		}
	}
	return nil
}

// FindByID fetches one task with its execution history. Returns ErrNotFound
// when the id is unknown.
func (s *TaskStore) FindByID(ctx context.Context, id string) (*task.ScheduleTask, error) {
	var row models.ScheduleTaskRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agenda.schedule_task WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	history, err := s.listExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	return restoreTask(row, history)
}

// FindBySource fetches the tasks created on behalf of one source entity
func (s *TaskStore) FindBySource(ctx context.Context, module models.SourceModule, entityID string) ([]*task.ScheduleTask, error) {
	var rows []models.ScheduleTaskRow
	query := `
SELECT *
FROM agenda.schedule_task
WHERE source_module = $1
  AND source_entity_id = $2
ORDER BY created_at`

	if err := s.db.SelectContext(ctx, &rows, query, module, entityID); err != nil {
		return nil, err
	}
	return s.restoreTasks(ctx, rows)
}

// FindDueForExecution fetches up to limit tasks whose next run is at or before
// the given time, oldest due first. Disabled and non-active tasks are included
// so the runner can record the skip.
func (s *TaskStore) FindDueForExecution(ctx context.Context, before time.Time, limit int) ([]*task.ScheduleTask, error) {
	var rows []models.ScheduleTaskRow
	query := `
SELECT *
FROM agenda.schedule_task
WHERE next_run_at IS NOT NULL
  AND next_run_at <= $1
ORDER BY next_run_at
LIMIT $2`

	if err := s.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, err
	}
	return s.restoreTasks(ctx, rows)
}

// DeleteBatch removes tasks and their execution history
func (s *TaskStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM agenda.schedule_task WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func (s *TaskStore) restoreTasks(ctx context.Context, rows []models.ScheduleTaskRow) ([]*task.ScheduleTask, error) {
	out := make([]*task.ScheduleTask, 0, len(rows))
	for _, row := range rows {
		history, err := s.listExecutions(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		t, err := restoreTask(row, history)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *TaskStore) listExecutions(ctx context.Context, taskID string) ([]task.ExecutionRecord, error) {
	var rows []models.ExecutionRow
	query := "SELECT * FROM agenda.task_execution WHERE task_id = $1 ORDER BY execution_time"
	if err := s.db.SelectContext(ctx, &rows, query, taskID); err != nil {
		return nil, err
	}

	records := make([]task.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, task.ExecutionRecord{
			ID:            row.ID,
			TaskID:        row.TaskID,
			ExecutionTime: row.ExecutionTime,
			Status:        row.Status,
			Duration:      time.Duration(row.DurationMs) * time.Millisecond,
			Result:        row.Result.ValueOrZero(),
			Error:         row.Error.ValueOrZero(),
			RetryCount:    row.RetryCount,
		})
	}
	return records, nil
}

func taskToRow(snap task.TaskSnapshot) (models.ScheduleTaskRow, error) {
	metadata, err := json.Marshal(snap.Metadata)
	if err != nil {
		return models.ScheduleTaskRow{}, fmt.Errorf("could not encode metadata for task %s: %w", snap.ID, err)
	}

	windowStart, windowEnd := snap.Rule.Window()
	return models.ScheduleTaskRow{
		ID:             snap.ID,
		AccountID:      snap.AccountID,
		Name:           snap.Name,
		SourceModule:   snap.SourceModule,
		SourceEntityID: snap.SourceEntityID,
		Status:         snap.Status,
		Enabled:        snap.Enabled,

		CronExpression: snap.Rule.CronExpression(),
		Timezone:       snap.Rule.Timezone(),
		WindowStart:    null.TimeFromPtr(windowStart),
		WindowEnd:      null.TimeFromPtr(windowEnd),
		MaxExecutions:  null.IntFromPtr(snap.Rule.MaxExecutions()),

		RetryEnabled:      snap.Retry.Enabled(),
		MaxRetries:        snap.Retry.MaxRetries(),
		RetryDelayMs:      snap.Retry.RetryDelay().Milliseconds(),
		BackoffMultiplier: snap.Retry.BackoffMultiplier(),
		MaxRetryDelayMs:   snap.Retry.MaxRetryDelay().Milliseconds(),

		LastRunAt:           null.TimeFromPtr(snap.LastRunAt),
		NextRunAt:           null.TimeFromPtr(snap.NextRunAt),
		ExecutionCount:      snap.ExecutionCount,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		Metadata:            metadata,
	}, nil
}

func restoreTask(row models.ScheduleTaskRow, history []task.ExecutionRecord) (*task.ScheduleTask, error) {
	rule, err := ruleFromColumns(row.CronExpression, row.Timezone, row.WindowStart, row.WindowEnd, row.MaxExecutions)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", row.ID, err)
	}

	retry, err := retryFromColumns(row)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", row.ID, err)
	}

	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("could not decode metadata for task %s: %w", row.ID, err)
		}
	}

	return task.RestoreTask(task.TaskSnapshot{
		ID:                  row.ID,
		AccountID:           row.AccountID,
		Name:                row.Name,
		SourceModule:        row.SourceModule,
		SourceEntityID:      row.SourceEntityID,
		Status:              row.Status,
		Enabled:             row.Enabled,
		Rule:                rule,
		Retry:               retry,
		Metadata:            metadata,
		LastRunAt:           row.LastRunAt.Ptr(),
		NextRunAt:           row.NextRunAt.Ptr(),
		ExecutionCount:      row.ExecutionCount,
		ConsecutiveFailures: row.ConsecutiveFailures,
		History:             history,
	}), nil
}

func ruleFromColumns(expr, timezone string, windowStart, windowEnd null.Time, maxExecutions null.Int) (task.TriggerRule, error) {
	var opts []task.RuleOption
	if windowStart.Valid || windowEnd.Valid {
		opts = append(opts, task.WithWindow(windowStart.ValueOrZero(), windowEnd.ValueOrZero()))
	}
	if maxExecutions.Valid {
		opts = append(opts, task.WithMaxExecutions(maxExecutions.Int64))
	}
	return task.NewTriggerRule(expr, timezone, opts...)
}

func retryFromColumns(row models.ScheduleTaskRow) (task.RetryPolicy, error) {
	// A zero multiplier marks the no-retry policy, which has no parameters
	if row.BackoffMultiplier == 0 {
		return task.NoRetry(), nil
	}
	return task.NewRetryPolicy(
		row.RetryEnabled,
		row.MaxRetries,
		time.Duration(row.RetryDelayMs)*time.Millisecond,
		row.BackoffMultiplier,
		time.Duration(row.MaxRetryDelayMs)*time.Millisecond,
	)
}

func executionToRow(record task.ExecutionRecord) models.ExecutionRow {
	return models.ExecutionRow{
		ID:            record.ID,
		TaskID:        record.TaskID,
		ExecutionTime: record.ExecutionTime,
		Status:        record.Status,
		DurationMs:    record.Duration.Milliseconds(),
		Result:        null.NewString(record.Result, record.Result != ""),
		Error:         null.NewString(record.Error, record.Error != ""),
		RetryCount:    record.RetryCount,
	}
}
