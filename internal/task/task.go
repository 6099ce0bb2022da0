package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"agenda/internal/events"
	"agenda/internal/models"
)

var (
	// ErrInvalidTransition is wrapped by every rejected lifecycle change
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// ScheduleTask is a recurring unit of work created on behalf of a source
// module (reminder, task, goal, notification). It owns its execution history,
// trigger rule, retry policy and lifecycle status. All state changes go
// through the named methods, which validate the transition and raise domain
// events for the statistics and observability consumers.
type ScheduleTask struct {
	events.Outbox

	id             string
	accountID      string
	name           string
	sourceModule   models.SourceModule
	sourceEntityID string

	status  models.TaskStatus
	enabled bool

	rule     TriggerRule
	retry    RetryPolicy
	metadata map[string]string

	lastRunAt           *time.Time
	nextRunAt           *time.Time
	executionCount      int64
	consecutiveFailures int

	history []ExecutionRecord
}

// Create builds a new active task and computes its first run time from the
// trigger rule
func Create(accountID, name string, module models.SourceModule, sourceEntityID string, rule TriggerRule, retry RetryPolicy) *ScheduleTask {
	t := &ScheduleTask{
		id:             uuid.New().String(),
		accountID:      accountID,
		name:           name,
		sourceModule:   module,
		sourceEntityID: sourceEntityID,
		status:         models.TaskActive,
		enabled:        true,
		rule:           rule,
		retry:          retry,
	}

	if next, ok := rule.NextRun(time.Now(), 0); ok {
		t.nextRunAt = &next
	}

	t.Record(events.New(events.TaskCreated, t.id, t.accountID, map[string]any{
		"source_module":    string(module),
		"source_entity_id": sourceEntityID,
	}))
	return t
}

func (t *ScheduleTask) ID() string                        { return t.id }
func (t *ScheduleTask) AccountID() string                 { return t.accountID }
func (t *ScheduleTask) Name() string                      { return t.name }
func (t *ScheduleTask) SourceModule() models.SourceModule { return t.sourceModule }
func (t *ScheduleTask) SourceEntityID() string            { return t.sourceEntityID }
func (t *ScheduleTask) Status() models.TaskStatus         { return t.status }
func (t *ScheduleTask) Enabled() bool                     { return t.enabled }
func (t *ScheduleTask) Rule() TriggerRule                 { return t.rule }
func (t *ScheduleTask) Retry() RetryPolicy                { return t.retry }
func (t *ScheduleTask) ExecutionCount() int64             { return t.executionCount }
func (t *ScheduleTask) ConsecutiveFailures() int          { return t.consecutiveFailures }

// LastRunAt returns the time of the most recent execution, or nil if the task
// has never run
func (t *ScheduleTask) LastRunAt() *time.Time {
	return copyTime(t.lastRunAt)
}

// NextRunAt returns the next scheduled run, or nil when the rule is exhausted
func (t *ScheduleTask) NextRunAt() *time.Time {
	return copyTime(t.nextRunAt)
}

// History returns a copy of the execution records, oldest first
func (t *ScheduleTask) History() []ExecutionRecord {
	return append([]ExecutionRecord(nil), t.history...)
}

// Metadata returns the module-specific metadata value for a key
func (t *ScheduleTask) Metadata(key string) (string, bool) {
	v, ok := t.metadata[key]
	return v, ok
}

// SetMetadata attaches a module-specific key/value pair
func (t *ScheduleTask) SetMetadata(key, value string) {
	if t.metadata == nil {
		t.metadata = make(map[string]string)
	}
	t.metadata[key] = value
}

// Pause suspends an active task
func (t *ScheduleTask) Pause() error {
	if t.status != models.TaskActive {
		return t.transitionError(models.TaskPaused)
	}
	t.status = models.TaskPaused
	t.recordStatusEvent(events.TaskPaused)
	return nil
}

// Resume reactivates a paused task
func (t *ScheduleTask) Resume() error {
	if t.status != models.TaskPaused {
		return t.transitionError(models.TaskActive)
	}
	t.status = models.TaskActive
	t.recordStatusEvent(events.TaskResumed)
	return nil
}

// Complete marks an active task as finished. Completed tasks are terminal.
func (t *ScheduleTask) Complete() error {
	if t.status != models.TaskActive {
		return t.transitionError(models.TaskCompleted)
	}
	t.status = models.TaskCompleted
	t.nextRunAt = nil
	t.recordStatusEvent(events.TaskCompleted)
	return nil
}

// Cancel aborts an active or paused task. A completed task cannot be
// cancelled.
func (t *ScheduleTask) Cancel() error {
	if t.status != models.TaskActive && t.status != models.TaskPaused {
		return t.transitionError(models.TaskCancelled)
	}
	t.status = models.TaskCancelled
	t.nextRunAt = nil
	t.recordStatusEvent(events.TaskCancelled)
	return nil
}

// Fail moves an active task into the failed state
func (t *ScheduleTask) Fail(reason string) error {
	if t.status != models.TaskActive {
		return t.transitionError(models.TaskFailed)
	}
	t.status = models.TaskFailed
	t.Record(events.New(events.TaskFailed, t.id, t.accountID, map[string]any{
		"source_module":    string(t.sourceModule),
		"source_entity_id": t.sourceEntityID,
		"reason":           reason,
	}))
	return nil
}

// RecordExecution appends one execution outcome, updates the run bookkeeping
// and raises a task-executed event carrying the source coordinates so the
// external dispatcher can act on it. Success resets the consecutive-failure
// counter; any other outcome increments it.
func (t *ScheduleTask) RecordExecution(status models.ExecutionStatus, duration time.Duration, result, errMsg string) ExecutionRecord {
	now := time.Now()
	record := newExecutionRecord(t.id, now, status, duration, result, errMsg, t.consecutiveFailures)
	t.history = append(t.history, record)

	t.lastRunAt = &now
	t.executionCount++
	if next, ok := t.rule.NextRun(now, t.executionCount); ok {
		t.nextRunAt = &next
	} else {
		t.nextRunAt = nil
	}

	if status == models.ExecSuccess {
		t.consecutiveFailures = 0
	} else {
		t.consecutiveFailures++
	}

	t.Record(events.New(events.TaskExecuted, t.id, t.accountID, map[string]any{
		"source_module":    string(t.sourceModule),
		"source_entity_id": t.sourceEntityID,
		"status":           string(status),
		"duration_ms":      duration.Milliseconds(),
	}))
	return record
}

// ShouldRetry reports whether the task is allowed another attempt under its
// retry policy
func (t *ScheduleTask) ShouldRetry() bool {
	return t.retry.ShouldRetry(t.consecutiveFailures)
}

// NextRetryDelay returns the backoff before the next attempt, or 0 when retry
// does not apply
func (t *ScheduleTask) NextRetryDelay() time.Duration {
	return t.retry.NextDelay(t.consecutiveFailures)
}

// ScheduleRetry moves the next run forward by the current backoff delay.
// Returns false when the retry policy does not allow another attempt, leaving
// the task untouched; the caller then decides whether to fail it.
func (t *ScheduleTask) ScheduleRetry(now time.Time) bool {
	if !t.ShouldRetry() {
		return false
	}
	next := now.Add(t.NextRetryDelay())
	t.nextRunAt = &next
	return true
}

// UpdateRule replaces the trigger rule wholesale and recomputes the next run
func (t *ScheduleTask) UpdateRule(rule TriggerRule) {
	t.rule = rule
	if next, ok := rule.NextRun(time.Now(), t.executionCount); ok {
		t.nextRunAt = &next
	} else {
		t.nextRunAt = nil
	}
}

// SetEnabled toggles the enablement flag without touching lifecycle status
func (t *ScheduleTask) SetEnabled(enabled bool) {
	t.enabled = enabled
}

func (t *ScheduleTask) recordStatusEvent(name string) {
	t.Record(events.New(name, t.id, t.accountID, map[string]any{
		"source_module":    string(t.sourceModule),
		"source_entity_id": t.sourceEntityID,
	}))
}

func (t *ScheduleTask) transitionError(to models.TaskStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
}

// TaskSnapshot is an immutable view of a task used at the repository boundary
type TaskSnapshot struct {
	ID                  string
	AccountID           string
	Name                string
	SourceModule        models.SourceModule
	SourceEntityID      string
	Status              models.TaskStatus
	Enabled             bool
	Rule                TriggerRule
	Retry               RetryPolicy
	Metadata            map[string]string
	LastRunAt           *time.Time
	NextRunAt           *time.Time
	ExecutionCount      int64
	ConsecutiveFailures int
	History             []ExecutionRecord
}

// Snapshot returns an immutable copy of the task state
func (t *ScheduleTask) Snapshot() TaskSnapshot {
	meta := make(map[string]string, len(t.metadata))
	for k, v := range t.metadata {
		meta[k] = v
	}
	return TaskSnapshot{
		ID:                  t.id,
		AccountID:           t.accountID,
		Name:                t.name,
		SourceModule:        t.sourceModule,
		SourceEntityID:      t.sourceEntityID,
		Status:              t.status,
		Enabled:             t.enabled,
		Rule:                t.rule,
		Retry:               t.retry,
		Metadata:            meta,
		LastRunAt:           copyTime(t.lastRunAt),
		NextRunAt:           copyTime(t.nextRunAt),
		ExecutionCount:      t.executionCount,
		ConsecutiveFailures: t.consecutiveFailures,
		History:             append([]ExecutionRecord(nil), t.history...),
	}
}

// RestoreTask rehydrates a task from a persisted snapshot
func RestoreTask(snap TaskSnapshot) *ScheduleTask {
	meta := make(map[string]string, len(snap.Metadata))
	for k, v := range snap.Metadata {
		meta[k] = v
	}
	return &ScheduleTask{
		id:                  snap.ID,
		accountID:           snap.AccountID,
		name:                snap.Name,
		sourceModule:        snap.SourceModule,
		sourceEntityID:      snap.SourceEntityID,
		status:              snap.Status,
		enabled:             snap.Enabled,
		rule:                snap.Rule,
		retry:               snap.Retry,
		metadata:            meta,
		lastRunAt:           copyTime(snap.LastRunAt),
		nextRunAt:           copyTime(snap.NextRunAt),
		executionCount:      snap.ExecutionCount,
		consecutiveFailures: snap.ConsecutiveFailures,
		history:             append([]ExecutionRecord(nil), snap.History...),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
