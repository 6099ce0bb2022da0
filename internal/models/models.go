package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// This file contains the enums shared across the domain packages and the row
// models for the `agenda` schema.

type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

type ExecutionStatus string

const (
	ExecSuccess  ExecutionStatus = "success"
	ExecFailed   ExecutionStatus = "failed"
	ExecTimeout  ExecutionStatus = "timeout"
	ExecSkipped  ExecutionStatus = "skipped"
	ExecRetrying ExecutionStatus = "retrying"
)

// Terminal reports whether the execution status can no longer change. Only
// retrying records may be re-entered.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecRetrying
}

type ReminderStatus string

const (
	ReminderActive ReminderStatus = "active"
	ReminderPaused ReminderStatus = "paused"
)

// ControlMode determines whether a reminder group gates its members.
// In group mode the group status is ANDed with each member's own status.
type ControlMode string

const (
	ControlIndividual ControlMode = "individual"
	ControlGroup      ControlMode = "group"
)

// OverdueAction is the policy applied to reminders whose trigger time lapsed
// past the grace window.
type OverdueAction string

const (
	OverdueTrigger    OverdueAction = "trigger"
	OverdueSkip       OverdueAction = "skip"
	OverdueReschedule OverdueAction = "reschedule"
)

// SourceModule is the business module a scheduled task was created on behalf of.
type SourceModule string

const (
	ModuleReminder     SourceModule = "reminder"
	ModuleTask         SourceModule = "task"
	ModuleGoal         SourceModule = "goal"
	ModuleNotification SourceModule = "notification"
)

// ScheduleRow is a model representing the `agenda.schedule` table
type ScheduleRow struct {
	ID             string      `db:"id"`
	AccountID      string      `db:"account_id"`
	Title          string      `db:"title"`
	Description    null.String `db:"description"`
	StartTime      time.Time   `db:"start_time"`
	EndTime        time.Time   `db:"end_time"`
	Location       null.String `db:"location"`
	Priority       int         `db:"priority"`
	Attendees      []byte      `db:"attendees"` // JSONB array of attendee names
	HasConflict    bool        `db:"has_conflict"`
	ConflictingIDs []byte      `db:"conflicting_ids"` // JSONB array of schedule ids
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

// ScheduleTaskRow is a model representing the `agenda.schedule_task` table.
// The trigger rule and retry policy are flattened into columns; the domain
// types live in the task package.
type ScheduleTaskRow struct {
	ID             string       `db:"id"`
	AccountID      string       `db:"account_id"`
	Name           string       `db:"name"`
	SourceModule   SourceModule `db:"source_module"`
	SourceEntityID string       `db:"source_entity_id"`
	Status         TaskStatus   `db:"status"`
	Enabled        bool         `db:"enabled"`

	CronExpression string    `db:"cron_expression"`
	Timezone       string    `db:"timezone"`
	WindowStart    null.Time `db:"window_start"`
	WindowEnd      null.Time `db:"window_end"`
	MaxExecutions  null.Int  `db:"max_executions"`

	RetryEnabled      bool  `db:"retry_enabled"`
	MaxRetries        int   `db:"max_retries"`
	RetryDelayMs      int64 `db:"retry_delay_ms"`
	BackoffMultiplier int   `db:"backoff_multiplier"`
	MaxRetryDelayMs   int64 `db:"max_retry_delay_ms"`

	LastRunAt           null.Time `db:"last_run_at"`
	NextRunAt           null.Time `db:"next_run_at"`
	ExecutionCount      int64     `db:"execution_count"`
	ConsecutiveFailures int       `db:"consecutive_failures"`

	Metadata  []byte    `db:"metadata"` // JSONB bag of module-specific fields
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ExecutionRow is a model representing the `agenda.task_execution` table
type ExecutionRow struct {
	ID            string          `db:"id"`
	TaskID        string          `db:"task_id"`
	ExecutionTime time.Time       `db:"execution_time"`
	Status        ExecutionStatus `db:"status"`
	DurationMs    int64           `db:"duration_ms"`
	Result        null.String     `db:"result"`
	Error         null.String     `db:"error"`
	RetryCount    int             `db:"retry_count"`
	CreatedAt     time.Time       `db:"created_at"`
}

// ReminderTemplateRow is a model representing the `agenda.reminder_template` table
type ReminderTemplateRow struct {
	ID              string         `db:"id"`
	AccountID       string         `db:"account_id"`
	GroupID         null.String    `db:"group_id"`
	Name            string         `db:"name"`
	Message         null.String    `db:"message"`
	Status          ReminderStatus `db:"status"`
	CronExpression  string         `db:"cron_expression"`
	Timezone        string         `db:"timezone"`
	WindowStart     null.Time      `db:"window_start"`
	WindowEnd       null.Time      `db:"window_end"`
	MaxExecutions   null.Int       `db:"max_executions"`
	NextTriggerTime null.Time      `db:"next_trigger_time"`
	LastTriggerTime null.Time      `db:"last_trigger_time"`
	TriggerCount    int64          `db:"trigger_count"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// ReminderHistoryRow is a model representing the `agenda.reminder_history` table
type ReminderHistoryRow struct {
	ID          string          `db:"id"`
	TemplateID  string          `db:"template_id"`
	AccountID   string          `db:"account_id"`
	TriggerTime time.Time       `db:"trigger_time"`
	Status      ExecutionStatus `db:"status"`
	Reason      null.String     `db:"reason"`
	Error       null.String     `db:"error"`
	CreatedAt   time.Time       `db:"created_at"`
}

// ReminderGroupRow is a model representing the `agenda.reminder_group` table
type ReminderGroupRow struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"account_id"`
	Name        string         `db:"name"`
	ControlMode ControlMode    `db:"control_mode"`
	Status      ReminderStatus `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// StatisticsRow is a model representing the `agenda.schedule_statistics` table.
// One row per account; module counters are stored as a JSONB map keyed by
// SourceModule. The version column backs the optimistic save.
type StatisticsRow struct {
	AccountID string    `db:"account_id"`
	Modules   []byte    `db:"modules"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
