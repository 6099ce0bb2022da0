package scheduler

import (
	"context"
	"time"

	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/schedule"
	"agenda/internal/stats"
	"agenda/internal/task"
)

// Repository contracts consumed by the scheduling services. The Postgres
// implementations live in internal/store; tests substitute testify mocks.

// TemplateRepository persists reminder templates and their trigger history
type TemplateRepository interface {
	Save(ctx context.Context, tpl *reminder.Template) error
	// FindDueBefore returns templates with a next trigger time at or before
	// the given time, oldest due first. An empty accountID scans every
	// account.
	FindDueBefore(ctx context.Context, before time.Time, accountID string) ([]*reminder.Template, error)
	FindByAccount(ctx context.Context, accountID string) ([]*reminder.Template, error)
	FindByGroup(ctx context.Context, groupID string) ([]*reminder.Template, error)
	AppendHistory(ctx context.Context, entry reminder.HistoryEntry) error
	ListHistory(ctx context.Context, templateID string) ([]reminder.HistoryEntry, error)
}

// StatisticsRepository persists the per-account rollups. Save must return
// stats.ErrVersionConflict when the aggregate's version is stale.
type StatisticsRepository interface {
	GetOrCreate(ctx context.Context, accountID string) (*stats.AccountStatistics, error)
	Save(ctx context.Context, s *stats.AccountStatistics) error
}

// TaskRepository persists schedule tasks and their execution history
type TaskRepository interface {
	Save(ctx context.Context, t *task.ScheduleTask) error
	FindByID(ctx context.Context, id string) (*task.ScheduleTask, error)
	FindBySource(ctx context.Context, module models.SourceModule, entityID string) ([]*task.ScheduleTask, error)
	// FindDueForExecution returns tasks whose next run is at or before the
	// given time, oldest due first. Disabled and non-active tasks are
	// included so the runner can record the skip.
	FindDueForExecution(ctx context.Context, before time.Time, limit int) ([]*task.ScheduleTask, error)
	SaveBatch(ctx context.Context, tasks []*task.ScheduleTask) error
	DeleteBatch(ctx context.Context, ids []string) error
}

// ScheduleRepository persists calendar events
type ScheduleRepository interface {
	Save(ctx context.Context, s *schedule.Schedule) error
	FindByID(ctx context.Context, id string) (*schedule.Schedule, error)
	FindByAccount(ctx context.Context, accountID string) ([]*schedule.Schedule, error)
	// FindByTimeRange returns the account's events overlapping [start, end),
	// excluding the given id when non-empty
	FindByTimeRange(ctx context.Context, accountID string, start, end time.Time, excludeID string) ([]*schedule.Schedule, error)
	DeleteByID(ctx context.Context, id string) error
}
