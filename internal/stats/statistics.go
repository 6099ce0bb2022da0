package stats

import (
	"errors"

	"agenda/internal/events"
	"agenda/internal/models"
)

// ErrVersionConflict is returned by statistics repositories when an
// optimistic save loses the race; callers reload and retry.
var ErrVersionConflict = errors.New("statistics version conflict")

// ModuleCounters is the rollup for one source module. Fields are exported and
// JSON-tagged because the whole map is persisted as a single JSONB column.
type ModuleCounters struct {
	TotalTasks     int64 `json:"total_tasks"`
	ActiveTasks    int64 `json:"active_tasks"`
	PausedTasks    int64 `json:"paused_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`

	TotalExecutions   int64 `json:"total_executions"`
	SuccessExecutions int64 `json:"success_executions"`
	FailedExecutions  int64 `json:"failed_executions"`
	TimeoutExecutions int64 `json:"timeout_executions"`
	SkippedExecutions int64 `json:"skipped_executions"`
}

// AccountStatistics is the one-per-account rollup, updated incrementally on
// every task and execution state change. Counters never go negative: a
// decrement on a zero counter clamps instead of underflowing, since the
// counters are best-effort and may have missed an earlier increment.
type AccountStatistics struct {
	events.Outbox

	accountID string
	modules   map[models.SourceModule]*ModuleCounters
	version   int64
}

// New creates an empty statistics row for an account
func New(accountID string) *AccountStatistics {
	s := &AccountStatistics{
		accountID: accountID,
		modules:   make(map[models.SourceModule]*ModuleCounters),
	}
	s.Record(events.New(events.StatisticsCreated, accountID, accountID, nil))
	return s
}

func (s *AccountStatistics) AccountID() string { return s.accountID }

// Version is the optimistic-concurrency token checked by the repository on
// save
func (s *AccountStatistics) Version() int64 { return s.version }

// Module returns a copy of the counters for one source module
func (s *AccountStatistics) Module(module models.SourceModule) ModuleCounters {
	if c, ok := s.modules[module]; ok {
		return *c
	}
	return ModuleCounters{}
}

// Totals aggregates the counters across all modules
func (s *AccountStatistics) Totals() ModuleCounters {
	var total ModuleCounters
	for _, c := range s.modules {
		total.TotalTasks += c.TotalTasks
		total.ActiveTasks += c.ActiveTasks
		total.PausedTasks += c.PausedTasks
		total.CompletedTasks += c.CompletedTasks
		total.FailedTasks += c.FailedTasks
		total.TotalExecutions += c.TotalExecutions
		total.SuccessExecutions += c.SuccessExecutions
		total.FailedExecutions += c.FailedExecutions
		total.TimeoutExecutions += c.TimeoutExecutions
		total.SkippedExecutions += c.SkippedExecutions
	}
	return total
}

func (s *AccountStatistics) counters(module models.SourceModule) *ModuleCounters {
	c, ok := s.modules[module]
	if !ok {
		c = &ModuleCounters{}
		s.modules[module] = c
	}
	return c
}

// OnTaskCreated records a new task for the module
func (s *AccountStatistics) OnTaskCreated(module models.SourceModule) {
	c := s.counters(module)
	c.TotalTasks++
	c.ActiveTasks++
	s.recordIncrement(module, "task_created")
}

// OnTaskStatusChanged moves a task between status buckets
func (s *AccountStatistics) OnTaskStatusChanged(module models.SourceModule, from, to models.TaskStatus) {
	if from == to {
		return
	}
	c := s.counters(module)
	decrement(taskBucket(c, from))
	increment(taskBucket(c, to))
	s.recordIncrement(module, "task_status_changed")
}

// OnTaskDeleted removes a task from the totals
func (s *AccountStatistics) OnTaskDeleted(module models.SourceModule, status models.TaskStatus) {
	c := s.counters(module)
	decrement(&c.TotalTasks)
	decrement(taskBucket(c, status))
	s.recordIncrement(module, "task_deleted")
}

// OnExecution records one execution outcome. Retrying attempts only count
// toward the total; they settle into a bucket once terminal.
func (s *AccountStatistics) OnExecution(module models.SourceModule, status models.ExecutionStatus) {
	c := s.counters(module)
	c.TotalExecutions++
	switch status {
	case models.ExecSuccess:
		c.SuccessExecutions++
	case models.ExecFailed:
		c.FailedExecutions++
	case models.ExecTimeout:
		c.TimeoutExecutions++
	case models.ExecSkipped:
		c.SkippedExecutions++
	}
	s.recordIncrement(module, "execution")
}

// ReplaceModule swaps in freshly recomputed counters for one module. Used by
// the repair/backfill path, not the hot path.
func (s *AccountStatistics) ReplaceModule(module models.SourceModule, counters ModuleCounters) {
	c := counters
	s.modules[module] = &c
	s.recordIncrement(module, "recomputed")
}

// Reset zeroes every counter
func (s *AccountStatistics) Reset() {
	s.modules = make(map[models.SourceModule]*ModuleCounters)
	s.Record(events.New(events.StatisticsReset, s.accountID, s.accountID, nil))
}

// RecomputeModule builds counters from scratch out of persisted task statuses
// and execution history
func RecomputeModule(taskStatuses []models.TaskStatus, execStatuses []models.ExecutionStatus) ModuleCounters {
	var c ModuleCounters
	for _, st := range taskStatuses {
		c.TotalTasks++
		increment(taskBucket(&c, st))
	}
	for _, st := range execStatuses {
		c.TotalExecutions++
		switch st {
		case models.ExecSuccess:
			c.SuccessExecutions++
		case models.ExecFailed:
			c.FailedExecutions++
		case models.ExecTimeout:
			c.TimeoutExecutions++
		case models.ExecSkipped:
			c.SkippedExecutions++
		}
	}
	return c
}

func (s *AccountStatistics) recordIncrement(module models.SourceModule, kind string) {
	s.Record(events.New(events.StatisticsIncremented, s.accountID, s.accountID, map[string]any{
		"module": string(module),
		"kind":   kind,
	}))
}

func taskBucket(c *ModuleCounters, status models.TaskStatus) *int64 {
	switch status {
	case models.TaskPaused:
		return &c.PausedTasks
	case models.TaskCompleted:
		return &c.CompletedTasks
	case models.TaskFailed:
		return &c.FailedTasks
	case models.TaskActive:
		return &c.ActiveTasks
	default:
		// cancelled tasks have no dedicated bucket
		return nil
	}
}

func increment(counter *int64) {
	if counter != nil {
		*counter++
	}
}

func decrement(counter *int64) {
	if counter != nil && *counter > 0 {
		*counter--
	}
}

// Snapshot is an immutable view used at the repository boundary
type Snapshot struct {
	AccountID string
	Modules   map[models.SourceModule]ModuleCounters
	Version   int64
}

// Snapshot returns an immutable copy of the statistics state
func (s *AccountStatistics) Snapshot() Snapshot {
	modules := make(map[models.SourceModule]ModuleCounters, len(s.modules))
	for m, c := range s.modules {
		modules[m] = *c
	}
	return Snapshot{
		AccountID: s.accountID,
		Modules:   modules,
		Version:   s.version,
	}
}

// Restore rehydrates statistics from a persisted snapshot
func Restore(snap Snapshot) *AccountStatistics {
	modules := make(map[models.SourceModule]*ModuleCounters, len(snap.Modules))
	for m, c := range snap.Modules {
		counters := c
		modules[m] = &counters
	}
	return &AccountStatistics{
		accountID: snap.AccountID,
		modules:   modules,
		version:   snap.Version,
	}
}
