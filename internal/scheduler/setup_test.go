package scheduler_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/schedule"
	"agenda/internal/stats"
	"agenda/internal/task"
)

// In-memory fakes for the repository contracts. The scheduler loop runs
// chunk goroutines, so every fake is mutex-guarded.

type memGroups struct {
	mu     sync.Mutex
	groups map[string]*reminder.Group
}

func newMemGroups(groups ...*reminder.Group) *memGroups {
	m := &memGroups{groups: make(map[string]*reminder.Group)}
	for _, g := range groups {
		m.groups[g.ID()] = g
	}
	return m
}

func (m *memGroups) FindByID(_ context.Context, id string) (*reminder.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[id], nil
}

func (m *memGroups) FindByIDs(_ context.Context, ids []string) (map[string]*reminder.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*reminder.Group)
	for _, id := range ids {
		if g, ok := m.groups[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

type memTemplates struct {
	mu        sync.Mutex
	templates map[string]*reminder.Template
	history   map[string][]reminder.HistoryEntry

	saveErr      error
	appendErr    error
	failTemplate string // template id whose history append errors
}

func newMemTemplates(tpls ...*reminder.Template) *memTemplates {
	m := &memTemplates{
		templates: make(map[string]*reminder.Template),
		history:   make(map[string][]reminder.HistoryEntry),
	}
	for _, tpl := range tpls {
		m.templates[tpl.ID()] = tpl
	}
	return m
}

func (m *memTemplates) Save(_ context.Context, tpl *reminder.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.templates[tpl.ID()] = tpl
	return nil
}

func (m *memTemplates) FindDueBefore(_ context.Context, before time.Time, accountID string) ([]*reminder.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*reminder.Template
	for _, tpl := range m.templates {
		next := tpl.NextTriggerTime()
		if next == nil || next.After(before) {
			continue
		}
		if accountID != "" && tpl.AccountID() != accountID {
			continue
		}
		due = append(due, tpl)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextTriggerTime().Before(*due[j].NextTriggerTime())
	})
	return due, nil
}

func (m *memTemplates) FindByAccount(_ context.Context, accountID string) ([]*reminder.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*reminder.Template
	for _, tpl := range m.templates {
		if tpl.AccountID() == accountID {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memTemplates) FindByGroup(_ context.Context, groupID string) ([]*reminder.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*reminder.Template
	for _, tpl := range m.templates {
		if tpl.GroupID() == groupID {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (m *memTemplates) AppendHistory(_ context.Context, entry reminder.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil && (m.failTemplate == "" || m.failTemplate == entry.TemplateID) {
		return m.appendErr
	}
	m.history[entry.TemplateID] = append(m.history[entry.TemplateID], entry)
	return nil
}

func (m *memTemplates) ListHistory(_ context.Context, templateID string) ([]reminder.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]reminder.HistoryEntry(nil), m.history[templateID]...), nil
}

// memStats mimics the optimistic save: the stored version must match the
// aggregate's loaded version, and conflictEvery>0 forces every Nth save to
// lose the race once.
type memStats struct {
	mu        sync.Mutex
	rows      map[string]stats.Snapshot
	conflicts int // number of saves to reject up front
	saves     int
}

func newMemStats() *memStats {
	return &memStats{rows: make(map[string]stats.Snapshot)}
}

func (m *memStats) GetOrCreate(_ context.Context, accountID string) (*stats.AccountStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.rows[accountID]; ok {
		return stats.Restore(snap), nil
	}
	return stats.New(accountID), nil
}

func (m *memStats) Save(_ context.Context, s *stats.AccountStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.conflicts > 0 {
		m.conflicts--
		return stats.ErrVersionConflict
	}

	stored, ok := m.rows[s.AccountID()]
	if ok && stored.Version != s.Version() {
		return stats.ErrVersionConflict
	}

	snap := s.Snapshot()
	snap.Version++
	m.rows[s.AccountID()] = snap
	return nil
}

func (m *memStats) counters(accountID string, module models.SourceModule) stats.ModuleCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.rows[accountID]; ok {
		return snap.Modules[module]
	}
	return stats.ModuleCounters{}
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*task.ScheduleTask
}

func newMemTasks(tasks ...*task.ScheduleTask) *memTasks {
	m := &memTasks{tasks: make(map[string]*task.ScheduleTask)}
	for _, t := range tasks {
		m.tasks[t.ID()] = t
	}
	return m
}

func (m *memTasks) Save(_ context.Context, t *task.ScheduleTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID()] = t
	return nil
}

func (m *memTasks) FindByID(_ context.Context, id string) (*task.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id], nil
}

func (m *memTasks) FindBySource(_ context.Context, module models.SourceModule, entityID string) ([]*task.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.ScheduleTask
	for _, t := range m.tasks {
		if t.SourceModule() == module && t.SourceEntityID() == entityID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) FindDueForExecution(_ context.Context, before time.Time, limit int) ([]*task.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*task.ScheduleTask
	for _, t := range m.tasks {
		next := t.NextRunAt()
		if next != nil && !next.After(before) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt().Before(*due[j].NextRunAt())
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memTasks) SaveBatch(ctx context.Context, tasks []*task.ScheduleTask) error {
	for _, t := range tasks {
		if err := m.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *memTasks) DeleteBatch(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}

type memSchedules struct {
	mu        sync.Mutex
	schedules map[string]*schedule.Schedule
}

func newMemSchedules(scheds ...*schedule.Schedule) *memSchedules {
	m := &memSchedules{schedules: make(map[string]*schedule.Schedule)}
	for _, s := range scheds {
		m.schedules[s.ID()] = s
	}
	return m
}

func (m *memSchedules) Save(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID()] = s
	return nil
}

func (m *memSchedules) FindByID(_ context.Context, id string) (*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id], nil
}

func (m *memSchedules) FindByAccount(_ context.Context, accountID string) ([]*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schedule.Schedule
	for _, s := range m.schedules {
		if s.AccountID() == accountID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) FindByTimeRange(_ context.Context, accountID string, start, end time.Time, excludeID string) ([]*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schedule.Schedule
	for _, s := range m.schedules {
		if s.AccountID() != accountID || s.ID() == excludeID {
			continue
		}
		if s.StartTime().Before(end) && s.EndTime().After(start) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

// capturingPublisher collects published events for assertions
type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

// Test data helpers

func dueTemplate(t *testing.T, accountID, groupID string) *reminder.Template {
	t.Helper()
	rule, err := task.NewTriggerRule("* * * * *", "UTC")
	require.NoError(t, err)
	tpl := reminder.NewTemplate(accountID, groupID, "reminder", "", rule)
	// Make the template due in the past so every scan picks it up
	tpl.AdvanceNextTrigger(time.Now().Add(-2 * time.Hour))
	return tpl
}

func dueTask(t *testing.T, accountID string, retries int) *task.ScheduleTask {
	t.Helper()
	rule, err := task.NewTriggerRule("* * * * *", "UTC")
	require.NoError(t, err)
	policy := task.NoRetry()
	if retries > 0 {
		policy, err = task.NewRetryPolicy(true, retries, 5*time.Second, 2, time.Minute)
		require.NoError(t, err)
	}
	tk := task.Create(accountID, "work", models.ModuleTask, "entity-1", rule, policy)
	tk.TakeEvents()
	return tk
}
