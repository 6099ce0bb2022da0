package reminder

import (
	"time"

	"github.com/google/uuid"
	"agenda/internal/models"
	"agenda/internal/task"
)

// Template is a recurring reminder definition. Its own status says what the
// user set on the template itself; the state that actually matters is the
// effective status, which the ControlResolver derives from the owning group's
// control mode and is never stored.
type Template struct {
	id        string
	accountID string
	groupID   string // empty when the template is ungrouped
	name      string
	message   string

	status models.ReminderStatus
	rule   task.TriggerRule

	nextTriggerTime *time.Time
	lastTriggerTime *time.Time
	triggerCount    int64
}

// NewTemplate creates an active template and computes its first trigger time
func NewTemplate(accountID, groupID, name, message string, rule task.TriggerRule) *Template {
	t := &Template{
		id:        uuid.New().String(),
		accountID: accountID,
		groupID:   groupID,
		name:      name,
		message:   message,
		status:    models.ReminderActive,
		rule:      rule,
	}
	if next, ok := rule.NextRun(time.Now(), 0); ok {
		t.nextTriggerTime = &next
	}
	return t
}

func (t *Template) ID() string                    { return t.id }
func (t *Template) AccountID() string             { return t.accountID }
func (t *Template) GroupID() string               { return t.groupID }
func (t *Template) Name() string                  { return t.name }
func (t *Template) Message() string               { return t.message }
func (t *Template) Status() models.ReminderStatus { return t.status }
func (t *Template) Rule() task.TriggerRule        { return t.rule }
func (t *Template) TriggerCount() int64           { return t.triggerCount }

// SelfEnabled reports the template's own switch, ignoring group control
func (t *Template) SelfEnabled() bool {
	return t.status == models.ReminderActive
}

func (t *Template) NextTriggerTime() *time.Time { return copyTime(t.nextTriggerTime) }
func (t *Template) LastTriggerTime() *time.Time { return copyTime(t.lastTriggerTime) }

// Enable activates the template's own switch
func (t *Template) Enable() {
	t.status = models.ReminderActive
}

// Pause suspends the template's own switch
func (t *Template) Pause() {
	t.status = models.ReminderPaused
}

// MarkTriggered records that the reminder fired at the given time and
// advances the next trigger time past it
func (t *Template) MarkTriggered(at time.Time) {
	t.lastTriggerTime = &at
	t.triggerCount++
	t.advanceAfter(at)
}

// AdvanceNextTrigger moves the next trigger time to the first occurrence
// after now without recording any outcome. Used by the overdue skip and
// reschedule policies so a stale backlog does not repeat indefinitely.
func (t *Template) AdvanceNextTrigger(now time.Time) {
	t.advanceAfter(now)
}

func (t *Template) advanceAfter(after time.Time) {
	if next, ok := t.rule.NextRun(after, t.triggerCount); ok {
		t.nextTriggerTime = &next
	} else {
		t.nextTriggerTime = nil
	}
}

// Overdue reports whether the next trigger time lapsed by at least the grace
// window. The boundary is inclusive to match the repository's due-before scan.
func (t *Template) Overdue(now time.Time, grace time.Duration) bool {
	return t.nextTriggerTime != nil && now.Sub(*t.nextTriggerTime) >= grace
}

// UpdateRule replaces the recurrence rule and recomputes the next trigger
func (t *Template) UpdateRule(rule task.TriggerRule) {
	t.rule = rule
	t.advanceAfter(time.Now())
}

// TemplateSnapshot is an immutable view used at the repository boundary
type TemplateSnapshot struct {
	ID              string
	AccountID       string
	GroupID         string
	Name            string
	Message         string
	Status          models.ReminderStatus
	Rule            task.TriggerRule
	NextTriggerTime *time.Time
	LastTriggerTime *time.Time
	TriggerCount    int64
}

// Snapshot returns an immutable copy of the template state
func (t *Template) Snapshot() TemplateSnapshot {
	return TemplateSnapshot{
		ID:              t.id,
		AccountID:       t.accountID,
		GroupID:         t.groupID,
		Name:            t.name,
		Message:         t.message,
		Status:          t.status,
		Rule:            t.rule,
		NextTriggerTime: copyTime(t.nextTriggerTime),
		LastTriggerTime: copyTime(t.lastTriggerTime),
		TriggerCount:    t.triggerCount,
	}
}

// RestoreTemplate rehydrates a template from a persisted snapshot
func RestoreTemplate(snap TemplateSnapshot) *Template {
	return &Template{
		id:              snap.ID,
		accountID:       snap.AccountID,
		groupID:         snap.GroupID,
		name:            snap.Name,
		message:         snap.Message,
		status:          snap.Status,
		rule:            snap.Rule,
		nextTriggerTime: copyTime(snap.NextTriggerTime),
		lastTriggerTime: copyTime(snap.LastTriggerTime),
		triggerCount:    snap.TriggerCount,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
