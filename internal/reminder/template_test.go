package reminder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/task"
)

func TestTemplateTriggerAdvancesNextTime(t *testing.T) {
	rule, err := task.NewTriggerRule("0 9 * * *", "UTC")
	require.NoError(t, err)
	tpl := reminder.NewTemplate("acc-1", "", "Morning pages", "write!", rule)

	first := tpl.NextTriggerTime()
	require.NotNil(t, first)

	tpl.MarkTriggered(*first)
	require.NotNil(t, tpl.LastTriggerTime())
	assert.Equal(t, *first, *tpl.LastTriggerTime())
	assert.Equal(t, int64(1), tpl.TriggerCount())

	second := tpl.NextTriggerTime()
	require.NotNil(t, second)
	assert.Equal(t, first.Add(24*time.Hour), *second)
}

func TestTemplateAdvanceWithoutOutcome(t *testing.T) {
	rule, err := task.NewTriggerRule("0 9 * * *", "UTC")
	require.NoError(t, err)
	tpl := reminder.NewTemplate("acc-1", "", "Stretch", "", rule)

	now := time.Now().Add(72 * time.Hour)
	tpl.AdvanceNextTrigger(now)

	next := tpl.NextTriggerTime()
	require.NotNil(t, next)
	assert.True(t, next.After(now))
	assert.Nil(t, tpl.LastTriggerTime(), "no trigger outcome recorded")
	assert.Zero(t, tpl.TriggerCount())
}

func TestTemplateOverdue(t *testing.T) {
	rule, err := task.NewTriggerRule("0 9 * * *", "UTC")
	require.NoError(t, err)
	tpl := reminder.NewTemplate("acc-1", "", "Call home", "", rule)

	next := tpl.NextTriggerTime()
	require.NotNil(t, next)

	grace := 30 * time.Minute
	assert.False(t, tpl.Overdue(next.Add(10*time.Minute), grace), "inside the grace window")
	assert.True(t, tpl.Overdue(next.Add(grace), grace), "lapsed exactly the grace window ago")
	assert.True(t, tpl.Overdue(next.Add(45*time.Minute), grace))
}

func TestTemplateSnapshotRoundTrip(t *testing.T) {
	rule, err := task.NewTriggerRule("30 7 * * 1-5", "Asia/Singapore")
	require.NoError(t, err)
	tpl := reminder.NewTemplate("acc-1", "grp-1", "Commute", "leave now", rule)
	tpl.MarkTriggered(time.Now())
	tpl.Pause()

	snap := tpl.Snapshot()
	restored := reminder.RestoreTemplate(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.False(t, restored.SelfEnabled())
}

func TestGroupEvents(t *testing.T) {
	g := reminder.NewGroup("acc-1", "Fitness")
	assert.Equal(t, models.ControlIndividual, g.ControlMode())
	assert.Equal(t, models.ReminderActive, g.Status())

	g.SwitchControlMode(models.ControlGroup)
	g.SwitchControlMode(models.ControlGroup) // no-op, no duplicate event
	g.Pause()
	g.Pause() // no-op
	g.Toggle()
	g.MarkDeleted()

	names := []string{}
	for _, e := range g.TakeEvents() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		events.GroupControlModeSwitched,
		events.GroupPaused,
		events.GroupEnabled,
		events.GroupDeleted,
	}, names)
}
