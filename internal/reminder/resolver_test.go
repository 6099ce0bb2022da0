package reminder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/task"
)

type MockGroupLookup struct {
	mock.Mock
}

func (m *MockGroupLookup) FindByID(ctx context.Context, id string) (*reminder.Group, error) {
	args := m.Called(ctx, id)
	group, _ := args.Get(0).(*reminder.Group)
	return group, args.Error(1)
}

func (m *MockGroupLookup) FindByIDs(ctx context.Context, ids []string) (map[string]*reminder.Group, error) {
	args := m.Called(ctx, ids)
	groups, _ := args.Get(0).(map[string]*reminder.Group)
	return groups, args.Error(1)
}

func newTemplate(t *testing.T, groupID string, status models.ReminderStatus) *reminder.Template {
	rule, err := task.NewTriggerRule("0 9 * * *", "UTC")
	require.NoError(t, err)
	tpl := reminder.NewTemplate("acc-1", groupID, "Drink water", "hydrate!", rule)
	if status == models.ReminderPaused {
		tpl.Pause()
	}
	return tpl
}

func groupWith(mode models.ControlMode, status models.ReminderStatus) *reminder.Group {
	g := reminder.NewGroup("acc-1", "Health")
	g.SwitchControlMode(mode)
	if status == models.ReminderPaused {
		g.Pause()
	}
	g.TakeEvents()
	return g
}

func TestEffectiveUngroupedTemplate(t *testing.T) {
	lookup := &MockGroupLookup{}
	resolver := reminder.NewControlResolver(lookup)

	tpl := newTemplate(t, "", models.ReminderActive)
	status, err := resolver.Effective(context.Background(), tpl)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderActive, status)

	lookup.AssertNotCalled(t, "FindByID")
}

func TestEffectiveMissingGroupFallsBackToSelf(t *testing.T) {
	lookup := &MockGroupLookup{}
	lookup.On("FindByID", mock.Anything, "gone").Return(nil, nil)
	resolver := reminder.NewControlResolver(lookup)

	tpl := newTemplate(t, "gone", models.ReminderActive)
	status, err := resolver.Effective(context.Background(), tpl)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderActive, status)
}

func TestEffectiveANDLaw(t *testing.T) {
	for _, tc := range []struct {
		name           string
		mode           models.ControlMode
		groupStatus    models.ReminderStatus
		templateStatus models.ReminderStatus
		want           models.ReminderStatus
	}{
		{"group mode, both active", models.ControlGroup, models.ReminderActive, models.ReminderActive, models.ReminderActive},
		{"group mode, group paused", models.ControlGroup, models.ReminderPaused, models.ReminderActive, models.ReminderPaused},
		{"group mode, template paused", models.ControlGroup, models.ReminderActive, models.ReminderPaused, models.ReminderPaused},
		{"group mode, both paused", models.ControlGroup, models.ReminderPaused, models.ReminderPaused, models.ReminderPaused},
		{"individual mode, group paused", models.ControlIndividual, models.ReminderPaused, models.ReminderActive, models.ReminderActive},
		{"individual mode, template paused", models.ControlIndividual, models.ReminderActive, models.ReminderPaused, models.ReminderPaused},
	} {
		t.Run(tc.name, func(t *testing.T) {
			group := groupWith(tc.mode, tc.groupStatus)
			lookup := &MockGroupLookup{}
			lookup.On("FindByID", mock.Anything, group.ID()).Return(group, nil)
			resolver := reminder.NewControlResolver(lookup)

			tpl := newTemplate(t, group.ID(), tc.templateStatus)
			status, err := resolver.Effective(context.Background(), tpl)
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)

			enabled, err := resolver.IsEffectivelyEnabled(context.Background(), tpl)
			require.NoError(t, err)
			assert.Equal(t, tc.want == models.ReminderActive, enabled)
		})
	}
}

func TestEffectiveBatchSingleGroupFetch(t *testing.T) {
	pausedGroup := groupWith(models.ControlGroup, models.ReminderPaused)

	a := newTemplate(t, pausedGroup.ID(), models.ReminderActive)
	b := newTemplate(t, pausedGroup.ID(), models.ReminderActive)
	c := newTemplate(t, "", models.ReminderActive)

	lookup := &MockGroupLookup{}
	lookup.On("FindByIDs", mock.Anything, []string{pausedGroup.ID()}).
		Return(map[string]*reminder.Group{pausedGroup.ID(): pausedGroup}, nil).
		Once()
	resolver := reminder.NewControlResolver(lookup)

	statuses, err := resolver.EffectiveBatch(context.Background(), []*reminder.Template{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, models.ReminderPaused, statuses[a.ID()])
	assert.Equal(t, models.ReminderPaused, statuses[b.ID()])
	assert.Equal(t, models.ReminderActive, statuses[c.ID()])

	lookup.AssertExpectations(t)
}

func TestEffectiveBatchNoGroupsNoFetch(t *testing.T) {
	lookup := &MockGroupLookup{}
	resolver := reminder.NewControlResolver(lookup)

	tpl := newTemplate(t, "", models.ReminderActive)
	statuses, err := resolver.EffectiveBatch(context.Background(), []*reminder.Template{tpl})
	require.NoError(t, err)
	assert.Len(t, statuses, 1)

	lookup.AssertNotCalled(t, "FindByIDs")
}

func TestEffectivePropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	lookup := &MockGroupLookup{}
	lookup.On("FindByID", mock.Anything, mock.Anything).Return(nil, boom)
	resolver := reminder.NewControlResolver(lookup)

	tpl := newTemplate(t, "g-1", models.ReminderActive)
	_, err := resolver.Effective(context.Background(), tpl)
	assert.ErrorIs(t, err, boom)
}
