package reminder

import (
	"github.com/google/uuid"
	"agenda/internal/events"
	"agenda/internal/models"
)

// Group collects reminder templates under one switch. In group control mode
// the group's status gates every member; in individual mode each template
// governs itself.
type Group struct {
	events.Outbox

	id          string
	accountID   string
	name        string
	controlMode models.ControlMode
	status      models.ReminderStatus
}

// NewGroup creates an active group in individual control mode
func NewGroup(accountID, name string) *Group {
	return &Group{
		id:          uuid.New().String(),
		accountID:   accountID,
		name:        name,
		controlMode: models.ControlIndividual,
		status:      models.ReminderActive,
	}
}

func (g *Group) ID() string                      { return g.id }
func (g *Group) AccountID() string               { return g.accountID }
func (g *Group) Name() string                    { return g.name }
func (g *Group) ControlMode() models.ControlMode { return g.controlMode }
func (g *Group) Status() models.ReminderStatus   { return g.status }

// SwitchControlMode changes how the group gates its members
func (g *Group) SwitchControlMode(mode models.ControlMode) {
	if g.controlMode == mode {
		return
	}
	g.controlMode = mode
	g.Record(events.New(events.GroupControlModeSwitched, g.id, g.accountID, map[string]any{
		"control_mode": string(mode),
	}))
}

// Enable activates the group switch
func (g *Group) Enable() {
	if g.status == models.ReminderActive {
		return
	}
	g.status = models.ReminderActive
	g.Record(events.New(events.GroupEnabled, g.id, g.accountID, nil))
}

// Pause suspends the group switch
func (g *Group) Pause() {
	if g.status == models.ReminderPaused {
		return
	}
	g.status = models.ReminderPaused
	g.Record(events.New(events.GroupPaused, g.id, g.accountID, nil))
}

// Toggle flips the group switch
func (g *Group) Toggle() {
	if g.status == models.ReminderActive {
		g.Pause()
	} else {
		g.Enable()
	}
}

// MarkDeleted raises the deletion event. Removing the row itself is the
// repository's job.
func (g *Group) MarkDeleted() {
	g.Record(events.New(events.GroupDeleted, g.id, g.accountID, nil))
}

// GroupSnapshot is an immutable view used at the repository boundary
type GroupSnapshot struct {
	ID          string
	AccountID   string
	Name        string
	ControlMode models.ControlMode
	Status      models.ReminderStatus
}

// Snapshot returns an immutable copy of the group state
func (g *Group) Snapshot() GroupSnapshot {
	return GroupSnapshot{
		ID:          g.id,
		AccountID:   g.accountID,
		Name:        g.name,
		ControlMode: g.controlMode,
		Status:      g.status,
	}
}

// RestoreGroup rehydrates a group from a persisted snapshot
func RestoreGroup(snap GroupSnapshot) *Group {
	return &Group{
		id:          snap.ID,
		accountID:   snap.AccountID,
		name:        snap.Name,
		controlMode: snap.ControlMode,
		status:      snap.Status,
	}
}
