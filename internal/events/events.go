package events

import (
	"time"

	"github.com/google/uuid"
)

// Domain event names emitted by the aggregates. Consumers (notification
// delivery, audit log, dashboards) subscribe to these externally.
const (
	TaskCreated     = "task.created"
	TaskPaused      = "task.paused"
	TaskResumed     = "task.resumed"
	TaskCompleted   = "task.completed"
	TaskCancelled   = "task.cancelled"
	TaskFailed      = "task.failed"
	TaskExecuted    = "task.executed"
	TaskDispatched  = "task.dispatched"
	ScheduleUpdated = "schedule.updated"

	GroupControlModeSwitched = "reminder_group.control_mode_switched"
	GroupEnabled             = "reminder_group.enabled"
	GroupPaused              = "reminder_group.paused"
	GroupDeleted             = "reminder_group.deleted"

	StatisticsCreated     = "statistics.created"
	StatisticsIncremented = "statistics.incremented"
	StatisticsReset       = "statistics.reset"
)

// Event is a single domain event. Payload carries event-specific fields and
// must stay JSON-serializable.
type Event struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AggregateID string         `json:"aggregate_id"`
	AccountID   string         `json:"account_id"`
	OccurredOn  time.Time      `json:"occurred_on"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// New creates an event stamped with a fresh ID and the current time
func New(name, aggregateID, accountID string, payload map[string]any) Event {
	return Event{
		ID:          uuid.New().String(),
		Name:        name,
		AggregateID: aggregateID,
		AccountID:   accountID,
		OccurredOn:  time.Now(),
		Payload:     payload,
	}
}

// Outbox buffers events raised by an aggregate until a service drains them
// after the owning save succeeds. Aggregates embed it; it is not safe for
// concurrent use, matching the single-writer aggregate model.
type Outbox struct {
	pending []Event
}

// Record appends an event to the outbox
func (o *Outbox) Record(e Event) {
	o.pending = append(o.pending, e)
}

// TakeEvents returns all buffered events and empties the outbox
func (o *Outbox) TakeEvents() []Event {
	out := o.pending
	o.pending = nil
	return out
}

// PendingCount returns the number of undrained events
func (o *Outbox) PendingCount() int {
	return len(o.pending)
}
