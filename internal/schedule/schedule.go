package schedule

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"agenda/internal/events"
)

var (
	// ErrInvalidTimeRange is returned when a schedule's start time is not
	// strictly before its end time
	ErrInvalidTimeRange = errors.New("schedule start time must be before end time")
)

// Schedule is a user-visible calendar event owned by one account. Fields are
// unexported; state changes go through the named mutators which enforce the
// time-ordering invariant. Cross-boundary reads use Snapshot.
type Schedule struct {
	events.Outbox

	id          string
	accountID   string
	title       string
	description string
	location    string
	priority    int
	attendees   []string

	startTime time.Time
	endTime   time.Time

	hasConflict    bool
	conflictingIDs []string
}

// New creates a schedule, validating that start < end
func New(accountID, title string, start, end time.Time) (*Schedule, error) {
	if !start.Before(end) {
		return nil, ErrInvalidTimeRange
	}

	return &Schedule{
		id:        uuid.New().String(),
		accountID: accountID,
		title:     title,
		startTime: start,
		endTime:   end,
	}, nil
}

// Snapshot is an immutable view of a schedule, used at repository and API
// boundaries
type Snapshot struct {
	ID             string
	AccountID      string
	Title          string
	Description    string
	Location       string
	Priority       int
	Attendees      []string
	StartTime      time.Time
	EndTime        time.Time
	DurationMin    int
	HasConflict    bool
	ConflictingIDs []string
}

// Restore rehydrates a schedule from a persisted snapshot. It bypasses
// validation on purpose: the row was validated when it was written.
func Restore(snap Snapshot) *Schedule {
	return &Schedule{
		id:             snap.ID,
		accountID:      snap.AccountID,
		title:          snap.Title,
		description:    snap.Description,
		location:       snap.Location,
		priority:       snap.Priority,
		attendees:      append([]string(nil), snap.Attendees...),
		startTime:      snap.StartTime,
		endTime:        snap.EndTime,
		hasConflict:    snap.HasConflict,
		conflictingIDs: append([]string(nil), snap.ConflictingIDs...),
	}
}

func (s *Schedule) ID() string           { return s.id }
func (s *Schedule) AccountID() string    { return s.accountID }
func (s *Schedule) Title() string        { return s.title }
func (s *Schedule) StartTime() time.Time { return s.startTime }
func (s *Schedule) EndTime() time.Time   { return s.endTime }
func (s *Schedule) HasConflict() bool    { return s.hasConflict }

// ConflictingIDs returns a copy of the ids this schedule conflicts with
func (s *Schedule) ConflictingIDs() []string {
	return append([]string(nil), s.conflictingIDs...)
}

// DurationMinutes returns the event length in minutes, rounded to the nearest
// minute
func (s *Schedule) DurationMinutes() int {
	return minutesBetween(s.startTime, s.endTime)
}

// SetDetails updates the descriptive fields that carry no invariants
func (s *Schedule) SetDetails(description, location string, priority int, attendees []string) {
	s.description = description
	s.location = location
	s.priority = priority
	s.attendees = append([]string(nil), attendees...)
}

// Reschedule moves the event to a new time window. It re-validates the
// ordering and raises a schedule-updated event. Conflict detection is not
// re-run here: the full candidate set lives outside the aggregate, so the
// caller re-checks after a successful move.
func (s *Schedule) Reschedule(newStart, newEnd time.Time) error {
	if !newStart.Before(newEnd) {
		return ErrInvalidTimeRange
	}

	s.startTime = newStart
	s.endTime = newEnd
	s.Record(events.New(events.ScheduleUpdated, s.id, s.accountID, map[string]any{
		"start_time": newStart,
		"end_time":   newEnd,
	}))
	return nil
}

// MarkConflicting flags the schedule as conflicting with the given ids
func (s *Schedule) MarkConflicting(ids []string) {
	s.hasConflict = len(ids) > 0
	s.conflictingIDs = append([]string(nil), ids...)
}

// ClearConflicts resets the conflict flags
func (s *Schedule) ClearConflicts() {
	s.hasConflict = false
	s.conflictingIDs = nil
}

// Snapshot returns an immutable copy of the schedule state
func (s *Schedule) Snapshot() Snapshot {
	return Snapshot{
		ID:             s.id,
		AccountID:      s.accountID,
		Title:          s.title,
		Description:    s.description,
		Location:       s.location,
		Priority:       s.priority,
		Attendees:      append([]string(nil), s.attendees...),
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		DurationMin:    s.DurationMinutes(),
		HasConflict:    s.hasConflict,
		ConflictingIDs: append([]string(nil), s.conflictingIDs...),
	}
}

func minutesBetween(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}
