package scheduler

import (
	"context"
	"fmt"
	"time"

	"agenda/internal/events"
	"agenda/internal/schedule"
)

// ConflictChecker runs conflict detection for a calendar event against the
// account's other events in the same window, and persists the updated
// conflict flags
type ConflictChecker struct {
	schedules ScheduleRepository
	publisher events.Publisher
}

// NewConflictChecker creates a conflict checker
func NewConflictChecker(schedules ScheduleRepository, publisher events.Publisher) *ConflictChecker {
	return &ConflictChecker{schedules: schedules, publisher: publisher}
}

// Check fetches the candidate set overlapping the subject's window, runs
// detection, updates the subject's conflict flags and saves it
func (c *ConflictChecker) Check(ctx context.Context, subject *schedule.Schedule) (schedule.ConflictReport, error) {
	candidates, err := c.schedules.FindByTimeRange(ctx, subject.AccountID(), subject.StartTime(), subject.EndTime(), subject.ID())
	if err != nil {
		return schedule.ConflictReport{}, fmt.Errorf("could not fetch overlapping schedules: %w", err)
	}

	report := subject.DetectConflicts(candidates)
	if report.HasConflict {
		ids := make([]string, 0, len(report.Conflicts))
		for _, conflict := range report.Conflicts {
			ids = append(ids, conflict.OtherID)
		}
		subject.MarkConflicting(ids)
	} else {
		subject.ClearConflicts()
	}

	if err := c.schedules.Save(ctx, subject); err != nil {
		return schedule.ConflictReport{}, err
	}
	publishEvents(ctx, c.publisher, subject.TakeEvents())
	return report, nil
}

// Reschedule moves an event to a new window and re-runs conflict detection
// over the updated candidate set
func (c *ConflictChecker) Reschedule(ctx context.Context, scheduleID string, newStart, newEnd time.Time) (schedule.ConflictReport, error) {
	subject, err := c.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return schedule.ConflictReport{}, err
	}

	if err := subject.Reschedule(newStart, newEnd); err != nil {
		return schedule.ConflictReport{}, err
	}
	return c.Check(ctx, subject)
}
