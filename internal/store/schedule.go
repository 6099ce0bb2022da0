package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"agenda/internal/models"
	"agenda/internal/schedule"
)

// ScheduleStore persists calendar events in the agenda.schedule table
type ScheduleStore struct {
	db *sqlx.DB
}

func NewScheduleStore(db *sqlx.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Save upserts a schedule and its conflict flags
func (s *ScheduleStore) Save(ctx context.Context, sched *schedule.Schedule) error {
	snap := sched.Snapshot()

	attendees, err := json.Marshal(snap.Attendees)
	if err != nil {
		return fmt.Errorf("could not encode attendees: %w", err)
	}
	conflicting, err := json.Marshal(snap.ConflictingIDs)
	if err != nil {
		return fmt.Errorf("could not encode conflicting ids: %w", err)
	}

	query := `
INSERT INTO agenda.schedule
(id, account_id, title, description, start_time, end_time, location, priority, attendees, has_conflict, conflicting_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET title           = EXCLUDED.title,
    description     = EXCLUDED.description,
    start_time      = EXCLUDED.start_time,
    end_time        = EXCLUDED.end_time,
    location        = EXCLUDED.location,
    priority        = EXCLUDED.priority,
    attendees       = EXCLUDED.attendees,
    has_conflict    = EXCLUDED.has_conflict,
    conflicting_ids = EXCLUDED.conflicting_ids,
    updated_at      = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID, snap.AccountID, snap.Title, null.NewString(snap.Description, snap.Description != ""),
		snap.StartTime, snap.EndTime, null.NewString(snap.Location, snap.Location != ""),
		snap.Priority, attendees, snap.HasConflict, conflicting)
	return err
}

// FindByID fetches one schedule. Returns ErrNotFound when the id is unknown.
func (s *ScheduleStore) FindByID(ctx context.Context, id string) (*schedule.Schedule, error) {
	var row models.ScheduleRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agenda.schedule WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return restoreSchedule(row)
}

// FindByAccount fetches all of an account's schedules ordered by start time
func (s *ScheduleStore) FindByAccount(ctx context.Context, accountID string) ([]*schedule.Schedule, error) {
	var rows []models.ScheduleRow
	query := "SELECT * FROM agenda.schedule WHERE account_id = $1 ORDER BY start_time"
	if err := s.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, err
	}
	return restoreSchedules(rows)
}

// FindByTimeRange fetches the account's schedules overlapping [start, end),
// excluding the given id. Overlap is half-open so back-to-back events do not
// match.
func (s *ScheduleStore) FindByTimeRange(ctx context.Context, accountID string, start, end time.Time, excludeID string) ([]*schedule.Schedule, error) {
	var rows []models.ScheduleRow
	query := `
SELECT *
FROM agenda.schedule
WHERE account_id = $1
  AND start_time < $3
  AND end_time > $2
  AND id <> $4
ORDER BY start_time`

	if err := s.db.SelectContext(ctx, &rows, query, accountID, start, end, excludeID); err != nil {
		return nil, err
	}
	return restoreSchedules(rows)
}

// DeleteByID removes a schedule
func (s *ScheduleStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM agenda.schedule WHERE id = $1", id)
	return err
}

func restoreSchedules(rows []models.ScheduleRow) ([]*schedule.Schedule, error) {
	out := make([]*schedule.Schedule, 0, len(rows))
	for _, row := range rows {
		sched, err := restoreSchedule(row)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

func restoreSchedule(row models.ScheduleRow) (*schedule.Schedule, error) {
	var attendees []string
	if len(row.Attendees) > 0 {
		if err := json.Unmarshal(row.Attendees, &attendees); err != nil {
			return nil, fmt.Errorf("could not decode attendees for schedule %s: %w", row.ID, err)
		}
	}
	var conflicting []string
	if len(row.ConflictingIDs) > 0 {
		if err := json.Unmarshal(row.ConflictingIDs, &conflicting); err != nil {
			return nil, fmt.Errorf("could not decode conflicting ids for schedule %s: %w", row.ID, err)
		}
	}

	return schedule.Restore(schedule.Snapshot{
		ID:             row.ID,
		AccountID:      row.AccountID,
		Title:          row.Title,
		Description:    row.Description.ValueOrZero(),
		Location:       row.Location.ValueOrZero(),
		Priority:       row.Priority,
		Attendees:      attendees,
		StartTime:      row.StartTime,
		EndTime:        row.EndTime,
		HasConflict:    row.HasConflict,
		ConflictingIDs: conflicting,
	}), nil
}
