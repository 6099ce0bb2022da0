package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"agenda/internal/models"
	"agenda/internal/reminder"
)

// GroupStore persists reminder groups in agenda.reminder_group. It satisfies
// reminder.GroupLookup, so the control resolver reads straight off it.
type GroupStore struct {
	db *sqlx.DB
}

func NewGroupStore(db *sqlx.DB) *GroupStore {
	return &GroupStore{db: db}
}

// Save upserts a group
func (s *GroupStore) Save(ctx context.Context, g *reminder.Group) error {
	snap := g.Snapshot()

	query := `
INSERT INTO agenda.reminder_group
(id, account_id, name, control_mode, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name         = EXCLUDED.name,
    control_mode = EXCLUDED.control_mode,
    status       = EXCLUDED.status,
    updated_at   = NOW()`

	_, err := s.db.ExecContext(ctx, query, snap.ID, snap.AccountID, snap.Name, snap.ControlMode, snap.Status)
	return err
}

// FindByID fetches one group. A missing id returns (nil, nil): the resolver
// treats an orphaned group reference as individual control.
func (s *GroupStore) FindByID(ctx context.Context, id string) (*reminder.Group, error) {
	var row models.ReminderGroupRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agenda.reminder_group WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return restoreGroup(row), nil
}

// FindByIDs fetches several groups in one query, keyed by id. Missing ids are
// simply absent from the result.
func (s *GroupStore) FindByIDs(ctx context.Context, ids []string) (map[string]*reminder.Group, error) {
	out := make(map[string]*reminder.Group)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT * FROM agenda.reminder_group WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var rows []models.ReminderGroupRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.ID] = restoreGroup(row)
	}
	return out, nil
}

// FindByAccount fetches all of an account's groups
func (s *GroupStore) FindByAccount(ctx context.Context, accountID string) ([]*reminder.Group, error) {
	var rows []models.ReminderGroupRow
	query := "SELECT * FROM agenda.reminder_group WHERE account_id = $1 ORDER BY created_at"
	if err := s.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, err
	}

	groups := make([]*reminder.Group, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, restoreGroup(row))
	}
	return groups, nil
}

// DeleteByID removes a group. Members keep their group_id and fall back to
// individual control until reassigned.
func (s *GroupStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM agenda.reminder_group WHERE id = $1", id)
	return err
}

func restoreGroup(row models.ReminderGroupRow) *reminder.Group {
	return reminder.RestoreGroup(reminder.GroupSnapshot{
		ID:          row.ID,
		AccountID:   row.AccountID,
		Name:        row.Name,
		ControlMode: row.ControlMode,
		Status:      row.Status,
	})
}
