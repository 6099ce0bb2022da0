package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"agenda/internal/models"
	"agenda/internal/reminder"
)

// TemplateStore persists reminder templates in agenda.reminder_template and
// their trigger outcomes in agenda.reminder_history
type TemplateStore struct {
	db *sqlx.DB
}

func NewTemplateStore(db *sqlx.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const upsertTemplateQuery = `
INSERT INTO agenda.reminder_template
(id, account_id, group_id, name, message, status,
 cron_expression, timezone, window_start, window_end, max_executions,
 next_trigger_time, last_trigger_time, trigger_count)
VALUES (:id, :account_id, :group_id, :name, :message, :status,
        :cron_expression, :timezone, :window_start, :window_end, :max_executions,
        :next_trigger_time, :last_trigger_time, :trigger_count)
ON CONFLICT (id) DO UPDATE
SET group_id          = EXCLUDED.group_id,
    name              = EXCLUDED.name,
    message           = EXCLUDED.message,
    status            = EXCLUDED.status,
    cron_expression   = EXCLUDED.cron_expression,
    timezone          = EXCLUDED.timezone,
    window_start      = EXCLUDED.window_start,
    window_end        = EXCLUDED.window_end,
    max_executions    = EXCLUDED.max_executions,
    next_trigger_time = EXCLUDED.next_trigger_time,
    last_trigger_time = EXCLUDED.last_trigger_time,
    trigger_count     = EXCLUDED.trigger_count,
    updated_at        = NOW()`

// Save upserts a template
func (s *TemplateStore) Save(ctx context.Context, tpl *reminder.Template) error {
	_, err := s.db.NamedExecContext(ctx, upsertTemplateQuery, templateToRow(tpl.Snapshot()))
	return err
}

// FindByID fetches one template. Returns ErrNotFound when the id is unknown.
func (s *TemplateStore) FindByID(ctx context.Context, id string) (*reminder.Template, error) {
	var row models.ReminderTemplateRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agenda.reminder_template WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return restoreTemplate(row)
}

// FindDueBefore fetches the templates whose next trigger is at or before the
// given time, oldest due first. An empty accountID scans every account.
func (s *TemplateStore) FindDueBefore(ctx context.Context, before time.Time, accountID string) ([]*reminder.Template, error) {
	var rows []models.ReminderTemplateRow
	query := `
SELECT *
FROM agenda.reminder_template
WHERE next_trigger_time IS NOT NULL
  AND next_trigger_time <= $1
  AND ($2 = '' OR account_id = $2)
ORDER BY next_trigger_time`

	if err := s.db.SelectContext(ctx, &rows, query, before, accountID); err != nil {
		return nil, err
	}
	return restoreTemplates(rows)
}

// FindByAccount fetches all of an account's templates
func (s *TemplateStore) FindByAccount(ctx context.Context, accountID string) ([]*reminder.Template, error) {
	var rows []models.ReminderTemplateRow
	query := "SELECT * FROM agenda.reminder_template WHERE account_id = $1 ORDER BY created_at"
	if err := s.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, err
	}
	return restoreTemplates(rows)
}

// FindByGroup fetches the members of one group
func (s *TemplateStore) FindByGroup(ctx context.Context, groupID string) ([]*reminder.Template, error) {
	var rows []models.ReminderTemplateRow
	query := "SELECT * FROM agenda.reminder_template WHERE group_id = $1 ORDER BY created_at"
	if err := s.db.SelectContext(ctx, &rows, query, groupID); err != nil {
		return nil, err
	}
	return restoreTemplates(rows)
}

// AppendHistory inserts one trigger outcome
func (s *TemplateStore) AppendHistory(ctx context.Context, entry reminder.HistoryEntry) error {
	query := `
INSERT INTO agenda.reminder_history
(id, template_id, account_id, trigger_time, status, reason, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.TemplateID, entry.AccountID, entry.TriggerTime, entry.Status,
		null.NewString(entry.Reason, entry.Reason != ""), null.NewString(entry.Error, entry.Error != ""))
	return err
}

// ListHistory fetches a template's trigger outcomes, oldest first
func (s *TemplateStore) ListHistory(ctx context.Context, templateID string) ([]reminder.HistoryEntry, error) {
	var rows []models.ReminderHistoryRow
	query := "SELECT * FROM agenda.reminder_history WHERE template_id = $1 ORDER BY trigger_time"
	if err := s.db.SelectContext(ctx, &rows, query, templateID); err != nil {
		return nil, err
	}

	entries := make([]reminder.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, reminder.HistoryEntry{
			ID:          row.ID,
			TemplateID:  row.TemplateID,
			AccountID:   row.AccountID,
			TriggerTime: row.TriggerTime,
			Status:      row.Status,
			Reason:      row.Reason.ValueOrZero(),
			Error:       row.Error.ValueOrZero(),
		})
	}
	return entries, nil
}

func restoreTemplates(rows []models.ReminderTemplateRow) ([]*reminder.Template, error) {
	out := make([]*reminder.Template, 0, len(rows))
	for _, row := range rows {
		tpl, err := restoreTemplate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

func templateToRow(snap reminder.TemplateSnapshot) models.ReminderTemplateRow {
	windowStart, windowEnd := snap.Rule.Window()
	return models.ReminderTemplateRow{
		ID:        snap.ID,
		AccountID: snap.AccountID,
		GroupID:   null.NewString(snap.GroupID, snap.GroupID != ""),
		Name:      snap.Name,
		Message:   null.NewString(snap.Message, snap.Message != ""),
		Status:    snap.Status,

		CronExpression: snap.Rule.CronExpression(),
		Timezone:       snap.Rule.Timezone(),
		WindowStart:    null.TimeFromPtr(windowStart),
		WindowEnd:      null.TimeFromPtr(windowEnd),
		MaxExecutions:  null.IntFromPtr(snap.Rule.MaxExecutions()),

		NextTriggerTime: null.TimeFromPtr(snap.NextTriggerTime),
		LastTriggerTime: null.TimeFromPtr(snap.LastTriggerTime),
		TriggerCount:    snap.TriggerCount,
	}
}

func restoreTemplate(row models.ReminderTemplateRow) (*reminder.Template, error) {
	rule, err := ruleFromColumns(row.CronExpression, row.Timezone, row.WindowStart, row.WindowEnd, row.MaxExecutions)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", row.ID, err)
	}

	return reminder.RestoreTemplate(reminder.TemplateSnapshot{
		ID:              row.ID,
		AccountID:       row.AccountID,
		GroupID:         row.GroupID.ValueOrZero(),
		Name:            row.Name,
		Message:         row.Message.ValueOrZero(),
		Status:          row.Status,
		Rule:            rule,
		NextTriggerTime: row.NextTriggerTime.Ptr(),
		LastTriggerTime: row.LastTriggerTime.Ptr(),
		TriggerCount:    row.TriggerCount,
	}), nil
}
