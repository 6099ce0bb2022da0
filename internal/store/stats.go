package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"agenda/internal/models"
	"agenda/internal/stats"
)

// StatisticsStore persists per-account counters in agenda.schedule_statistics.
// Saves are optimistic: the version column must still hold the value the
// aggregate was loaded at, otherwise the save returns stats.ErrVersionConflict
// and the caller reloads and retries.
type StatisticsStore struct {
	db *sqlx.DB
}

func NewStatisticsStore(db *sqlx.DB) *StatisticsStore {
	return &StatisticsStore{db: db}
}

// FindByAccount loads an account's statistics. Returns ErrNotFound when the
// account has no row yet.
func (s *StatisticsStore) FindByAccount(ctx context.Context, accountID string) (*stats.AccountStatistics, error) {
	var row models.StatisticsRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agenda.schedule_statistics WHERE account_id = $1", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var modules map[models.SourceModule]stats.ModuleCounters
	if err := json.Unmarshal(row.Modules, &modules); err != nil {
		return nil, fmt.Errorf("could not decode statistics for account %s: %w", accountID, err)
	}

	return stats.Restore(stats.Snapshot{
		AccountID: row.AccountID,
		Modules:   modules,
		Version:   row.Version,
	}), nil
}

// GetOrCreate loads an account's statistics, or returns a fresh zero-valued
// aggregate when no row exists yet. The row itself is only written on Save.
func (s *StatisticsStore) GetOrCreate(ctx context.Context, accountID string) (*stats.AccountStatistics, error) {
	existing, err := s.FindByAccount(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return stats.New(accountID), nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Save writes the counters if nobody else has since. A brand-new aggregate
// (version 0, no row) inserts; an existing one updates behind the version
// check.
func (s *StatisticsStore) Save(ctx context.Context, st *stats.AccountStatistics) error {
	snap := st.Snapshot()
	modules, err := json.Marshal(snap.Modules)
	if err != nil {
		return fmt.Errorf("could not encode statistics for account %s: %w", snap.AccountID, err)
	}

	query := `
UPDATE agenda.schedule_statistics
SET modules    = $2,
    version    = version + 1,
    updated_at = NOW()
WHERE account_id = $1
  AND version = $3`

	result, err := s.db.ExecContext(ctx, query, snap.AccountID, modules, snap.Version)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	if snap.Version > 0 {
		return stats.ErrVersionConflict
	}

	insert := `
INSERT INTO agenda.schedule_statistics (account_id, modules, version)
VALUES ($1, $2, 1)
ON CONFLICT (account_id) DO NOTHING`

	result, err = s.db.ExecContext(ctx, insert, snap.AccountID, modules)
	if err != nil {
		return err
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Someone created the row between our read and this insert
		return stats.ErrVersionConflict
	}
	return nil
}

// SaveBatch saves several accounts' statistics. Each row carries its own
// version, so the saves stay independent; the first conflict aborts the rest.
func (s *StatisticsStore) SaveBatch(ctx context.Context, batch []*stats.AccountStatistics) error {
	for _, st := range batch {
		if err := s.Save(ctx, st); err != nil {
			return fmt.Errorf("account %s: %w", st.AccountID(), err)
		}
	}
	return nil
}
