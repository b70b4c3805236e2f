package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RollbackEntry snapshots a duplicate lead immediately before deletion. This
// is the only recovery mechanism for a wrong dedup decision; rows are
// write-once and never updated.
type RollbackEntry struct {
	DeletedID  uuid.UUID
	SurvivorID uuid.UUID
	Snapshot   json.RawMessage
}

// InsertRollbackEntries writes all rollback rows for a dedup batch in one
// transaction. The caller must not delete any victim until this returns nil.
func (r *Repository) InsertRollbackEntries(ctx context.Context, entries []RollbackEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, entry := range entries {
			_, err := tx.Exec(ctx, `
				INSERT INTO dedup_rollback_log (deleted_id, survivor_id, pre_merge_snapshot)
				VALUES ($1, $2, $3)
			`, entry.DeletedID, entry.SurvivorID, entry.Snapshot)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
