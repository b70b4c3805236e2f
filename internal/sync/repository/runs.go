package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncRunRow is the persisted summary of one sync run.
type SyncRunRow struct {
	ID           uuid.UUID
	Mode         string
	CompanyID    int64
	Created      int
	Updated      int
	Errors       int
	Reconciled   int
	Total        int
	DedupDeleted int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (r *Repository) InsertSyncRun(ctx context.Context, row SyncRunRow) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (
			mode, company_id, created_count, updated_count, error_count,
			reconciled_count, total_count, dedup_deleted_count, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		row.Mode, row.CompanyID, row.Created, row.Updated, row.Errors,
		row.Reconciled, row.Total, row.DedupDeleted, row.StartedAt, row.FinishedAt,
	).Scan(&id)
	return id, err
}

func (r *Repository) ListSyncRuns(ctx context.Context, companyID int64, limit int) ([]SyncRunRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, mode, company_id, created_count, updated_count, error_count,
			reconciled_count, total_count, dedup_deleted_count, started_at, finished_at
		FROM sync_runs
		WHERE company_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]SyncRunRow, 0)
	for rows.Next() {
		var item SyncRunRow
		if err := rows.Scan(
			&item.ID, &item.Mode, &item.CompanyID, &item.Created, &item.Updated,
			&item.Errors, &item.Reconciled, &item.Total, &item.DedupDeleted,
			&item.StartedAt, &item.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReconciliationRunRow is one audit row per reconciliation invocation. The
// results array is capped by the engine before it reaches the repository.
type ReconciliationRunRow struct {
	ID             uuid.UUID
	WindowDays     int
	Results        json.RawMessage
	CreatedCount   int
	UpdatedCount   int
	MissingCount   int
	OutOfSyncCount int
	DuplicateCount int
	AutoFixedCount int
	CompanyID      int64
}

func (r *Repository) InsertReconciliationRun(ctx context.Context, row ReconciliationRunRow) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reconciliation_runs (
			window_days, results, created_count, updated_count, missing_count,
			out_of_sync_count, duplicate_count, auto_fixed_count, company_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		row.WindowDays, row.Results, row.CreatedCount, row.UpdatedCount,
		row.MissingCount, row.OutOfSyncCount, row.DuplicateCount,
		row.AutoFixedCount, row.CompanyID,
	).Scan(&id)
	return id, err
}
