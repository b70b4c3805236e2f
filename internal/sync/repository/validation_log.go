package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ValidationLogRow is one persisted data-quality finding. Rows are purely
// observational and never block a write.
type ValidationLogRow struct {
	ID         uuid.UUID
	ExternalID int64
	Severity   string
	Type       string
	Message    string
	FieldName  *string
	FieldValue *string
	AutoFixed  bool
	FixApplied *string
	LeadID     *uuid.UUID
	SyncRunAt  time.Time
	CompanyID  int64
	CreatedAt  time.Time
}

// InsertValidationLog writes one batch of validation rows. Callers chunk the
// full run output into batches of at most 100 rows.
func (r *Repository) InsertValidationLog(ctx context.Context, rows []ValidationLogRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO sync_validation_log (
				external_id, severity, validation_type, message, field_name,
				field_value, auto_fixed, fix_applied, lead_id, sync_run_at, company_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			row.ExternalID, row.Severity, row.Type, row.Message, row.FieldName,
			row.FieldValue, row.AutoFixed, row.FixApplied, row.LeadID,
			row.SyncRunAt, row.CompanyID,
		)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

// ListValidationLog returns the most recent validation rows for the company.
func (r *Repository) ListValidationLog(ctx context.Context, companyID int64, limit int) ([]ValidationLogRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, external_id, severity, validation_type, message, field_name,
			field_value, auto_fixed, fix_applied, lead_id, sync_run_at, company_id, created_at
		FROM sync_validation_log
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ValidationLogRow, 0)
	for rows.Next() {
		var item ValidationLogRow
		if err := rows.Scan(
			&item.ID, &item.ExternalID, &item.Severity, &item.Type, &item.Message,
			&item.FieldName, &item.FieldValue, &item.AutoFixed, &item.FixApplied,
			&item.LeadID, &item.SyncRunAt, &item.CompanyID, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
