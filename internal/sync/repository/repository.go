// Package repository provides the Postgres store for the sync engine.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LeadMetadata is the opaque JSONB blob stored per lead: the last-synced
// external snapshot plus bookkeeping. SyncedAt is RFC 3339 so that string
// comparison and time comparison agree during dedup survivor selection.
type LeadMetadata struct {
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
	SyncedAt     string          `json:"synced_at,omitempty"`
	WarningCount int             `json:"warning_count"`
}

type Lead struct {
	ID                uuid.UUID
	ExternalID        *int64
	Title             string
	CanonicalStage    string
	Probability       int
	ExpectedValue     float64
	ExpectedCloseDate *time.Time
	CustomerID        *uuid.UUID
	CompanyID         int64
	Metadata          LeadMetadata
	Priority          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const leadColumns = `id, external_id, title, canonical_stage, probability, expected_value,
		expected_close_date, customer_id, company_id, metadata, priority, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	var metadataJSON []byte
	err := row.Scan(
		&lead.ID, &lead.ExternalID, &lead.Title, &lead.CanonicalStage, &lead.Probability,
		&lead.ExpectedValue, &lead.ExpectedCloseDate, &lead.CustomerID, &lead.CompanyID,
		&metadataJSON, &lead.Priority, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &lead.Metadata); err != nil {
			return Lead{}, err
		}
	}
	return lead, nil
}

// ListSynced returns every lead tagged with an external id for the company.
// This is the dedup working set: it may transiently contain several rows per
// external id while a sync is in flight.
func (r *Repository) ListSynced(ctx context.Context, companyID int64) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE company_id = $1 AND external_id IS NOT NULL
		ORDER BY created_at ASC
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// GetByExternalID returns the lead currently representing an external id.
func (r *Repository) GetByExternalID(ctx context.Context, externalID, companyID int64) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE external_id = $1 AND company_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, externalID, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

type CreateLeadParams struct {
	ExternalID        int64
	Title             string
	CanonicalStage    string
	Probability       int
	ExpectedValue     float64
	ExpectedCloseDate *time.Time
	CustomerID        *uuid.UUID
	CompanyID         int64
	Priority          string
	Metadata          LeadMetadata
}

func (r *Repository) CreateLead(ctx context.Context, params CreateLeadParams) (Lead, error) {
	metadataJSON, err := json.Marshal(params.Metadata)
	if err != nil {
		return Lead{}, err
	}

	return scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			external_id, title, canonical_stage, probability, expected_value,
			expected_close_date, customer_id, company_id, metadata, priority
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+leadColumns+`
	`,
		params.ExternalID, params.Title, params.CanonicalStage, params.Probability,
		params.ExpectedValue, params.ExpectedCloseDate, params.CustomerID,
		params.CompanyID, metadataJSON, params.Priority,
	))
}

type UpdateLeadParams struct {
	ID                uuid.UUID
	Title             string
	CanonicalStage    string
	Probability       int
	ExpectedValue     float64
	ExpectedCloseDate *time.Time
	CustomerID        *uuid.UUID // nil leaves the existing linkage untouched
	Priority          string
	Metadata          LeadMetadata
}

func (r *Repository) UpdateLead(ctx context.Context, params UpdateLeadParams) (Lead, error) {
	metadataJSON, err := json.Marshal(params.Metadata)
	if err != nil {
		return Lead{}, err
	}

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET
			title = $2,
			canonical_stage = $3,
			probability = $4,
			expected_value = $5,
			expected_close_date = $6,
			customer_id = COALESCE($7, customer_id),
			priority = $8,
			metadata = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns+`
	`,
		params.ID, params.Title, params.CanonicalStage, params.Probability,
		params.ExpectedValue, params.ExpectedCloseDate, params.CustomerID,
		params.Priority, metadataJSON,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

// UpdateStage is the narrow write used by reconciliation auto-fix: stage,
// probability, value and deadline only, refreshing the synced_at marker.
func (r *Repository) UpdateStage(ctx context.Context, id uuid.UUID, stage string, probability int, expectedValue float64, closeDate *time.Time, metadata LeadMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET
			canonical_stage = $2,
			probability = $3,
			expected_value = $4,
			expected_close_date = $5,
			metadata = $6,
			updated_at = now()
		WHERE id = $1
	`, id, stage, probability, expectedValue, closeDate, metadataJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLeads removes lead rows by id. Callers batch ids and must have
// durably written rollback log rows first.
func (r *Repository) DeleteLeads(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM leads WHERE id = ANY($1)`, ids)
	return err
}
