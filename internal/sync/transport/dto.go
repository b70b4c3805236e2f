// Package transport defines the request/response DTOs for the sync admin API.
package transport

import (
	"time"

	"crmsync_backend/internal/sync/repository"

	"github.com/google/uuid"
)

// RunSyncRequest is the body for triggering a sync run.
type RunSyncRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=incremental full"`
}

// RunReconciliationRequest is the body for triggering a reconciliation run.
type RunReconciliationRequest struct {
	AutoFix bool `json:"autoFix"`
}

// SyncRunResponse is one persisted run summary.
type SyncRunResponse struct {
	ID           uuid.UUID `json:"id"`
	Mode         string    `json:"mode"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Errors       int       `json:"errors"`
	Reconciled   int       `json:"reconciled"`
	Total        int       `json:"total"`
	DedupDeleted int       `json:"dedupDeleted"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// ValidationLogEntry is one persisted data-quality finding.
type ValidationLogEntry struct {
	ID         uuid.UUID  `json:"id"`
	ExternalID int64      `json:"externalId"`
	Severity   string     `json:"severity"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	FieldName  *string    `json:"fieldName,omitempty"`
	FieldValue *string    `json:"fieldValue,omitempty"`
	AutoFixed  bool       `json:"autoFixed"`
	FixApplied *string    `json:"fixApplied,omitempty"`
	LeadID     *uuid.UUID `json:"leadId,omitempty"`
	SyncRunAt  time.Time  `json:"syncRunAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// FromSyncRunRow maps a repository row to its response shape.
func FromSyncRunRow(row repository.SyncRunRow) SyncRunResponse {
	return SyncRunResponse{
		ID:           row.ID,
		Mode:         row.Mode,
		Created:      row.Created,
		Updated:      row.Updated,
		Errors:       row.Errors,
		Reconciled:   row.Reconciled,
		Total:        row.Total,
		DedupDeleted: row.DedupDeleted,
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
	}
}

// FromValidationLogRow maps a repository row to its response shape.
func FromValidationLogRow(row repository.ValidationLogRow) ValidationLogEntry {
	return ValidationLogEntry{
		ID:         row.ID,
		ExternalID: row.ExternalID,
		Severity:   row.Severity,
		Type:       row.Type,
		Message:    row.Message,
		FieldName:  row.FieldName,
		FieldValue: row.FieldValue,
		AutoFixed:  row.AutoFixed,
		FixApplied: row.FixApplied,
		LeadID:     row.LeadID,
		SyncRunAt:  row.SyncRunAt,
		CreatedAt:  row.CreatedAt,
	}
}
