package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Lead events are append-only. dedupe_key is unique: re-processing the same
// external record in the same way must not duplicate an event row, so the
// insert ignores conflicts and reports whether a row was actually written.
type InsertLeadEventParams struct {
	LeadID       uuid.UUID
	EventType    string
	Payload      map[string]any
	SourceSystem string
	DedupeKey    string
}

func (r *Repository) InsertLeadEvent(ctx context.Context, params InsertLeadEventParams) (bool, error) {
	payloadJSON, err := json.Marshal(params.Payload)
	if err != nil {
		return false, err
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO lead_events (lead_id, event_type, payload, source_system, dedupe_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, params.LeadID, params.EventType, payloadJSON, params.SourceSystem, params.DedupeKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountLeadEvents returns the number of event rows for a lead, used by the
// admin API and tests.
func (r *Repository) CountLeadEvents(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM lead_events WHERE lead_id = $1`, leadID).Scan(&count)
	return count, err
}
