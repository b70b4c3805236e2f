package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"crmsync_backend/internal/events"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/logger"

	"github.com/google/uuid"
)

// deleteBatchSize bounds the number of ids per delete call.
const deleteBatchSize = 50

// SurvivorPrefer reports whether candidate should replace the current
// survivor of its external id group. A strict comparison keeps the
// first-encountered record on ties, which makes survivor selection
// deterministic for any input order.
type SurvivorPrefer func(candidate, current repository.Lead) bool

// PreferMostRecentlySynced is the production policy: the record with the
// greatest synced_at timestamp wins. SyncedAt is RFC 3339, so string
// comparison matches temporal order.
func PreferMostRecentlySynced(candidate, current repository.Lead) bool {
	return candidate.Metadata.SyncedAt > current.Metadata.SyncedAt
}

// Victim is a lead row scheduled for deletion because another row already
// represents the same external entity.
type Victim struct {
	ID         uuid.UUID
	SurvivorID uuid.UUID
	ExternalID int64
	Snapshot   json.RawMessage
}

// DedupResult reports one dedup pass.
type DedupResult struct {
	// Survivors maps each external id to the single lead representing it.
	Survivors map[int64]repository.Lead
	// Victims lists every deleted duplicate with its pre-deletion snapshot.
	Victims []Victim
	// Deleted counts rows actually removed; a failed delete batch reduces it.
	Deleted int
	// FailedBatches counts delete batches that errored and were skipped.
	FailedBatches int
}

// Deduplicator collapses duplicate internal leads per external id.
type Deduplicator struct {
	store  Store
	prefer SurvivorPrefer
	bus    events.Bus
	log    *logger.Logger
}

func NewDeduplicator(store Store, prefer SurvivorPrefer, bus events.Bus, log *logger.Logger) *Deduplicator {
	if prefer == nil {
		prefer = PreferMostRecentlySynced
	}
	return &Deduplicator{store: store, prefer: prefer, bus: bus, log: log}
}

// Run loads every externally-tagged lead for the company, picks one survivor
// per external id and removes the rest. Rollback rows for the whole batch are
// durably written before the first delete: losing a rollback record is
// unrecoverable, losing a duplicate lead row is repaired by the next sync.
func (d *Deduplicator) Run(ctx context.Context, companyID int64) (DedupResult, error) {
	leads, err := d.store.ListSynced(ctx, companyID)
	if err != nil {
		return DedupResult{}, fmt.Errorf("dedup: list synced leads: %w", err)
	}

	result := Plan(leads, d.prefer)
	if len(result.Victims) == 0 {
		return result, nil
	}

	entries := make([]repository.RollbackEntry, 0, len(result.Victims))
	for _, victim := range result.Victims {
		entries = append(entries, repository.RollbackEntry{
			DeletedID:  victim.ID,
			SurvivorID: victim.SurvivorID,
			Snapshot:   victim.Snapshot,
		})
	}
	if err := d.store.InsertRollbackEntries(ctx, entries); err != nil {
		return DedupResult{}, fmt.Errorf("dedup: write rollback log: %w", err)
	}

	// One failed batch is logged and skipped, not fatal to the run.
	for start := 0; start < len(result.Victims); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(result.Victims))
		batch := result.Victims[start:end]

		ids := make([]uuid.UUID, 0, len(batch))
		for _, victim := range batch {
			ids = append(ids, victim.ID)
		}

		if err := d.store.DeleteLeads(ctx, ids); err != nil {
			d.log.Error("dedup: delete batch failed, skipping",
				"batch_size", len(ids),
				"error", err,
			)
			result.FailedBatches++
			continue
		}

		result.Deleted += len(batch)
		for _, victim := range batch {
			d.bus.Publish(ctx, events.DedupVictimRemoved{
				BaseEvent:  events.NewBaseEvent(),
				VictimID:   victim.ID,
				SurvivorID: victim.SurvivorID,
				ExternalID: victim.ExternalID,
			})
		}
	}

	return result, nil
}

// Plan groups leads by external id and selects survivors without touching the
// store. Exposed separately so the selection policy is testable in isolation.
func Plan(leads []repository.Lead, prefer SurvivorPrefer) DedupResult {
	if prefer == nil {
		prefer = PreferMostRecentlySynced
	}

	survivors := make(map[int64]repository.Lead)
	groups := make(map[int64][]repository.Lead)
	for _, lead := range leads {
		if lead.ExternalID == nil {
			continue
		}
		externalID := *lead.ExternalID
		groups[externalID] = append(groups[externalID], lead)

		current, seen := survivors[externalID]
		if !seen || prefer(lead, current) {
			survivors[externalID] = lead
		}
	}

	victims := make([]Victim, 0)
	for externalID, group := range groups {
		if len(group) < 2 {
			continue
		}
		survivor := survivors[externalID]
		for _, lead := range group {
			if lead.ID == survivor.ID {
				continue
			}
			snapshot, err := json.Marshal(lead)
			if err != nil {
				// Should not happen for a scanned row; keep the victim with
				// an explanatory snapshot rather than dropping it.
				snapshot = []byte(fmt.Sprintf(`{"snapshot_error":%q}`, err.Error()))
			}
			victims = append(victims, Victim{
				ID:         lead.ID,
				SurvivorID: survivor.ID,
				ExternalID: externalID,
				Snapshot:   snapshot,
			})
		}
	}

	return DedupResult{Survivors: survivors, Victims: victims}
}
