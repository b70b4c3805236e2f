package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/events"
	"crmsync_backend/internal/sync/domain"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

const (
	// reconcileChunkSize bounds each read_by_ids call against the upstream RPC.
	reconcileChunkSize = 50
	// reconcileWorkers bounds in-flight upstream lookups.
	reconcileWorkers = 4
	// driftListCap bounds the detail list in summaries and audit rows. The
	// aggregate counters always cover the full drift, only the detail is cut.
	driftListCap = 50
)

// Comparison row statuses persisted in reconciliation_runs.results.
const (
	StatusMatch     = "match"
	StatusMissing   = "missing"
	StatusOutOfSync = "out_of_sync"
	StatusDuplicate = "duplicate"
	StatusAutoFixed = "auto_fixed"
	StatusStale     = "stale_lead"
)

// FieldDiff is one internal-vs-external field mismatch.
type FieldDiff struct {
	Field    string `json:"field"`
	Internal string `json:"internal"`
	External string `json:"external"`
}

// ComparisonRow is one per-record comparison result. Only non-matching rows
// are kept in detail lists.
type ComparisonRow struct {
	ExternalID  int64       `json:"external_id"`
	LeadID      string      `json:"lead_id,omitempty"`
	Status      string      `json:"status"`
	Fields      []FieldDiff `json:"fields,omitempty"`
	AutoFixable bool        `json:"auto_fixable"`
}

// ReconcileResult is the outcome of the incremental post-sync pass.
type ReconcileResult struct {
	Reconciled int
	Drift      []ComparisonRow
	Warnings   []domain.Warning
}

// ReconciliationSummary is the result of a standalone reconciliation run.
type ReconciliationSummary struct {
	Total         int `json:"total"`
	Match         int `json:"match"`
	Missing       int `json:"missing"`
	OutOfSync     int `json:"out_of_sync"`
	Duplicate     int `json:"duplicate"`
	AutoFixed     int `json:"auto_fixed"`
	DriftDetected int `json:"drift_detected"`
}

// Reconciler detects and optionally repairs divergence between the internal
// store and the external CRM. Auto-fix is restricted to the safe field set
// (stage, value, deadline); any wider diff is reported and left alone.
type Reconciler struct {
	client    CRMClient
	store     Store
	taxonomy  *domain.Taxonomy
	validator *domain.Validator
	bus       events.Bus
	log       *logger.Logger
	companyID int64
}

func NewReconciler(client CRMClient, store Store, taxonomy *domain.Taxonomy, validator *domain.Validator, bus events.Bus, log *logger.Logger, companyID int64) *Reconciler {
	return &Reconciler{
		client:    client,
		store:     store,
		taxonomy:  taxonomy,
		validator: validator,
		bus:       bus,
		log:       log,
		companyID: companyID,
	}
}

// ReconcileUntouched re-checks internal leads the current sync window did not
// touch, via targeted upstream lookups by id. Lookups run with bounded
// concurrency; a failed chunk is logged and skipped, never fatal. Fixes are
// applied sequentially after all lookups complete.
func (r *Reconciler) ReconcileUntouched(ctx context.Context, untouched []repository.Lead, syncedAt time.Time) ReconcileResult {
	result := ReconcileResult{}
	if len(untouched) == 0 {
		return result
	}

	ids := make([]int64, 0, len(untouched))
	for _, lead := range untouched {
		if lead.ExternalID != nil {
			ids = append(ids, *lead.ExternalID)
		}
	}

	external := r.fetchByIDs(ctx, ids)

	for _, lead := range untouched {
		if lead.ExternalID == nil {
			continue
		}
		record, ok := external[*lead.ExternalID]
		if !ok {
			// The upstream record is gone or no longer an opportunity. Report
			// only; stale records are never deleted automatically.
			result.Warnings = append(result.Warnings, staleWarning(*lead.ExternalID))
			continue
		}

		diffs, autoFixable := r.diff(lead, record)
		if len(diffs) == 0 {
			continue
		}
		if !autoFixable {
			result.appendDrift(ComparisonRow{
				ExternalID: *lead.ExternalID,
				LeadID:     lead.ID.String(),
				Status:     StatusOutOfSync,
				Fields:     diffs,
			})
			result.Warnings = append(result.Warnings, driftWarning(*lead.ExternalID, diffs, false))
			continue
		}

		if err := r.fix(ctx, lead, record, syncedAt); err != nil {
			r.log.RecordError("reconcile_fix", *lead.ExternalID, err)
			continue
		}
		result.Reconciled++
		result.Warnings = append(result.Warnings, driftWarning(*lead.ExternalID, diffs, true))
		result.appendDrift(ComparisonRow{
			ExternalID:  *lead.ExternalID,
			LeadID:      lead.ID.String(),
			Status:      StatusAutoFixed,
			Fields:      diffs,
			AutoFixable: true,
		})
	}

	return result
}

// Compare runs the full-scan comparison: every external record against the
// internal working set. The caller supplies the unfiltered external fetch.
func (r *Reconciler) Compare(ctx context.Context, external []crm.Lead, internal []repository.Lead, autoFix bool, syncedAt time.Time) (ReconciliationSummary, []ComparisonRow, []domain.Warning) {
	byExternalID := make(map[int64][]repository.Lead, len(internal))
	for _, lead := range internal {
		if lead.ExternalID != nil {
			byExternalID[*lead.ExternalID] = append(byExternalID[*lead.ExternalID], lead)
		}
	}

	summary := ReconciliationSummary{Total: len(external)}
	rows := make([]ComparisonRow, 0)
	warnings := make([]domain.Warning, 0)
	appendRow := func(row ComparisonRow) {
		if len(rows) < driftListCap {
			rows = append(rows, row)
		}
	}

	seen := make(map[int64]struct{}, len(external))
	for _, record := range external {
		seen[record.ID] = struct{}{}
		matches := byExternalID[record.ID]

		switch {
		case len(matches) == 0:
			summary.Missing++
			appendRow(ComparisonRow{ExternalID: record.ID, Status: StatusMissing})

		case len(matches) > 1:
			// Dedup should have collapsed these; report and leave them for
			// the next sync run's dedup pass.
			summary.Duplicate++
			appendRow(ComparisonRow{ExternalID: record.ID, Status: StatusDuplicate})

		default:
			lead := matches[0]
			diffs, autoFixable := r.diff(lead, record)
			if len(diffs) == 0 {
				summary.Match++
				continue
			}
			summary.DriftDetected++

			if autoFixable && autoFix {
				if err := r.fix(ctx, lead, record, syncedAt); err != nil {
					r.log.RecordError("reconcile_fix", record.ID, err)
					summary.OutOfSync++
					appendRow(ComparisonRow{ExternalID: record.ID, LeadID: lead.ID.String(), Status: StatusOutOfSync, Fields: diffs, AutoFixable: true})
					continue
				}
				summary.AutoFixed++
				warnings = append(warnings, driftWarning(record.ID, diffs, true))
				appendRow(ComparisonRow{ExternalID: record.ID, LeadID: lead.ID.String(), Status: StatusAutoFixed, Fields: diffs, AutoFixable: true})
				continue
			}

			summary.OutOfSync++
			warnings = append(warnings, driftWarning(record.ID, diffs, false))
			appendRow(ComparisonRow{ExternalID: record.ID, LeadID: lead.ID.String(), Status: StatusOutOfSync, Fields: diffs, AutoFixable: autoFixable})
		}
	}

	// Internal records absent from the full external fetch.
	for externalID := range byExternalID {
		if _, ok := seen[externalID]; ok {
			continue
		}
		warnings = append(warnings, staleWarning(externalID))
		appendRow(ComparisonRow{ExternalID: externalID, Status: StatusStale})
	}

	return summary, rows, warnings
}

// fetchByIDs reads upstream records by id in bounded-concurrency chunks and
// indexes them by external id. Chunk failures are logged and skipped.
func (r *Reconciler) fetchByIDs(ctx context.Context, ids []int64) map[int64]crm.Lead {
	var mu sync.Mutex
	fetched := make(map[int64]crm.Lead, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for start := 0; start < len(ids); start += reconcileChunkSize {
		end := start + reconcileChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			records, err := r.client.ReadByIDs(gctx, chunk)
			if err != nil {
				r.log.RPCError("read", err)
				return nil
			}
			mu.Lock()
			for _, record := range records {
				fetched[record.ID] = record
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return fetched
}

// diff compares one internal lead with its upstream record. It returns the
// differing fields and whether the whole diff lies inside the safe set that
// auto-fix may touch.
func (r *Reconciler) diff(lead repository.Lead, record crm.Lead) ([]FieldDiff, bool) {
	diffs := make([]FieldDiff, 0, 2)
	autoFixable := true

	stage, _ := r.taxonomy.Canonicalize(record.StageLabel)
	if lead.CanonicalStage != string(stage) {
		diffs = append(diffs, FieldDiff{Field: "canonical_stage", Internal: lead.CanonicalStage, External: string(stage)})
	}
	if lead.ExpectedValue != record.ExpectedRevenue {
		diffs = append(diffs, FieldDiff{
			Field:    "expected_value",
			Internal: strconv.FormatFloat(lead.ExpectedValue, 'f', -1, 64),
			External: strconv.FormatFloat(record.ExpectedRevenue, 'f', -1, 64),
		})
	}
	if internalDate, externalDate := formatDate(lead.ExpectedCloseDate), record.DeadlineDate; internalDate != externalDate {
		diffs = append(diffs, FieldDiff{Field: "expected_close_date", Internal: internalDate, External: externalDate})
	}

	title := record.Title
	if title == "" {
		title = domain.DefaultTitle(record.ID)
	}
	if lead.Title != title {
		diffs = append(diffs, FieldDiff{Field: "title", Internal: lead.Title, External: title})
		autoFixable = false
	}

	return diffs, autoFixable
}

// fix applies the safe-field repair: stage, probability, value and deadline,
// with a fresh snapshot. A stage change also gets its event.
func (r *Reconciler) fix(ctx context.Context, lead repository.Lead, record crm.Lead, syncedAt time.Time) error {
	stage, _ := r.taxonomy.Canonicalize(record.StageLabel)
	probability := r.validator.NormalizeProbability(stage, record.Probability)
	closeDate := parseDeadline(record.DeadlineDate)

	if lead.CanonicalStage != string(stage) {
		payload := map[string]any{"from": lead.CanonicalStage, "to": string(stage)}
		inserted, err := r.store.InsertLeadEvent(ctx, repository.InsertLeadEventParams{
			LeadID:       lead.ID,
			EventType:    EventStageChanged,
			Payload:      payload,
			SourceSystem: SourceReconciliation,
			DedupeKey:    DedupeKey(lead.ID, EventStageChanged, payload),
		})
		if err != nil {
			return fmt.Errorf("emit stage_changed: %w", err)
		}
		if inserted {
			r.bus.Publish(ctx, events.LeadStageChanged{
				BaseEvent:  events.NewBaseEvent(),
				LeadID:     lead.ID,
				ExternalID: record.ID,
				CompanyID:  r.companyID,
				FromStage:  lead.CanonicalStage,
				ToStage:    string(stage),
				Source:     SourceReconciliation,
			})
		}
	}

	snapshot, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("snapshot record %d: %w", record.ID, err)
	}
	metadata := repository.LeadMetadata{
		Snapshot:     snapshot,
		SyncedAt:     syncedAt.UTC().Format(syncedAtFormat),
		WarningCount: lead.Metadata.WarningCount,
	}

	return r.store.UpdateStage(ctx, lead.ID, string(stage), probability, record.ExpectedRevenue, closeDate, metadata)
}

func (res *ReconcileResult) appendDrift(row ComparisonRow) {
	if len(res.Drift) < driftListCap {
		res.Drift = append(res.Drift, row)
	}
}

func driftWarning(externalID int64, diffs []FieldDiff, autoFixed bool) domain.Warning {
	fields := make([]string, 0, len(diffs))
	for _, diff := range diffs {
		fields = append(fields, diff.Field)
	}

	warning := domain.Warning{
		ExternalID: externalID,
		Severity:   domain.SeverityInfo,
		Type:       domain.ValidationDriftDetected,
		Message:    fmt.Sprintf("internal record drifted from upstream on %v", fields),
		FieldName:  diffs[0].Field,
		FieldValue: diffs[0].External,
		AutoFixed:  autoFixed,
	}
	if autoFixed {
		warning.FixApplied = "Synced from upstream"
	}
	return warning
}

func staleWarning(externalID int64) domain.Warning {
	return domain.Warning{
		ExternalID: externalID,
		Severity:   domain.SeverityInfo,
		Type:       domain.ValidationStaleLead,
		Message:    "internal record has no matching upstream opportunity",
		FieldName:  "external_id",
		FieldValue: strconv.FormatInt(externalID, 10),
	}
}

func formatDate(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(deadlineFormat)
}
