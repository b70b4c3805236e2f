package sync

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/events"
	"crmsync_backend/internal/sync/domain"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/apperr"
	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// Run modes.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Run phases, in pipeline order. FAILED is reachable from FETCHING only:
// everything after the fetch absorbs per-record errors into counters.
const (
	PhaseFetching      = "FETCHING"
	PhaseDeduping      = "DEDUPING"
	PhaseProcessing    = "PROCESSING"
	PhaseReconciling   = "RECONCILING"
	PhasePersistingLog = "PERSISTING_LOG"
	PhaseDone          = "DONE"
	PhaseFailed        = "FAILED"
)

const (
	validationLogBatchSize = 100
	validationWorkers      = 8
	defaultWindowDays      = 5
	defaultPageSize        = 200
)

// ValidationSummary aggregates one run's data-quality findings.
type ValidationSummary struct {
	Total      int            `json:"total"`
	AutoFixed  int            `json:"auto_fixed"`
	BySeverity map[string]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
}

// SyncSummary is the structured result of one sync run.
type SyncSummary struct {
	Mode         string            `json:"mode"`
	Created      int               `json:"created"`
	Updated      int               `json:"updated"`
	Errors       int               `json:"errors"`
	Reconciled   int               `json:"reconciled"`
	Total        int               `json:"total"`
	DedupDeleted int               `json:"dedup_deleted"`
	Validation   ValidationSummary `json:"validation_summary"`
}

// upsertPlan is one record's precomputed validation outcome, produced
// concurrently and applied sequentially.
type upsertPlan struct {
	record   crm.Lead
	stage    domain.CanonicalStage
	warnings []domain.Warning
}

// Service is the sync orchestrator: paginated fetch, dedup, validate+upsert,
// reconciliation, run persistence. One run at a time per process; overlapping
// invocations are rejected.
type Service struct {
	client     CRMClient
	store      Store
	taxonomy   *domain.Taxonomy
	validator  *domain.Validator
	dedup      *Deduplicator
	upserter   *Upserter
	reconciler *Reconciler
	archiver   *ReportArchiver
	bus        events.Bus
	log        *logger.Logger

	companyID  int64
	windowDays int
	pageSize   int

	running atomic.Bool
}

func NewService(client CRMClient, store Store, taxonomy *domain.Taxonomy, bus events.Bus, log *logger.Logger, cfg config.SyncConfig, phoneRegion string, archiver *ReportArchiver) *Service {
	windowDays := cfg.GetSyncWindowDays()
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	pageSize := cfg.GetSyncPageSize()
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	validator := domain.NewValidator(taxonomy)
	companyID := cfg.GetCompanyID()

	return &Service{
		client:     client,
		store:      store,
		taxonomy:   taxonomy,
		validator:  validator,
		dedup:      NewDeduplicator(store, PreferMostRecentlySynced, bus, log),
		upserter:   NewUpserter(store, taxonomy, validator, bus, log, companyID, phoneRegion),
		reconciler: NewReconciler(client, store, taxonomy, validator, bus, log, companyID),
		archiver:   archiver,
		bus:        bus,
		log:        log,
		companyID:  companyID,
		windowDays: windowDays,
		pageSize:   pageSize,
	}
}

// RunSync executes one sync run. Incremental mode fetches records modified in
// the last windowDays; full mode fetches everything and additionally flags
// internal records absent upstream.
func (s *Service) RunSync(ctx context.Context, mode string) (SyncSummary, error) {
	if mode == "" {
		mode = ModeIncremental
	}
	if mode != ModeIncremental && mode != ModeFull {
		return SyncSummary{}, apperr.Validation("mode must be incremental or full")
	}
	if !s.running.CompareAndSwap(false, true) {
		return SyncSummary{}, apperr.Conflict("a sync run is already in progress")
	}
	defer s.running.Store(false)

	startedAt := time.Now()
	summary := SyncSummary{Mode: mode}

	s.log.SyncPhase(mode, PhaseFetching)
	records, err := s.fetchAll(ctx, mode, startedAt)
	if err != nil {
		s.log.SyncPhase(mode, PhaseFailed)
		s.bus.Publish(ctx, events.SyncRunFailed{
			BaseEvent: events.NewBaseEvent(),
			Mode:      mode,
			CompanyID: s.companyID,
			Reason:    err.Error(),
		})
		return SyncSummary{}, apperr.Wrap(apperr.KindUnavailable, "external CRM fetch failed", err)
	}
	summary.Total = len(records)

	// Dedup must finish before any upsert: upsert decisions key off which
	// survivor currently represents each external id.
	s.log.SyncPhase(mode, PhaseDeduping)
	survivors := make(map[int64]repository.Lead)
	dedupResult, err := s.dedup.Run(ctx, s.companyID)
	if err != nil {
		// The dedup pass could not complete; fall back to a plain survivor
		// index so upserts still hit the right rows. Duplicates, if any,
		// are collapsed on the next run.
		s.log.DatabaseError("dedup", err)
		leads, listErr := s.store.ListSynced(ctx, s.companyID)
		if listErr != nil {
			return SyncSummary{}, apperr.Wrap(apperr.KindInternal, "internal store unavailable", listErr)
		}
		survivors = Plan(leads, PreferMostRecentlySynced).Survivors
	} else {
		survivors = dedupResult.Survivors
		summary.DedupDeleted = dedupResult.Deleted
	}

	s.log.SyncPhase(mode, PhaseProcessing)
	plans := s.validateAll(ctx, records, survivors)

	warnings := make([]domain.Warning, 0, len(plans))
	touched := make(map[int64]struct{}, len(plans))
	for _, plan := range plans {
		touched[plan.record.ID] = struct{}{}
		warnings = append(warnings, plan.warnings...)

		var survivor *repository.Lead
		if lead, ok := survivors[plan.record.ID]; ok {
			survivor = &lead
		}

		outcome, err := s.upserter.Apply(ctx, plan.record, plan.stage, plan.warnings, survivor, startedAt)
		if err != nil {
			summary.Errors++
			s.log.RecordError("upsert", plan.record.ID, err)
			continue
		}
		if outcome.Created {
			summary.Created++
			// Keep the index current in case the same id repeats in the batch.
			survivors[plan.record.ID] = repository.Lead{ID: outcome.LeadID, ExternalID: &plan.record.ID, CanonicalStage: string(plan.stage), ExpectedValue: plan.record.ExpectedRevenue}
		} else {
			summary.Updated++
		}
	}

	s.log.SyncPhase(mode, PhaseReconciling)
	untouched := make([]repository.Lead, 0)
	for externalID, lead := range survivors {
		if _, ok := touched[externalID]; !ok {
			untouched = append(untouched, lead)
		}
	}
	if mode == ModeIncremental {
		result := s.reconciler.ReconcileUntouched(ctx, untouched, startedAt)
		summary.Reconciled = result.Reconciled
		warnings = append(warnings, result.Warnings...)
	} else {
		// A full fetch already covered every live upstream record, so any
		// untouched internal record has no upstream counterpart.
		for _, lead := range untouched {
			if lead.ExternalID != nil {
				warnings = append(warnings, staleWarning(*lead.ExternalID))
			}
		}
	}

	s.log.SyncPhase(mode, PhasePersistingLog)
	summary.Validation = summarizeWarnings(warnings)
	s.persistWarnings(ctx, warnings, startedAt)

	runRow := repository.SyncRunRow{
		Mode:         mode,
		CompanyID:    s.companyID,
		Created:      summary.Created,
		Updated:      summary.Updated,
		Errors:       summary.Errors,
		Reconciled:   summary.Reconciled,
		Total:        summary.Total,
		DedupDeleted: summary.DedupDeleted,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
	if _, err := s.store.InsertSyncRun(ctx, runRow); err != nil {
		s.log.DatabaseError("insert_sync_run", err)
	}

	s.log.SyncPhase(mode, PhaseDone)
	s.bus.Publish(ctx, events.SyncRunCompleted{
		BaseEvent:    events.NewBaseEvent(),
		Mode:         mode,
		CompanyID:    s.companyID,
		Created:      summary.Created,
		Updated:      summary.Updated,
		Errors:       summary.Errors,
		Reconciled:   summary.Reconciled,
		Total:        summary.Total,
		DedupDeleted: summary.DedupDeleted,
	})
	s.archiver.ArchiveSyncReport(ctx, startedAt, summary)

	return summary, nil
}

// RunReconciliation executes a standalone full-scan reconciliation: the whole
// external dataset compared against the whole internal working set.
func (s *Service) RunReconciliation(ctx context.Context, autoFix bool) (ReconciliationSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return ReconciliationSummary{}, apperr.Conflict("a sync run is already in progress")
	}
	defer s.running.Store(false)

	startedAt := time.Now()

	external, err := s.fetchAll(ctx, ModeFull, startedAt)
	if err != nil {
		return ReconciliationSummary{}, apperr.Wrap(apperr.KindUnavailable, "external CRM fetch failed", err)
	}

	internal, err := s.store.ListSynced(ctx, s.companyID)
	if err != nil {
		return ReconciliationSummary{}, apperr.Wrap(apperr.KindInternal, "internal store unavailable", err)
	}

	summary, rows, warnings := s.reconciler.Compare(ctx, external, internal, autoFix, startedAt)
	s.persistWarnings(ctx, warnings, startedAt)

	results, err := json.Marshal(rows)
	if err != nil {
		results = []byte("[]")
	}
	if _, err := s.store.InsertReconciliationRun(ctx, repository.ReconciliationRunRow{
		WindowDays:     0,
		Results:        results,
		UpdatedCount:   summary.AutoFixed,
		MissingCount:   summary.Missing,
		OutOfSyncCount: summary.OutOfSync,
		DuplicateCount: summary.Duplicate,
		AutoFixedCount: summary.AutoFixed,
		CompanyID:      s.companyID,
	}); err != nil {
		s.log.DatabaseError("insert_reconciliation_run", err)
	}

	if summary.DriftDetected > 0 {
		s.bus.Publish(ctx, events.DriftDetected{
			BaseEvent: events.NewBaseEvent(),
			CompanyID: s.companyID,
			OutOfSync: summary.OutOfSync,
			Missing:   summary.Missing,
			AutoFixed: summary.AutoFixed,
		})
	}
	s.archiver.ArchiveReconciliationReport(ctx, startedAt, summary)

	return summary, nil
}

// ListRuns returns recent run summaries for the admin API.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]repository.SyncRunRow, error) {
	return s.store.ListSyncRuns(ctx, s.companyID, limit)
}

// ListValidationLog returns recent validation findings for the admin API.
func (s *Service) ListValidationLog(ctx context.Context, limit int) ([]repository.ValidationLogRow, error) {
	return s.store.ListValidationLog(ctx, s.companyID, limit)
}

// fetchAll pages through the external dataset. It counts first and paginates
// until the count is reached or a short page signals end-of-data, so a
// disagreement between count and page results cannot loop forever. A failure
// before any data arrives is fatal; a failure mid-pagination keeps what was
// fetched.
func (s *Service) fetchAll(ctx context.Context, mode string, now time.Time) ([]crm.Lead, error) {
	filter := crm.OpportunityDomain()
	if mode == ModeIncremental {
		filter = filter.ModifiedSince(now.AddDate(0, 0, -s.windowDays))
	}

	expected, err := s.client.SearchCount(ctx, filter)
	if err != nil {
		return nil, err
	}

	records := make([]crm.Lead, 0, expected)
	for len(records) < expected {
		page, err := s.client.SearchRead(ctx, filter, s.pageSize, len(records))
		if err != nil {
			if len(records) == 0 {
				return nil, err
			}
			s.log.RPCError("search_read", err)
			break
		}
		records = append(records, page...)
		if len(page) < s.pageSize {
			break
		}
	}

	return records, nil
}

// validateAll runs the pure per-record checks concurrently. Each slot is
// written by exactly one goroutine.
func (s *Service) validateAll(ctx context.Context, records []crm.Lead, survivors map[int64]repository.Lead) []upsertPlan {
	plans := make([]upsertPlan, len(records))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(validationWorkers)
	for i, record := range records {
		g.Go(func() error {
			stage, _ := s.taxonomy.Canonicalize(record.StageLabel)

			var previous *domain.CanonicalStage
			if lead, ok := survivors[record.ID]; ok {
				prev := domain.CanonicalStage(lead.CanonicalStage)
				previous = &prev
			}

			plans[i] = upsertPlan{
				record:   record,
				stage:    stage,
				warnings: s.validator.Validate(record, stage, previous),
			}
			return nil
		})
	}
	_ = g.Wait()

	return plans
}

// persistWarnings writes validation rows in bounded batches. A failed batch
// is logged and dropped; the log is observational.
func (s *Service) persistWarnings(ctx context.Context, warnings []domain.Warning, runAt time.Time) {
	rows := make([]repository.ValidationLogRow, 0, len(warnings))
	for _, warning := range warnings {
		row := repository.ValidationLogRow{
			ExternalID: warning.ExternalID,
			Severity:   string(warning.Severity),
			Type:       warning.Type,
			Message:    warning.Message,
			AutoFixed:  warning.AutoFixed,
			SyncRunAt:  runAt,
			CompanyID:  s.companyID,
		}
		if warning.FieldName != "" {
			name := warning.FieldName
			row.FieldName = &name
		}
		if warning.FieldValue != "" {
			value := warning.FieldValue
			row.FieldValue = &value
		}
		if warning.FixApplied != "" {
			fix := warning.FixApplied
			row.FixApplied = &fix
		}
		rows = append(rows, row)
	}

	for start := 0; start < len(rows); start += validationLogBatchSize {
		end := min(start+validationLogBatchSize, len(rows))
		if err := s.store.InsertValidationLog(ctx, rows[start:end]); err != nil {
			s.log.DatabaseError("insert_validation_log", err)
		}
	}
}

func summarizeWarnings(warnings []domain.Warning) ValidationSummary {
	summary := ValidationSummary{
		Total:      len(warnings),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for _, warning := range warnings {
		summary.BySeverity[string(warning.Severity)]++
		summary.ByType[warning.Type]++
		if warning.AutoFixed {
			summary.AutoFixed++
		}
	}
	return summary
}
