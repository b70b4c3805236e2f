// Package sync implements the sync and reconciliation engine: deduplication,
// upsert, drift detection and the run orchestrator that wires them together.
package sync

import (
	"context"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/sync/repository"

	"github.com/google/uuid"
)

// CRMClient is the consumed interface to the external CRM. The engine is
// read-only against the external system.
type CRMClient interface {
	SearchCount(ctx context.Context, domain crm.Domain) (int, error)
	SearchRead(ctx context.Context, domain crm.Domain, limit, offset int) ([]crm.Lead, error)
	ReadByIDs(ctx context.Context, ids []int64) ([]crm.Lead, error)
}

// Store is the owned internal relational store. The pgx repository implements
// it; tests substitute fakes.
type Store interface {
	ListSynced(ctx context.Context, companyID int64) ([]repository.Lead, error)
	CreateLead(ctx context.Context, params repository.CreateLeadParams) (repository.Lead, error)
	UpdateLead(ctx context.Context, params repository.UpdateLeadParams) (repository.Lead, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage string, probability int, expectedValue float64, closeDate *time.Time, metadata repository.LeadMetadata) error
	DeleteLeads(ctx context.Context, ids []uuid.UUID) error

	GetCustomerByName(ctx context.Context, name string, companyID int64) (repository.Customer, error)
	CreateCustomer(ctx context.Context, params repository.CreateCustomerParams) (repository.Customer, error)

	InsertLeadEvent(ctx context.Context, params repository.InsertLeadEventParams) (bool, error)
	InsertRollbackEntries(ctx context.Context, entries []repository.RollbackEntry) error
	InsertValidationLog(ctx context.Context, rows []repository.ValidationLogRow) error

	InsertSyncRun(ctx context.Context, row repository.SyncRunRow) (uuid.UUID, error)
	ListSyncRuns(ctx context.Context, companyID int64, limit int) ([]repository.SyncRunRow, error)
	ListValidationLog(ctx context.Context, companyID int64, limit int) ([]repository.ValidationLogRow, error)
	InsertReconciliationRun(ctx context.Context, row repository.ReconciliationRunRow) (uuid.UUID, error)
}
