package sync

import (
	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/events"
	apphttp "crmsync_backend/internal/http"
	"crmsync_backend/internal/sync/domain"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"
	"crmsync_backend/platform/phone"
	"crmsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the sync module needs.
type ModuleConfig interface {
	config.CRMConfig
	config.SyncConfig
}

// Module is the sync bounded context implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule creates and initializes the sync module with all its dependencies.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, cfg ModuleConfig, log *logger.Logger, archiver *ReportArchiver) (*Module, error) {
	taxonomy, err := domain.DefaultTaxonomy()
	if err != nil {
		return nil, err
	}

	client := crm.New(cfg, log)
	repo := repository.New(pool)
	svc := NewService(client, repo, taxonomy, eventBus, log, cfg, phone.DefaultRegion, archiver)

	return &Module{
		service: svc,
		handler: NewHandler(svc, val),
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "sync"
}

// Service returns the orchestrator for non-HTTP entry points (worker, CLI).
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts sync routes on the provided router context.
// All sync routes require authentication.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	syncGroup := ctx.Protected.Group("/sync")
	m.handler.RegisterRoutes(syncGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
