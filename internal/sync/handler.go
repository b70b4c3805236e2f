package sync

import (
	"net/http"
	"strconv"

	"crmsync_backend/internal/sync/transport"
	"crmsync_backend/platform/httpkit"
	"crmsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler exposes the sync admin API.
type Handler struct {
	svc *Service
	val *validator.Validator
}

func NewHandler(svc *Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the sync admin routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/runs", h.RunSync)
	rg.GET("/runs", h.ListRuns)
	rg.POST("/reconciliation", h.RunReconciliation)
	rg.GET("/validation-log", h.ListValidationLog)
}

// RunSync triggers a sync run and blocks until it completes. Long-running
// periodic runs go through the task queue instead.
func (h *Handler) RunSync(c *gin.Context) {
	var req transport.RunSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
			return
		}
		if err := h.val.Struct(req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
			return
		}
	}

	summary, err := h.svc.RunSync(c.Request.Context(), req.Mode)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, summary)
}

func (h *Handler) RunReconciliation(c *gin.Context) {
	var req transport.RunReconciliationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
			return
		}
	}

	summary, err := h.svc.RunReconciliation(c.Request.Context(), req.AutoFix)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, summary)
}

func (h *Handler) ListRuns(c *gin.Context) {
	rows, err := h.svc.ListRuns(c.Request.Context(), queryLimit(c))
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.SyncRunResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, transport.FromSyncRunRow(row))
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) ListValidationLog(c *gin.Context) {
	rows, err := h.svc.ListValidationLog(c.Request.Context(), queryLimit(c))
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.ValidationLogEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, transport.FromValidationLogRow(row))
	}
	httpkit.OK(c, gin.H{"items": items})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}
