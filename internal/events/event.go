// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"crmsync_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Sync Domain Events
// =============================================================================

// LeadStageChanged is published when a sync or reconciliation touch moves a
// lead to a different canonical stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	ExternalID int64     `json:"externalId"`
	CompanyID  int64     `json:"companyId"`
	FromStage  string    `json:"fromStage,omitempty"`
	ToStage    string    `json:"toStage"`
	Source     string    `json:"source"` // "sync" or "reconciliation"
}

func (e LeadStageChanged) EventName() string { return "sync.lead.stage_changed" }

// LeadValueChanged is published when the expected deal value diverges from
// the previously synced value.
type LeadValueChanged struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	ExternalID int64     `json:"externalId"`
	CompanyID  int64     `json:"companyId"`
	FromValue  float64   `json:"fromValue"`
	ToValue    float64   `json:"toValue"`
}

func (e LeadValueChanged) EventName() string { return "sync.lead.value_changed" }

// LeadContactLinked is published when a new lead is linked to a customer row.
type LeadContactLinked struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	ExternalID int64     `json:"externalId"`
	CompanyID  int64     `json:"companyId"`
	CustomerID uuid.UUID `json:"customerId"`
}

func (e LeadContactLinked) EventName() string { return "sync.lead.contact_linked" }

// DedupVictimRemoved is published after a duplicate lead row is deleted; the
// rollback log row referenced here is the only recovery path.
type DedupVictimRemoved struct {
	BaseEvent
	VictimID   uuid.UUID `json:"victimId"`
	SurvivorID uuid.UUID `json:"survivorId"`
	ExternalID int64     `json:"externalId"`
}

func (e DedupVictimRemoved) EventName() string { return "sync.dedup.victim_removed" }

// SyncRunCompleted is published after a run finishes, successfully or with
// absorbed per-record errors.
type SyncRunCompleted struct {
	BaseEvent
	Mode         string `json:"mode"`
	CompanyID    int64  `json:"companyId"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Errors       int    `json:"errors"`
	Reconciled   int    `json:"reconciled"`
	Total        int    `json:"total"`
	DedupDeleted int    `json:"dedupDeleted"`
}

func (e SyncRunCompleted) EventName() string { return "sync.run.completed" }

// SyncRunFailed is published when a run aborts during the fetch phase, the
// only phase whose failure is fatal to a run.
type SyncRunFailed struct {
	BaseEvent
	Mode      string `json:"mode"`
	CompanyID int64  `json:"companyId"`
	Reason    string `json:"reason"`
}

func (e SyncRunFailed) EventName() string { return "sync.run.failed" }

// DriftDetected is published when reconciliation finds the internal and
// external stores disagreeing outside the normal sync window.
type DriftDetected struct {
	BaseEvent
	CompanyID int64 `json:"companyId"`
	OutOfSync int   `json:"outOfSync"`
	Missing   int   `json:"missing"`
	AutoFixed int   `json:"autoFixed"`
}

func (e DriftDetected) EventName() string { return "sync.reconciliation.drift_detected" }
