package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/events"
	"crmsync_backend/internal/sync/domain"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/logger"
	"crmsync_backend/platform/phone"

	"github.com/google/uuid"
)

// syncedAtFormat is a fixed-width UTC timestamp so lexicographic comparison of
// stored synced_at values matches temporal order.
const syncedAtFormat = "2006-01-02T15:04:05.000000000Z"

const deadlineFormat = "2006-01-02"

// Event types recorded in lead_events.
const (
	EventStageChanged  = "stage_changed"
	EventValueChanged  = "value_changed"
	EventContactLinked = "contact_linked"
)

// Event source tags.
const (
	SourceSync           = "sync"
	SourceReconciliation = "reconciliation"
)

// ErrCustomerUnresolved marks the one hard per-record failure mode: an
// active-stage record never seen before whose customer cannot be resolved.
// Downstream consumers assume every active lead has a customer, so such a
// record is skipped and counted as an error.
var ErrCustomerUnresolved = errors.New("customer could not be resolved for new active lead")

// UpsertOutcome reports one applied record.
type UpsertOutcome struct {
	Created bool
	LeadID  uuid.UUID
}

// Upserter writes one external record into the internal store.
type Upserter struct {
	store       Store
	taxonomy    *domain.Taxonomy
	validator   *domain.Validator
	bus         events.Bus
	log         *logger.Logger
	companyID   int64
	phoneRegion string
}

func NewUpserter(store Store, taxonomy *domain.Taxonomy, validator *domain.Validator, bus events.Bus, log *logger.Logger, companyID int64, phoneRegion string) *Upserter {
	return &Upserter{
		store:       store,
		taxonomy:    taxonomy,
		validator:   validator,
		bus:         bus,
		log:         log,
		companyID:   companyID,
		phoneRegion: phoneRegion,
	}
}

// Apply upserts one external record. survivor is the dedup-resolved internal
// record for the external id, nil when the id has never been seen. stage and
// warnings come from the concurrent validation phase; Apply only acts on
// them. Any returned error is a per-record error: counted by the caller,
// never fatal to the batch.
func (u *Upserter) Apply(ctx context.Context, record crm.Lead, stage domain.CanonicalStage, warnings []domain.Warning, survivor *repository.Lead, syncedAt time.Time) (UpsertOutcome, error) {
	title := record.Title
	if title == "" {
		title = domain.DefaultTitle(record.ID)
	}

	probability := u.validator.NormalizeProbability(stage, record.Probability)
	closeDate := parseDeadline(record.DeadlineDate)

	// Terminal deals skip the linkage attempt: their customer, if any, is
	// already linked, and closed records don't justify creating new rows.
	var customerID *uuid.UUID
	if u.taxonomy.IsActive(stage) {
		resolved, err := u.resolveCustomer(ctx, record)
		if err != nil {
			if survivor == nil {
				return UpsertOutcome{}, fmt.Errorf("%w: %s", ErrCustomerUnresolved, err)
			}
			// An existing lead keeps its current linkage.
			u.log.RecordError("resolve_customer", record.ID, err)
		} else {
			customerID = &resolved
		}
	}

	snapshot, err := json.Marshal(record)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("snapshot record %d: %w", record.ID, err)
	}
	metadata := repository.LeadMetadata{
		Snapshot:     snapshot,
		SyncedAt:     syncedAt.UTC().Format(syncedAtFormat),
		WarningCount: len(warnings),
	}

	if survivor != nil {
		return u.update(ctx, record, *survivor, stage, title, probability, closeDate, customerID, metadata)
	}
	return u.create(ctx, record, stage, title, probability, closeDate, customerID, metadata)
}

func (u *Upserter) update(ctx context.Context, record crm.Lead, survivor repository.Lead, stage domain.CanonicalStage, title string, probability int, closeDate *time.Time, customerID *uuid.UUID, metadata repository.LeadMetadata) (UpsertOutcome, error) {
	// Events first, then the row update: event inserts are dedupe-keyed, so
	// replaying after a failed update is harmless.
	if survivor.CanonicalStage != string(stage) {
		if err := u.emitStageChanged(ctx, survivor.ID, record.ID, survivor.CanonicalStage, stage, SourceSync); err != nil {
			return UpsertOutcome{}, err
		}
	}
	if survivor.ExpectedValue != record.ExpectedRevenue {
		if err := u.emitValueChanged(ctx, survivor.ID, record.ID, survivor.ExpectedValue, record.ExpectedRevenue); err != nil {
			return UpsertOutcome{}, err
		}
	}

	updated, err := u.store.UpdateLead(ctx, repository.UpdateLeadParams{
		ID:                survivor.ID,
		Title:             title,
		CanonicalStage:    string(stage),
		Probability:       probability,
		ExpectedValue:     record.ExpectedRevenue,
		ExpectedCloseDate: closeDate,
		CustomerID:        customerID,
		Priority:          mapPriority(record.Priority),
		Metadata:          metadata,
	})
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("update lead for record %d: %w", record.ID, err)
	}

	return UpsertOutcome{Created: false, LeadID: updated.ID}, nil
}

func (u *Upserter) create(ctx context.Context, record crm.Lead, stage domain.CanonicalStage, title string, probability int, closeDate *time.Time, customerID *uuid.UUID, metadata repository.LeadMetadata) (UpsertOutcome, error) {
	created, err := u.store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID:        record.ID,
		Title:             title,
		CanonicalStage:    string(stage),
		Probability:       probability,
		ExpectedValue:     record.ExpectedRevenue,
		ExpectedCloseDate: closeDate,
		CustomerID:        customerID,
		CompanyID:         u.companyID,
		Priority:          mapPriority(record.Priority),
		Metadata:          metadata,
	})
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("insert lead for record %d: %w", record.ID, err)
	}

	if err := u.emitStageChanged(ctx, created.ID, record.ID, "", stage, SourceSync); err != nil {
		return UpsertOutcome{}, err
	}
	if customerID != nil {
		if err := u.emitContactLinked(ctx, created.ID, record.ID, *customerID); err != nil {
			return UpsertOutcome{}, err
		}
	}

	return UpsertOutcome{Created: true, LeadID: created.ID}, nil
}

// resolveCustomer looks up or lazily creates the customer row named by the
// record: partner name first, then contact name, then the "Unknown" sentinel.
func (u *Upserter) resolveCustomer(ctx context.Context, record crm.Lead) (uuid.UUID, error) {
	name := record.PartnerName
	if name == "" {
		name = record.ContactName
	}
	if name == "" {
		name = domain.UnknownCustomerName
	}

	customer, err := u.store.GetCustomerByName(ctx, name, u.companyID)
	if err == nil {
		return customer.ID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, err
	}

	params := repository.CreateCustomerParams{Name: name, CompanyID: u.companyID}
	if record.PartnerName != "" && record.ContactName != "" && record.PartnerName != record.ContactName {
		companyName := record.PartnerName
		params.Name = record.ContactName
		params.CompanyName = &companyName
		// Prefer the person over the company as the row name, but only when
		// both are present; re-check under the person's name first.
		if existing, err := u.store.GetCustomerByName(ctx, params.Name, u.companyID); err == nil {
			return existing.ID, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	if record.Phone != "" {
		normalized := phone.NormalizeE164(record.Phone, u.phoneRegion)
		params.Phone = &normalized
	}
	if record.Email != "" {
		email := record.Email
		params.Email = &email
	}

	created, err := u.store.CreateCustomer(ctx, params)
	if err != nil {
		return uuid.Nil, err
	}
	return created.ID, nil
}

func (u *Upserter) emitStageChanged(ctx context.Context, leadID uuid.UUID, externalID int64, from string, to domain.CanonicalStage, source string) error {
	payload := map[string]any{"from": nil, "to": string(to)}
	if from != "" {
		payload["from"] = from
	}

	inserted, err := u.insertEvent(ctx, leadID, EventStageChanged, payload, source)
	if err != nil {
		return fmt.Errorf("emit stage_changed for record %d: %w", externalID, err)
	}
	if inserted {
		u.bus.Publish(ctx, events.LeadStageChanged{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     leadID,
			ExternalID: externalID,
			CompanyID:  u.companyID,
			FromStage:  from,
			ToStage:    string(to),
			Source:     source,
		})
	}
	return nil
}

func (u *Upserter) emitValueChanged(ctx context.Context, leadID uuid.UUID, externalID int64, from, to float64) error {
	payload := map[string]any{"from": from, "to": to}

	inserted, err := u.insertEvent(ctx, leadID, EventValueChanged, payload, SourceSync)
	if err != nil {
		return fmt.Errorf("emit value_changed for record %d: %w", externalID, err)
	}
	if inserted {
		u.bus.Publish(ctx, events.LeadValueChanged{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     leadID,
			ExternalID: externalID,
			CompanyID:  u.companyID,
			FromValue:  from,
			ToValue:    to,
		})
	}
	return nil
}

func (u *Upserter) emitContactLinked(ctx context.Context, leadID uuid.UUID, externalID int64, customerID uuid.UUID) error {
	payload := map[string]any{"customer_id": customerID.String()}

	inserted, err := u.insertEvent(ctx, leadID, EventContactLinked, payload, SourceSync)
	if err != nil {
		return fmt.Errorf("emit contact_linked for record %d: %w", externalID, err)
	}
	if inserted {
		u.bus.Publish(ctx, events.LeadContactLinked{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     leadID,
			ExternalID: externalID,
			CompanyID:  u.companyID,
			CustomerID: customerID,
		})
	}
	return nil
}

func (u *Upserter) insertEvent(ctx context.Context, leadID uuid.UUID, eventType string, payload map[string]any, source string) (bool, error) {
	return u.store.InsertLeadEvent(ctx, repository.InsertLeadEventParams{
		LeadID:       leadID,
		EventType:    eventType,
		Payload:      payload,
		SourceSystem: source,
		DedupeKey:    DedupeKey(leadID, eventType, payload),
	})
}

// DedupeKey derives the unique event key from (leadId, eventType, payload) so
// re-running the same diff twice is a no-op.
func DedupeKey(leadID uuid.UUID, eventType string, payload map[string]any) string {
	payloadJSON, _ := json.Marshal(payload)
	sum := sha256.Sum256([]byte(leadID.String() + "|" + eventType + "|" + string(payloadJSON)))
	return hex.EncodeToString(sum[:])
}

func parseDeadline(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(deadlineFormat, value)
	if err != nil {
		return nil
	}
	return &parsed
}

// mapPriority folds the upstream priority scale into low/medium/high.
func mapPriority(upstream string) string {
	switch upstream {
	case "1":
		return "medium"
	case "2", "3":
		return "high"
	default:
		return "low"
	}
}
