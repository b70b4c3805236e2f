package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/sync/domain"
	"crmsync_backend/internal/sync/repository"
	"crmsync_backend/platform/logger"
	"crmsync_backend/platform/phone"

	"github.com/google/uuid"
)

func newTestUpserter(t *testing.T, store Store, bus *fakeBus) *Upserter {
	t.Helper()
	taxonomy, err := domain.DefaultTaxonomy()
	if err != nil {
		t.Fatalf("DefaultTaxonomy: %v", err)
	}
	return NewUpserter(store, taxonomy, domain.NewValidator(taxonomy), bus, logger.New("development"), testCompanyID, phone.DefaultRegion)
}

func stageOf(t *testing.T, record crm.Lead) domain.CanonicalStage {
	t.Helper()
	taxonomy, err := domain.DefaultTaxonomy()
	if err != nil {
		t.Fatalf("DefaultTaxonomy: %v", err)
	}
	stage, _ := taxonomy.Canonicalize(record.StageLabel)
	return stage
}

func TestApplyCreatesLeadWithCustomerAndEvents(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	upserter := newTestUpserter(t, store, bus)

	record := crm.Lead{
		ID:              100,
		Title:           "Kitchen renovation",
		StageLabel:      "Quotation",
		Probability:     60,
		ExpectedRevenue: 8000,
		ContactName:     "A. Jansen",
		Priority:        "2",
		DeadlineDate:    "2024-06-15",
	}
	syncedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome, err := upserter.Apply(context.Background(), record, stageOf(t, record), nil, nil, syncedAt)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !outcome.Created {
		t.Fatal("expected a created lead")
	}

	lead, ok := store.leadByID(outcome.LeadID)
	if !ok {
		t.Fatal("created lead not found in store")
	}
	if lead.CanonicalStage != "quotation" {
		t.Errorf("stage = %q, want quotation", lead.CanonicalStage)
	}
	if lead.Probability != 60 {
		t.Errorf("probability = %d, want 60", lead.Probability)
	}
	if lead.Priority != "high" {
		t.Errorf("priority = %q, want high", lead.Priority)
	}
	if lead.ExpectedCloseDate == nil || lead.ExpectedCloseDate.Format("2006-01-02") != "2024-06-15" {
		t.Errorf("close date = %v, want 2024-06-15", lead.ExpectedCloseDate)
	}
	if lead.CustomerID == nil {
		t.Fatal("active lead should be linked to a customer")
	}
	if lead.Metadata.SyncedAt != "2024-03-01T12:00:00.000000000Z" {
		t.Errorf("synced_at = %q", lead.Metadata.SyncedAt)
	}

	if len(store.customers) != 1 || store.customers[0].Name != "A. Jansen" {
		t.Fatalf("customers = %+v, want one row named A. Jansen", store.customers)
	}

	stageEvents := store.eventsOfType(EventStageChanged)
	if len(stageEvents) != 1 {
		t.Fatalf("stage_changed events = %d, want 1", len(stageEvents))
	}
	if from := stageEvents[0].Payload["from"]; from != nil {
		t.Errorf("initial stage_changed from = %v, want nil", from)
	}
	if to := stageEvents[0].Payload["to"]; to != "quotation" {
		t.Errorf("initial stage_changed to = %v, want quotation", to)
	}
	if len(store.eventsOfType(EventContactLinked)) != 1 {
		t.Error("expected one contact_linked event")
	}
	if bus.count("sync.lead.stage_changed") != 1 || bus.count("sync.lead.contact_linked") != 1 {
		t.Errorf("published events = %v", bus.names())
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	upserter := newTestUpserter(t, store, bus)

	record := crm.Lead{
		ID:              101,
		Title:           "Bathroom",
		StageLabel:      "Estimation",
		Probability:     40,
		ExpectedRevenue: 3000,
		ContactName:     "B. Smit",
	}
	syncedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stage := stageOf(t, record)

	first, err := upserter.Apply(context.Background(), record, stage, nil, nil, syncedAt)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	eventsAfterFirst := len(store.events)

	survivor, _ := store.leadByID(first.LeadID)
	second, err := upserter.Apply(context.Background(), record, stage, nil, &survivor, syncedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if second.Created {
		t.Error("second apply must update, not create")
	}
	if second.LeadID != first.LeadID {
		t.Errorf("lead id changed across applies: %s vs %s", first.LeadID, second.LeadID)
	}
	if len(store.events) != eventsAfterFirst {
		t.Errorf("events grew from %d to %d on an unchanged record", eventsAfterFirst, len(store.events))
	}
	if len(store.customers) != 1 {
		t.Errorf("customers = %d, want 1", len(store.customers))
	}
}

func TestApplyEmitsEventsOnStageAndValueChange(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	upserter := newTestUpserter(t, store, bus)

	externalID := int64(102)
	survivor := store.addLead(repository.Lead{
		ExternalID:     &externalID,
		Title:          "Extension",
		CanonicalStage: "quotation",
		Probability:    60,
		ExpectedValue:  10000,
		CompanyID:      testCompanyID,
	})

	record := crm.Lead{
		ID:              externalID,
		Title:           "Extension",
		StageLabel:      "Won",
		Probability:     60,
		ExpectedRevenue: 10500,
		ContactName:     "C. Bakker",
	}

	outcome, err := upserter.Apply(context.Background(), record, stageOf(t, record), nil, &survivor, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome.Created {
		t.Fatal("expected an update")
	}

	lead, _ := store.leadByID(survivor.ID)
	if lead.CanonicalStage != "won" {
		t.Errorf("stage = %q, want won", lead.CanonicalStage)
	}
	// the won stage pins probability regardless of the upstream value
	if lead.Probability != 100 {
		t.Errorf("probability = %d, want 100", lead.Probability)
	}

	stageEvents := store.eventsOfType(EventStageChanged)
	if len(stageEvents) != 1 {
		t.Fatalf("stage_changed events = %d, want 1", len(stageEvents))
	}
	if stageEvents[0].Payload["from"] != "quotation" || stageEvents[0].Payload["to"] != "won" {
		t.Errorf("stage_changed payload = %v", stageEvents[0].Payload)
	}
	if stageEvents[0].SourceSystem != SourceSync {
		t.Errorf("source = %q, want %q", stageEvents[0].SourceSystem, SourceSync)
	}

	valueEvents := store.eventsOfType(EventValueChanged)
	if len(valueEvents) != 1 {
		t.Fatalf("value_changed events = %d, want 1", len(valueEvents))
	}
	if valueEvents[0].Payload["from"] != 10000.0 || valueEvents[0].Payload["to"] != 10500.0 {
		t.Errorf("value_changed payload = %v", valueEvents[0].Payload)
	}
}

func TestApplyCustomerUnresolvedFailsOnlyNewActiveRecords(t *testing.T) {
	store := newFakeStore()
	store.customerErr = errUpstreamDown
	upserter := newTestUpserter(t, store, &fakeBus{})

	record := crm.Lead{
		ID:          103,
		Title:       "Garage",
		StageLabel:  "Qualified",
		ContactName: "D. Visser",
	}
	stage := stageOf(t, record)

	// a never-before-seen active record is a hard per-record failure
	_, err := upserter.Apply(context.Background(), record, stage, nil, nil, time.Now())
	if !errors.Is(err, ErrCustomerUnresolved) {
		t.Fatalf("err = %v, want ErrCustomerUnresolved", err)
	}

	// the same failure on an existing lead keeps the current linkage
	externalID := record.ID
	customerID := uuid.New()
	survivor := store.addLead(repository.Lead{
		ExternalID:     &externalID,
		Title:          "Garage",
		CanonicalStage: "new",
		CustomerID:     &customerID,
		CompanyID:      testCompanyID,
	})
	outcome, err := upserter.Apply(context.Background(), record, stage, nil, &survivor, time.Now())
	if err != nil {
		t.Fatalf("Apply on existing lead: %v", err)
	}
	lead, _ := store.leadByID(outcome.LeadID)
	if lead.CustomerID == nil || *lead.CustomerID != customerID {
		t.Error("existing customer linkage should survive a resolution failure")
	}
}

func TestApplyTerminalRecordSkipsCustomerResolution(t *testing.T) {
	store := newFakeStore()
	store.customerErr = errUpstreamDown
	upserter := newTestUpserter(t, store, &fakeBus{})

	record := crm.Lead{
		ID:          104,
		Title:       "Old deal",
		StageLabel:  "Lost",
		ContactName: "E. Mulder",
	}

	outcome, err := upserter.Apply(context.Background(), record, stageOf(t, record), nil, nil, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	lead, _ := store.leadByID(outcome.LeadID)
	if lead.CustomerID != nil {
		t.Error("terminal record should not be linked to a customer")
	}
	if lead.Probability != 0 {
		t.Errorf("lost probability = %d, want 0", lead.Probability)
	}
}

func TestApplyDefaultsMissingTitle(t *testing.T) {
	store := newFakeStore()
	upserter := newTestUpserter(t, store, &fakeBus{})

	record := crm.Lead{ID: 105, StageLabel: "Won"}
	outcome, err := upserter.Apply(context.Background(), record, stageOf(t, record), nil, nil, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	lead, _ := store.leadByID(outcome.LeadID)
	if lead.Title != "Untitled lead #105" {
		t.Errorf("title = %q, want the generated default", lead.Title)
	}
}

func TestApplySplitsPartnerAndContact(t *testing.T) {
	store := newFakeStore()
	upserter := newTestUpserter(t, store, &fakeBus{})

	record := crm.Lead{
		ID:          106,
		Title:       "Office refit",
		StageLabel:  "Qualified",
		ContactName: "F. de Boer",
		PartnerName: "Acme BV",
		Email:       "f.deboer@acme.example",
	}

	if _, err := upserter.Apply(context.Background(), record, stageOf(t, record), nil, nil, time.Now()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(store.customers) != 1 {
		t.Fatalf("customers = %d, want 1", len(store.customers))
	}
	customer := store.customers[0]
	if customer.Name != "F. de Boer" {
		t.Errorf("customer name = %q, want the contact person", customer.Name)
	}
	if customer.CompanyName == nil || *customer.CompanyName != "Acme BV" {
		t.Errorf("company name = %v, want Acme BV", customer.CompanyName)
	}
	if customer.Email == nil || *customer.Email != "f.deboer@acme.example" {
		t.Errorf("email = %v", customer.Email)
	}
}

func TestMapPriority(t *testing.T) {
	cases := map[string]string{
		"":  "low",
		"0": "low",
		"1": "medium",
		"2": "high",
		"3": "high",
	}
	for upstream, want := range cases {
		if got := mapPriority(upstream); got != want {
			t.Errorf("mapPriority(%q) = %q, want %q", upstream, got, want)
		}
	}
}

func TestDedupeKeyIsStable(t *testing.T) {
	leadID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	payload := map[string]any{"from": "new", "to": "qualified"}

	first := DedupeKey(leadID, EventStageChanged, payload)
	second := DedupeKey(leadID, EventStageChanged, map[string]any{"from": "new", "to": "qualified"})
	if first != second {
		t.Error("identical inputs must produce identical keys")
	}
	if first == DedupeKey(leadID, EventValueChanged, payload) {
		t.Error("different event types must produce different keys")
	}
	if first == DedupeKey(uuid.New(), EventStageChanged, payload) {
		t.Error("different leads must produce different keys")
	}
}
