package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"crmsync_backend/internal/crm"
	"crmsync_backend/internal/sync/repository"
	platformevents "crmsync_backend/platform/events"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store for engine tests. Error fields, when set,
// make the corresponding method fail.
type fakeStore struct {
	mu sync.Mutex

	leads     []repository.Lead
	customers []repository.Customer

	events     []repository.InsertLeadEventParams
	dedupeKeys map[string]struct{}

	rollback       []repository.RollbackEntry
	deletedBatches [][]uuid.UUID

	validationRows    []repository.ValidationLogRow
	validationBatches int

	syncRuns  []repository.SyncRunRow
	reconRuns []repository.ReconciliationRunRow

	listErr     error
	rollbackErr error
	deleteErr   error
	createErr   error
	customerErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{dedupeKeys: make(map[string]struct{})}
}

func (s *fakeStore) addLead(lead repository.Lead) repository.Lead {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	s.leads = append(s.leads, lead)
	return lead
}

func (s *fakeStore) leadByID(id uuid.UUID) (repository.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.leads {
		if lead.ID == id {
			return lead, true
		}
	}
	return repository.Lead{}, false
}

func (s *fakeStore) eventsOfType(eventType string) []repository.InsertLeadEventParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]repository.InsertLeadEventParams, 0)
	for _, event := range s.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *fakeStore) ListSynced(_ context.Context, companyID int64) ([]repository.Lead, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		if lead.CompanyID == companyID && lead.ExternalID != nil {
			out = append(out, lead)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateLead(_ context.Context, params repository.CreateLeadParams) (repository.Lead, error) {
	if s.createErr != nil {
		return repository.Lead{}, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	externalID := params.ExternalID
	lead := repository.Lead{
		ID:                uuid.New(),
		ExternalID:        &externalID,
		Title:             params.Title,
		CanonicalStage:    params.CanonicalStage,
		Probability:       params.Probability,
		ExpectedValue:     params.ExpectedValue,
		ExpectedCloseDate: params.ExpectedCloseDate,
		CustomerID:        params.CustomerID,
		CompanyID:         params.CompanyID,
		Priority:          params.Priority,
		Metadata:          params.Metadata,
	}
	s.leads = append(s.leads, lead)
	return lead, nil
}

func (s *fakeStore) UpdateLead(_ context.Context, params repository.UpdateLeadParams) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, lead := range s.leads {
		if lead.ID != params.ID {
			continue
		}
		lead.Title = params.Title
		lead.CanonicalStage = params.CanonicalStage
		lead.Probability = params.Probability
		lead.ExpectedValue = params.ExpectedValue
		lead.ExpectedCloseDate = params.ExpectedCloseDate
		if params.CustomerID != nil {
			lead.CustomerID = params.CustomerID
		}
		lead.Priority = params.Priority
		lead.Metadata = params.Metadata
		s.leads[i] = lead
		return lead, nil
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (s *fakeStore) UpdateStage(_ context.Context, id uuid.UUID, stage string, probability int, expectedValue float64, closeDate *time.Time, metadata repository.LeadMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, lead := range s.leads {
		if lead.ID != id {
			continue
		}
		lead.CanonicalStage = stage
		lead.Probability = probability
		lead.ExpectedValue = expectedValue
		lead.ExpectedCloseDate = closeDate
		lead.Metadata = metadata
		s.leads[i] = lead
		return nil
	}
	return repository.ErrNotFound
}

func (s *fakeStore) DeleteLeads(_ context.Context, ids []uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBatches = append(s.deletedBatches, ids)
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.leads[:0]
	for _, lead := range s.leads {
		if _, ok := drop[lead.ID]; !ok {
			kept = append(kept, lead)
		}
	}
	s.leads = kept
	return nil
}

func (s *fakeStore) GetCustomerByName(_ context.Context, name string, companyID int64) (repository.Customer, error) {
	if s.customerErr != nil {
		return repository.Customer{}, s.customerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, customer := range s.customers {
		if customer.Name == name && customer.CompanyID == companyID {
			return customer, nil
		}
	}
	return repository.Customer{}, repository.ErrNotFound
}

func (s *fakeStore) CreateCustomer(_ context.Context, params repository.CreateCustomerParams) (repository.Customer, error) {
	if s.customerErr != nil {
		return repository.Customer{}, s.customerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	customer := repository.Customer{
		ID:          uuid.New(),
		Name:        params.Name,
		CompanyName: params.CompanyName,
		Phone:       params.Phone,
		Email:       params.Email,
		CompanyID:   params.CompanyID,
	}
	s.customers = append(s.customers, customer)
	return customer, nil
}

func (s *fakeStore) InsertLeadEvent(_ context.Context, params repository.InsertLeadEventParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.dedupeKeys[params.DedupeKey]; seen {
		return false, nil
	}
	s.dedupeKeys[params.DedupeKey] = struct{}{}
	s.events = append(s.events, params)
	return true, nil
}

func (s *fakeStore) InsertRollbackEntries(_ context.Context, entries []repository.RollbackEntry) error {
	if s.rollbackErr != nil {
		return s.rollbackErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollback = append(s.rollback, entries...)
	return nil
}

func (s *fakeStore) InsertValidationLog(_ context.Context, rows []repository.ValidationLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validationBatches++
	s.validationRows = append(s.validationRows, rows...)
	return nil
}

func (s *fakeStore) InsertSyncRun(_ context.Context, row repository.SyncRunRow) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.New()
	s.syncRuns = append(s.syncRuns, row)
	return row.ID, nil
}

func (s *fakeStore) ListSyncRuns(_ context.Context, companyID int64, _ int) ([]repository.SyncRunRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.SyncRunRow, 0)
	for _, run := range s.syncRuns {
		if run.CompanyID == companyID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *fakeStore) ListValidationLog(_ context.Context, companyID int64, _ int) ([]repository.ValidationLogRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.ValidationLogRow, 0)
	for _, row := range s.validationRows {
		if row.CompanyID == companyID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertReconciliationRun(_ context.Context, row repository.ReconciliationRunRow) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.New()
	s.reconRuns = append(s.reconRuns, row)
	return row.ID, nil
}

// fakeBus records published events synchronously.
type fakeBus struct {
	mu        sync.Mutex
	published []platformevents.Event
}

func (b *fakeBus) Publish(_ context.Context, event platformevents.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *fakeBus) PublishSync(ctx context.Context, event platformevents.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *fakeBus) Subscribe(string, platformevents.Handler) {}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.published))
	for _, event := range b.published {
		names = append(names, event.EventName())
	}
	return names
}

func (b *fakeBus) count(eventName string) int {
	n := 0
	for _, name := range b.names() {
		if name == eventName {
			n++
		}
	}
	return n
}

var errUpstreamDown = errors.New("upstream unavailable")

// fakeCRM serves a fixed dataset through the client interface.
type fakeCRM struct {
	mu      sync.Mutex
	records []crm.Lead

	countErr  error
	searchErr error
	readErr   error

	searchCalls int
	readCalls   int
}

func (c *fakeCRM) SearchCount(_ context.Context, _ crm.Domain) (int, error) {
	if c.countErr != nil {
		return 0, c.countErr
	}
	return len(c.records), nil
}

func (c *fakeCRM) SearchRead(_ context.Context, _ crm.Domain, limit, offset int) ([]crm.Lead, error) {
	c.mu.Lock()
	c.searchCalls++
	c.mu.Unlock()
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	if offset >= len(c.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.records) {
		end = len(c.records)
	}
	page := make([]crm.Lead, end-offset)
	copy(page, c.records[offset:end])
	return page, nil
}

func (c *fakeCRM) ReadByIDs(_ context.Context, ids []int64) ([]crm.Lead, error) {
	c.mu.Lock()
	c.readCalls++
	c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]crm.Lead, 0, len(ids))
	for _, record := range c.records {
		if _, ok := want[record.ID]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}
