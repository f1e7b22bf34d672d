package restoration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

// memRecordRepo mimics the conditional-update semantics of the Postgres repo:
// monotonic status writes, first-write-wins stage timestamps, duplicate-key
// rejection on conflicting linking keys.
type memRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*repository.RestorationRecord
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[uuid.UUID]*repository.RestorationRecord)}
}

func (m *memRecordRepo) Create(_ context.Context, rec *repository.RestorationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if rec.SourceOrderID != nil && existing.SourceOrderID != nil && *rec.SourceOrderID == *existing.SourceOrderID {
			return repository.ErrDuplicateKey
		}
		if rec.ReturnsPlatformID != nil && existing.ReturnsPlatformID != nil && *rec.ReturnsPlatformID == *existing.ReturnsPlatformID {
			return repository.ErrDuplicateKey
		}
	}

	clone := *rec
	clone.CreatedAt = time.Now().UTC()
	clone.UpdatedAt = clone.CreatedAt
	m.records[rec.ID] = &clone
	return nil
}

func (m *memRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.RestorationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memRecordRepo) GetByReturnsPlatformID(_ context.Context, returnsPlatformID string) (*repository.RestorationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ReturnsPlatformID != nil && *rec.ReturnsPlatformID == returnsPlatformID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, repository.ErrObjectNotFound
}

func (m *memRecordRepo) GetBySourceOrderID(_ context.Context, sourceOrderID int64) (*repository.RestorationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.SourceOrderID != nil && *rec.SourceOrderID == sourceOrderID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, repository.ErrObjectNotFound
}

func (m *memRecordRepo) BackfillKeys(_ context.Context, id uuid.UUID, sourceOrderID *int64, returnsPlatformID, rmaNumber *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	if sourceOrderID != nil && rec.SourceOrderID == nil {
		v := *sourceOrderID
		rec.SourceOrderID = &v
	}
	if returnsPlatformID != nil && rec.ReturnsPlatformID == nil {
		v := *returnsPlatformID
		rec.ReturnsPlatformID = &v
	}
	if rmaNumber != nil && rec.RMANumber == nil {
		v := *rmaNumber
		rec.RMANumber = &v
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memRecordRepo) AdvanceStatus(_ context.Context, id uuid.UUID, status string, rank int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false, repository.ErrObjectNotFound
	}
	current, err := ParseStatus(rec.Status)
	if err != nil {
		return false, err
	}
	if current.Rank() >= rank {
		return false, nil
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memRecordRepo) ForceStatus(_ context.Context, id uuid.UUID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false, repository.ErrObjectNotFound
	}
	if rec.Status == status {
		return false, nil
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memRecordRepo) FillStageTimestamp(_ context.Context, id uuid.UUID, column string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrObjectNotFound
	}

	field, err := m.stageField(rec, column)
	if err != nil {
		return err
	}
	if *field == nil {
		v := at
		*field = &v
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memRecordRepo) stageField(rec *repository.RestorationRecord, column string) (**time.Time, error) {
	switch column {
	case "label_sent_at":
		return &rec.LabelSentAt, nil
	case "shipped_by_customer_at":
		return &rec.ShippedByCustomerAt, nil
	case "delivered_to_warehouse_at":
		return &rec.DeliveredToWarehouseAt, nil
	case "received_at":
		return &rec.ReceivedAt, nil
	case "shipped_at":
		return &rec.ShippedAt, nil
	default:
		return nil, fmt.Errorf("unknown stage column %q", column)
	}
}

func (m *memRecordRepo) UpdateTracking(_ context.Context, id uuid.UUID, trackingNumber, carrier, statusRaw *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	if trackingNumber != nil {
		v := *trackingNumber
		rec.TrackingNumber = &v
	}
	if carrier != nil {
		v := *carrier
		rec.Carrier = &v
	}
	if statusRaw != nil {
		v := *statusRaw
		rec.TrackingStatusRaw = &v
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memRecordRepo) mustGet(id uuid.UUID) *repository.RestorationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		panic("record not found: " + id.String())
	}
	clone := *rec
	return &clone
}

func (m *memRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeOrderLookup resolves fixed references and counts calls.
type fakeOrderLookup struct {
	mu      sync.Mutex
	orders  map[string]*OrderInfo
	err     error
	lookups int
}

func (f *fakeOrderLookup) LookupOrder(_ context.Context, reference string) (*OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.orders[reference]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	clone := *info
	return &clone, nil
}

// captureAuditor collects recorded audit events.
type captureAuditor struct {
	mu     sync.Mutex
	events []repository.RestorationEvent
}

func (c *captureAuditor) Record(_ context.Context, event repository.RestorationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAuditor) all() []repository.RestorationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]repository.RestorationEvent, len(c.events))
	copy(out, c.events)
	return out
}
