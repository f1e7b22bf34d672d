package restoration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

// ErrIntegrityConflict means an event's linking keys resolve to a record that
// already belongs to a different logical return. The event is dropped and the
// fault logged; nothing is merged silently.
var ErrIntegrityConflict = errors.New("linking keys resolve to a different record")

// RecordRepository is the persistence contract the engine needs: atomic
// single-row creates and conditional updates, nothing more.
type RecordRepository interface {
	Create(ctx context.Context, rec *repository.RestorationRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.RestorationRecord, error)
	GetByReturnsPlatformID(ctx context.Context, returnsPlatformID string) (*repository.RestorationRecord, error)
	GetBySourceOrderID(ctx context.Context, sourceOrderID int64) (*repository.RestorationRecord, error)
	BackfillKeys(ctx context.Context, id uuid.UUID, sourceOrderID *int64, returnsPlatformID, rmaNumber *string) error
	AdvanceStatus(ctx context.Context, id uuid.UUID, status string, rank int) (bool, error)
	ForceStatus(ctx context.Context, id uuid.UUID, status string) (bool, error)
	FillStageTimestamp(ctx context.Context, id uuid.UUID, column string, at time.Time) error
	UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber, carrier, statusRaw *string) error
}

// OrderInfo is what the storefront order-lookup collaborator returns for a
// human-readable order reference.
type OrderInfo struct {
	ID            int64
	IsPointOfSale bool
}

// OrderLookup resolves an order reference to the internal order id. Returns
// repository.ErrObjectNotFound for unknown references.
type OrderLookup interface {
	LookupOrder(ctx context.Context, reference string) (*OrderInfo, error)
}

// LinkKeys carries every identifier an inbound event may reference a record
// by. Any subset may be populated.
type LinkKeys struct {
	ReturnsPlatformID string
	OrderReference    string
	SourceOrderID     int64
	RMANumber         string
	IsPointOfSale     bool
}

type Linker struct {
	records RecordRepository
	orders  OrderLookup
	logger  *zap.Logger
}

func NewLinker(records RecordRepository, orders OrderLookup, logger *zap.Logger) *Linker {
	return &Linker{records: records, orders: orders, logger: logger}
}

// LinkOrCreate resolves an event to exactly one record or creates one.
// Lookup order: returns-platform id, then source order id (resolving the
// order reference through the storefront if needed), then create. A
// duplicate-key failure on create means the other provider's first event won
// the race; it falls back to lookup-and-merge instead of failing.
//
// When lookupOnly is set, a miss returns repository.ErrObjectNotFound and
// nothing is created.
//
// The bool result reports whether a new record was created by this call.
func (l *Linker) LinkOrCreate(ctx context.Context, keys LinkKeys, initial Status, lookupOnly bool) (*repository.RestorationRecord, bool, error) {
	orderID, isPOS := l.resolveOrder(ctx, keys)

	for attempt := 0; attempt < 2; attempt++ {
		rec, err := l.lookup(ctx, keys, orderID)
		if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, false, err
		}
		if rec != nil {
			merged, err := l.merge(ctx, rec, keys, orderID)
			return merged, false, err
		}

		if lookupOnly {
			return nil, false, repository.ErrObjectNotFound
		}

		rec = newRecord(keys, orderID, isPOS, initial)
		err = l.records.Create(ctx, rec)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, false, err
		}
		// Lost the creation race; the next pass finds the winner's row.
		l.logger.Info("restoration create raced, retrying as lookup",
			zap.String("returns_platform_id", keys.ReturnsPlatformID),
			zap.Int64("source_order_id", orderID))
	}

	return nil, false, fmt.Errorf("failed to link or create restoration record for order %d", orderID)
}

func (l *Linker) resolveOrder(ctx context.Context, keys LinkKeys) (int64, bool) {
	if keys.SourceOrderID != 0 {
		return keys.SourceOrderID, keys.IsPointOfSale
	}
	if keys.OrderReference == "" || l.orders == nil {
		return 0, keys.IsPointOfSale
	}

	info, err := l.orders.LookupOrder(ctx, keys.OrderReference)
	if err != nil {
		// The record can still be created or updated on the keys we do
		// have; a later event may complete the link.
		if !errors.Is(err, repository.ErrObjectNotFound) {
			l.logger.Warn("order lookup failed",
				zap.String("reference", keys.OrderReference), zap.Error(err))
		}
		return 0, keys.IsPointOfSale
	}
	return info.ID, info.IsPointOfSale
}

func (l *Linker) lookup(ctx context.Context, keys LinkKeys, orderID int64) (*repository.RestorationRecord, error) {
	if keys.ReturnsPlatformID != "" {
		rec, err := l.records.GetByReturnsPlatformID(ctx, keys.ReturnsPlatformID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
	}

	if orderID != 0 {
		rec, err := l.records.GetBySourceOrderID(ctx, orderID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
	}

	return nil, repository.ErrObjectNotFound
}

// merge backfills linking keys the found record is missing and enforces that
// the keys agree with whatever is already set.
func (l *Linker) merge(ctx context.Context, rec *repository.RestorationRecord, keys LinkKeys, orderID int64) (*repository.RestorationRecord, error) {
	if orderID != 0 && rec.SourceOrderID != nil && *rec.SourceOrderID != orderID {
		l.logger.Error("data integrity fault: source order id mismatch",
			zap.String("record_id", rec.ID.String()),
			zap.Int64("record_order_id", *rec.SourceOrderID),
			zap.Int64("event_order_id", orderID))
		return nil, ErrIntegrityConflict
	}
	if keys.ReturnsPlatformID != "" && rec.ReturnsPlatformID != nil && *rec.ReturnsPlatformID != keys.ReturnsPlatformID {
		l.logger.Error("data integrity fault: returns platform id mismatch",
			zap.String("record_id", rec.ID.String()),
			zap.String("record_returns_id", *rec.ReturnsPlatformID),
			zap.String("event_returns_id", keys.ReturnsPlatformID))
		return nil, ErrIntegrityConflict
	}

	var fillOrderID *int64
	if orderID != 0 && rec.SourceOrderID == nil {
		fillOrderID = &orderID
	}
	var fillReturnsID *string
	if keys.ReturnsPlatformID != "" && rec.ReturnsPlatformID == nil {
		id := keys.ReturnsPlatformID
		fillReturnsID = &id
	}
	var fillRMA *string
	if keys.RMANumber != "" && rec.RMANumber == nil {
		rma := keys.RMANumber
		fillRMA = &rma
	}

	if fillOrderID == nil && fillReturnsID == nil && fillRMA == nil {
		return rec, nil
	}

	if err := l.records.BackfillKeys(ctx, rec.ID, fillOrderID, fillReturnsID, fillRMA); err != nil {
		return nil, err
	}
	if fillOrderID != nil {
		rec.SourceOrderID = fillOrderID
	}
	if fillReturnsID != nil {
		rec.ReturnsPlatformID = fillReturnsID
	}
	if fillRMA != nil {
		rec.RMANumber = fillRMA
	}
	return rec, nil
}

func newRecord(keys LinkKeys, orderID int64, isPOS bool, initial Status) *repository.RestorationRecord {
	if !initial.Valid() || initial.Rank() < StatusPendingLabel.Rank() {
		initial = StatusPendingLabel
	}

	rec := &repository.RestorationRecord{
		ID:            uuid.New(),
		Status:        initial.String(),
		IsPointOfSale: isPOS,
	}
	if orderID != 0 {
		id := orderID
		rec.SourceOrderID = &id
	}
	if keys.ReturnsPlatformID != "" {
		id := keys.ReturnsPlatformID
		rec.ReturnsPlatformID = &id
	}
	if keys.RMANumber != "" {
		rma := keys.RMANumber
		rec.RMANumber = &rma
	}
	return rec
}
