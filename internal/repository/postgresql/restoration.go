package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

// statusRankExpr mirrors restoration.Status ranks so the monotonicity guard
// runs inside the UPDATE itself. Concurrent handlers never read-then-write.
const statusRankExpr = `CASE status
        WHEN 'pending_label' THEN 1
        WHEN 'label_sent' THEN 2
        WHEN 'in_transit_inbound' THEN 3
        WHEN 'delivered_warehouse' THEN 4
        WHEN 'received' THEN 5
        WHEN 'at_restoration' THEN 6
        WHEN 'ready_to_ship' THEN 7
        WHEN 'shipped' THEN 8
        WHEN 'delivered' THEN 9
        ELSE 0
    END`

// stageTimestampColumns is the closed set of columns FillStageTimestamp may
// touch. Column names never come from request data.
var stageTimestampColumns = map[string]struct{}{
	"label_sent_at":             {},
	"shipped_by_customer_at":    {},
	"delivered_to_warehouse_at": {},
	"received_at":               {},
	"shipped_at":                {},
}

type RestorationRepo struct {
	db db.DB
}

func NewRestorationRepo(db db.DB) *RestorationRepo {
	return &RestorationRepo{db: db}
}

// Create inserts a new record, tolerating a concurrent insert for the same
// linking key. The race loser gets ErrDuplicateKey and is expected to fall
// back to a lookup.
func (r *RestorationRepo) Create(ctx context.Context, rec *repository.RestorationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
        INSERT INTO restorations (
            id, source_order_id, returns_platform_id, rma_number, status,
            is_point_of_sale, tracking_number, tracking_status_raw, carrier,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
        ON CONFLICT DO NOTHING
    `, rec.ID, rec.SourceOrderID, rec.ReturnsPlatformID, rec.RMANumber, rec.Status,
		rec.IsPointOfSale, rec.TrackingNumber, rec.TrackingStatusRaw, rec.Carrier, now)
	if err != nil {
		return fmt.Errorf("failed to insert restoration record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrDuplicateKey
	}
	return nil
}

func (r *RestorationRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.RestorationRecord, error) {
	var rec repository.RestorationRecord
	err := r.db.Get(ctx, &rec, "SELECT * FROM restorations WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *RestorationRepo) GetByReturnsPlatformID(ctx context.Context, returnsPlatformID string) (*repository.RestorationRecord, error) {
	var rec repository.RestorationRecord
	err := r.db.Get(ctx, &rec, "SELECT * FROM restorations WHERE returns_platform_id = $1", returnsPlatformID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *RestorationRepo) GetBySourceOrderID(ctx context.Context, sourceOrderID int64) (*repository.RestorationRecord, error) {
	var rec repository.RestorationRecord
	err := r.db.Get(ctx, &rec, "SELECT * FROM restorations WHERE source_order_id = $1", sourceOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// BackfillKeys fills in linking keys learned after creation. COALESCE keeps
// whatever is already set, so a second provider's first event merges into the
// existing record instead of overwriting it.
func (r *RestorationRepo) BackfillKeys(ctx context.Context, id uuid.UUID, sourceOrderID *int64, returnsPlatformID, rmaNumber *string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE restorations
        SET
            source_order_id = COALESCE(source_order_id, $2),
            returns_platform_id = COALESCE(returns_platform_id, $3),
            rma_number = COALESCE(rma_number, $4),
            updated_at = now()
        WHERE id = $1
    `, id, sourceOrderID, returnsPlatformID, rmaNumber)
	if err != nil {
		return fmt.Errorf("failed to backfill linking keys for %s: %w", id, err)
	}
	return nil
}

// AdvanceStatus moves the record forward only if the proposed rank is
// strictly ahead of the stored one. Returns false when the write was skipped
// as stale, which is the expected outcome for late-arriving events.
func (r *RestorationRepo) AdvanceStatus(ctx context.Context, id uuid.UUID, status string, rank int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE restorations
        SET status = $2, updated_at = now()
        WHERE id = $1 AND `+statusRankExpr+` < $3
    `, id, status, rank)
	if err != nil {
		return false, fmt.Errorf("failed to advance status for %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceStatus sets the status unconditionally unless it already holds. Used
// only for the fulfillment-driven correction to shipped.
func (r *RestorationRepo) ForceStatus(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE restorations
        SET status = $2, updated_at = now()
        WHERE id = $1 AND status <> $2
    `, id, status)
	if err != nil {
		return false, fmt.Errorf("failed to force status for %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FillStageTimestamp records when a stage was first reached. First write
// wins; replays and out-of-order arrivals never overwrite it.
func (r *RestorationRepo) FillStageTimestamp(ctx context.Context, id uuid.UUID, column string, at time.Time) error {
	if _, ok := stageTimestampColumns[column]; !ok {
		return fmt.Errorf("unknown stage timestamp column %q", column)
	}
	query := fmt.Sprintf(`
        UPDATE restorations
        SET %s = COALESCE(%s, $2), updated_at = now()
        WHERE id = $1
    `, column, column)
	_, err := r.db.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to fill %s for %s: %w", column, id, err)
	}
	return nil
}

// UpdateTracking refreshes the descriptive carrier fields. These are exempt
// from the ordering rule and always take the latest known value.
func (r *RestorationRepo) UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber, carrier, statusRaw *string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE restorations
        SET
            tracking_number = COALESCE($2, tracking_number),
            carrier = COALESCE($3, carrier),
            tracking_status_raw = COALESCE($4, tracking_status_raw),
            updated_at = now()
        WHERE id = $1
    `, id, trackingNumber, carrier, statusRaw)
	if err != nil {
		return fmt.Errorf("failed to update tracking for %s: %w", id, err)
	}
	return nil
}
