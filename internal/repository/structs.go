package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound = errors.New("not found")
	ErrDuplicateKey   = errors.New("duplicate key")
)

// RestorationRecord is the mutable current state of one item moving through
// the restoration workflow. At most one linking key per provider; either may
// be null until the matching provider's first event arrives.
type RestorationRecord struct {
	ID                uuid.UUID `db:"id" json:"id"`
	SourceOrderID     *int64    `db:"source_order_id" json:"source_order_id"`
	ReturnsPlatformID *string   `db:"returns_platform_id" json:"returns_platform_id"`
	RMANumber         *string   `db:"rma_number" json:"rma_number"`
	Status            string    `db:"status" json:"status"`
	IsPointOfSale     bool      `db:"is_point_of_sale" json:"is_point_of_sale"`

	LabelSentAt            *time.Time `db:"label_sent_at" json:"label_sent_at"`
	ShippedByCustomerAt    *time.Time `db:"shipped_by_customer_at" json:"shipped_by_customer_at"`
	DeliveredToWarehouseAt *time.Time `db:"delivered_to_warehouse_at" json:"delivered_to_warehouse_at"`
	ReceivedAt             *time.Time `db:"received_at" json:"received_at"`
	ShippedAt              *time.Time `db:"shipped_at" json:"shipped_at"`

	TrackingNumber    *string `db:"tracking_number" json:"tracking_number"`
	TrackingStatusRaw *string `db:"tracking_status_raw" json:"tracking_status_raw"`
	Carrier           *string `db:"carrier" json:"carrier"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RestorationEvent is one append-only audit row. Never updated or deleted.
type RestorationEvent struct {
	ID            int64           `db:"id" json:"id"`
	RecordID      uuid.UUID       `db:"record_id" json:"record_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Source        string          `db:"source" json:"source"`
	Actor         string          `db:"actor" json:"actor"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	StagesSkipped bool            `db:"stages_skipped" json:"stages_skipped"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Lock is one named mutual-exclusion row. One holder per name; an expired
// row counts as free.
type Lock struct {
	Name       string    `db:"name"`
	Holder     uuid.UUID `db:"holder"`
	AcquiredAt time.Time `db:"acquired_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusDone       TaskStatus = "DONE"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// OutboxTask mirrors audit events to the Kafka topic consumed by the
// reporting side of the dashboard.
type OutboxTask struct {
	ID          uuid.UUID  `db:"id"`
	Status      TaskStatus `db:"status"`
	Payload     []byte     `db:"payload"`
	Topic       string     `db:"topic"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}
