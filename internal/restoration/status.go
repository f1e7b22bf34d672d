package restoration

import "fmt"

// Status is one stage of the restoration lifecycle. The declaration order is
// the authoritative precedence: automated processing only ever moves a record
// toward higher values.
type Status int

const (
	StatusUnknown Status = iota
	StatusPendingLabel
	StatusLabelSent
	StatusInTransitInbound
	StatusDeliveredWarehouse
	StatusReceived
	StatusAtRestoration
	StatusReadyToShip
	StatusShipped
	StatusDelivered
)

// TrackingCeiling is the highest status a carrier/tracking-derived event may
// set. "Carrier says it arrived" is delivered_warehouse; received and beyond
// require a warehouse staff check-in.
const TrackingCeiling = StatusDeliveredWarehouse

var statusNames = map[Status]string{
	StatusPendingLabel:       "pending_label",
	StatusLabelSent:          "label_sent",
	StatusInTransitInbound:   "in_transit_inbound",
	StatusDeliveredWarehouse: "delivered_warehouse",
	StatusReceived:           "received",
	StatusAtRestoration:      "at_restoration",
	StatusReadyToShip:        "ready_to_ship",
	StatusShipped:            "shipped",
	StatusDelivered:          "delivered",
}

var statusValues = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, name := range statusNames {
		m[name] = s
	}
	return m
}()

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether s is one of the lifecycle stages.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus maps a stored status string back to its enum value.
func ParseStatus(name string) (Status, error) {
	if s, ok := statusValues[name]; ok {
		return s, nil
	}
	return StatusUnknown, fmt.Errorf("restoration: unknown status %q", name)
}

// Rank is the total-order index of the status. Higher rank means further
// along the workflow.
func (s Status) Rank() int {
	return int(s)
}

// CanAdvance reports whether a proposed status is strictly ahead of the
// current one. Equal or lower proposals are no-ops, never errors.
func CanAdvance(current, proposed Status) bool {
	return proposed.Rank() > current.Rank()
}

// Source identifies which path proposed a transition. The tracking source is
// capped at TrackingCeiling; the manual source is the only one allowed to
// drive received.
type Source string

const (
	SourceStorefront Source = "storefront"
	SourceReturns    Source = "returns_platform"
	SourceTracking   Source = "tracking"
	SourceManual     Source = "manual"
	SourceBatch      Source = "batch"
)

// Cap clamps a proposed status to the ceiling its source is allowed to reach.
func (src Source) Cap(proposed Status) Status {
	if src == SourceTracking && proposed.Rank() > TrackingCeiling.Rank() {
		return TrackingCeiling
	}
	return proposed
}

// stageColumns maps each stage with a timestamp to its column. Stages without
// a dedicated timestamp are absent.
var stageColumns = map[Status]string{
	StatusLabelSent:          "label_sent_at",
	StatusInTransitInbound:   "shipped_by_customer_at",
	StatusDeliveredWarehouse: "delivered_to_warehouse_at",
	StatusReceived:           "received_at",
	StatusShipped:            "shipped_at",
}

// StageColumn returns the timestamp column recording when the record first
// reached this stage, if the stage has one.
func (s Status) StageColumn() (string, bool) {
	col, ok := stageColumns[s]
	return col, ok
}

// NormalizeCarrierStatus maps a raw carrier scan status to a lifecycle stage.
// Unrecognized values return StatusUnknown and produce no transition; the raw
// string is still persisted verbatim.
func NormalizeCarrierStatus(raw string) Status {
	switch raw {
	case "InfoReceived", "LabelCreated":
		return StatusLabelSent
	case "InTransit", "OutForDelivery", "AttemptFail":
		return StatusInTransitInbound
	case "Delivered":
		return StatusDeliveredWarehouse
	default:
		return StatusUnknown
	}
}
