package restoration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/metrics"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

// Auditor records accepted mutations. Implementations are best-effort: they
// must never fail the primary write.
type Auditor interface {
	Record(ctx context.Context, event repository.RestorationEvent)
}

// TrackingUpdate carries the descriptive carrier fields, which are always
// safe to overwrite regardless of the record's lifecycle stage.
type TrackingUpdate struct {
	Number    string
	Carrier   string
	StatusRaw string
}

// Proposal is one normalized inbound event: which record it references, what
// stage it proposes, and who is proposing it.
type Proposal struct {
	Keys LinkKeys

	// RecordID addresses an already-resolved record directly, bypassing
	// key linking. Operator actions use this; a record may legitimately
	// carry no linking keys at all (an order reference that never
	// resolved), and must still be reachable by id.
	RecordID uuid.UUID

	EventType string
	Source    Source
	Actor     string

	// Proposed is the candidate lifecycle stage; StatusUnknown proposes
	// no transition. Force overrides ordering and jumps to shipped.
	Proposed Status
	Force    bool

	// OccurredAt stamps the stage timestamp; zero means now.
	OccurredAt time.Time

	Tracking *TrackingUpdate
	Payload  map[string]interface{}

	// LookupOnly events (cancellations, approval notices) never create a
	// record; a miss is a silent no-op.
	LookupOnly bool
}

// ApplyResult reports what one event actually did.
type ApplyResult struct {
	Record        *repository.RestorationRecord
	Created       bool
	StatusChanged bool
	StagesSkipped bool
	// Skipped is true for LookupOnly proposals with no matching record.
	Skipped bool
}

// Engine applies one proposal to one record: link or create, decide the
// transition, fill stage timestamps, refresh tracking, and append an audit
// entry. All record writes are single-statement conditional updates, so
// concurrent handlers for different records never block each other and
// replays of the same event converge on the same state.
type Engine struct {
	records RecordRepository
	linker  *Linker
	audit   Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(records RecordRepository, linker *Linker, audit Auditor, logger *zap.Logger) *Engine {
	return &Engine{
		records: records,
		linker:  linker,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Apply(ctx context.Context, p Proposal) (*ApplyResult, error) {
	capped := p.Source.Cap(p.Proposed)

	initial := StatusPendingLabel
	if capped.Valid() && CanAdvance(initial, capped) && !p.Force {
		initial = capped
	}

	var (
		rec     *repository.RestorationRecord
		created bool
		err     error
	)
	if p.RecordID != uuid.Nil {
		rec, err = e.records.GetByID(ctx, p.RecordID)
	} else {
		rec, created, err = e.linker.LinkOrCreate(ctx, p.Keys, initial, p.LookupOnly)
	}
	if err != nil {
		if p.LookupOnly && errors.Is(err, repository.ErrObjectNotFound) {
			return &ApplyResult{Skipped: true}, nil
		}
		if errors.Is(err, ErrIntegrityConflict) {
			metrics.IntegrityConflictsTotal.Inc()
		}
		return nil, err
	}

	result := &ApplyResult{Record: rec, Created: created}

	if p.Tracking != nil {
		if err := e.updateTracking(ctx, rec, p.Tracking); err != nil {
			return nil, err
		}
	}

	currentStatus, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, err
	}

	occurred := p.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}

	switch {
	case p.Force:
		changed, err := e.records.ForceStatus(ctx, rec.ID, StatusShipped.String())
		if err != nil {
			return nil, err
		}
		if changed {
			result.StatusChanged = true
			result.StagesSkipped = currentStatus.Rank() < StatusReadyToShip.Rank()
			rec.Status = StatusShipped.String()
			metrics.ForceAdvancesTotal.Inc()
		}
		if err := e.fillStage(ctx, rec, StatusShipped, occurred); err != nil {
			return nil, err
		}

	case capped.Valid():
		changed, err := e.records.AdvanceStatus(ctx, rec.ID, capped.String(), capped.Rank())
		if err != nil {
			return nil, err
		}
		if changed {
			result.StatusChanged = true
			rec.Status = capped.String()
			metrics.TransitionsAppliedTotal.Inc()
		} else if !created {
			metrics.TransitionsSkippedTotal.Inc()
		}
		// The stage timestamp fills in even when the status write was
		// skipped as stale: events arrive out of order, and the final
		// set of timestamps must not depend on arrival order.
		if err := e.fillStage(ctx, rec, capped, occurred); err != nil {
			return nil, err
		}
	}

	e.recordAudit(ctx, rec, p, result)
	return result, nil
}

func (e *Engine) updateTracking(ctx context.Context, rec *repository.RestorationRecord, t *TrackingUpdate) error {
	var number, carrier, raw *string
	if t.Number != "" {
		number = &t.Number
	}
	if t.Carrier != "" {
		carrier = &t.Carrier
	}
	if t.StatusRaw != "" {
		raw = &t.StatusRaw
	}
	if number == nil && carrier == nil && raw == nil {
		return nil
	}
	if err := e.records.UpdateTracking(ctx, rec.ID, number, carrier, raw); err != nil {
		return err
	}
	if number != nil {
		rec.TrackingNumber = number
	}
	if carrier != nil {
		rec.Carrier = carrier
	}
	if raw != nil {
		rec.TrackingStatusRaw = raw
	}
	return nil
}

func (e *Engine) fillStage(ctx context.Context, rec *repository.RestorationRecord, stage Status, at time.Time) error {
	col, ok := stage.StageColumn()
	if !ok {
		return nil
	}
	return e.records.FillStageTimestamp(ctx, rec.ID, col, at)
}

func (e *Engine) recordAudit(ctx context.Context, rec *repository.RestorationRecord, p Proposal, result *ApplyResult) {
	if e.audit == nil {
		return
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		e.logger.Warn("audit payload marshal failed", zap.Error(err))
		payload = []byte("{}")
	}

	actor := p.Actor
	if actor == "" {
		actor = "system"
	}

	e.audit.Record(ctx, repository.RestorationEvent{
		RecordID:      rec.ID,
		EventType:     p.EventType,
		Source:        string(p.Source),
		Actor:         actor,
		Payload:       payload,
		StagesSkipped: result.StagesSkipped,
		CreatedAt:     e.now(),
	})
}
