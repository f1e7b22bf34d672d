package postgresql

import (
	"context"

	"github.com/google/uuid"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

type EventRepo struct {
	db db.DB
}

func NewEventRepo(db db.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Create(ctx context.Context, event *repository.RestorationEvent) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO restoration_events (
            record_id, event_type, source, actor, payload, stages_skipped, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, event.RecordID, event.EventType, event.Source, event.Actor, event.Payload, event.StagesSkipped, event.CreatedAt)
	return err
}

func (r *EventRepo) GetByRecordID(ctx context.Context, recordID uuid.UUID) ([]*repository.RestorationEvent, error) {
	var events []*repository.RestorationEvent
	err := r.db.Select(ctx, &events, `
        SELECT * FROM restoration_events
        WHERE record_id = $1
        ORDER BY created_at ASC, id ASC
    `, recordID)
	return events, err
}
