package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

// EventRepository persists one audit row.
type EventRepository interface {
	Create(ctx context.Context, event *repository.RestorationEvent) error
}

// TaskCreator enqueues the Kafka outbox mirror of a flushed batch.
type TaskCreator interface {
	Create(ctx context.Context, db db.DB, task *repository.OutboxTask) error
}

// Manager buffers audit events and writes them in batches off the request
// path. Writes are best-effort: a failed append is logged and dropped, never
// surfaced to the caller that performed the primary mutation. The acceptable
// loss window is whatever sits in the buffer when the process dies.
type Manager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration

	inputChan  chan repository.RestorationEvent
	batchChan  chan []repository.RestorationEvent
	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup

	events EventRepository
	outbox TaskCreator
	db     db.DB
	topic  string
	logger *zap.Logger
}

func NewManager(events EventRepository, outbox TaskCreator, database db.DB, topic string, workerCount, batchSize int, timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		workerCount: workerCount,
		batchSize:   batchSize,
		timeout:     timeout,
		inputChan:   make(chan repository.RestorationEvent, workerCount*batchSize*2),
		batchChan:   make(chan []repository.RestorationEvent, workerCount*2),
		shutdownCh:  make(chan struct{}),
		events:      events,
		outbox:      outbox,
		db:          database,
		topic:       topic,
		logger:      logger,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("Starting audit manager")
	m.wg.Add(1)
	go m.runAggregator(ctx)

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(i)
	}
}

// Record enqueues one audit event. Never blocks the caller: a full buffer
// drops the entry with a warning rather than stalling webhook handling.
func (m *Manager) Record(ctx context.Context, event repository.RestorationEvent) {
	select {
	case m.inputChan <- event:
	case <-ctx.Done():
		m.logger.Warn("audit entry dropped: context cancelled",
			zap.String("record_id", event.RecordID.String()),
			zap.String("event_type", event.EventType))
	default:
		m.logger.Warn("audit entry dropped: buffer full",
			zap.String("record_id", event.RecordID.String()),
			zap.String("event_type", event.EventType))
	}
}

func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.logger.Info("Initiating audit manager shutdown")
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("Audit manager shutdown completed")
		case <-ctx.Done():
			m.logger.Warn("Audit manager shutdown interrupted")
		}
	})
}

func (m *Manager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []repository.RestorationEvent
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		// Drain whatever arrived before shutdown closed us down.
		for {
			select {
			case entry := <-m.inputChan:
				batch = append(batch, entry)
			default:
				if len(batch) > 0 {
					m.dispatchBatch(batch)
				}
				close(m.batchChan)
				return
			}
		}
	}()

	for {
		select {
		case entry := <-m.inputChan:
			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				timeoutC = nil
			} else if len(batch) == 1 {
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}

		case <-timeoutC:
			m.dispatchBatch(batch)
			batch = nil
			timeoutC = nil

		case <-ctx.Done():
			return

		case <-m.shutdownCh:
			return
		}
	}
}

func (m *Manager) dispatchBatch(batch []repository.RestorationEvent) {
	batchCopy := make([]repository.RestorationEvent, len(batch))
	copy(batchCopy, batch)

	select {
	case m.batchChan <- batchCopy:
	default:
		m.writeBatch(batchCopy)
	}
}

func (m *Manager) runWorker(id int) {
	defer m.wg.Done()

	for batch := range m.batchChan {
		m.writeBatch(batch)
	}
	m.logger.Debug("Audit worker exiting", zap.Int("worker", id))
}

// writeBatch persists each entry and mirrors the batch to the outbox. Both
// halves are best-effort; failures are logged and swallowed.
func (m *Manager) writeBatch(batch []repository.RestorationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	written := batch[:0:0]
	for i := range batch {
		if err := m.events.Create(ctx, &batch[i]); err != nil {
			m.logger.Warn("audit log append failed",
				zap.String("record_id", batch[i].RecordID.String()),
				zap.String("event_type", batch[i].EventType),
				zap.Error(err))
			continue
		}
		written = append(written, batch[i])
	}

	if m.outbox == nil || m.db == nil || len(written) == 0 {
		return
	}

	payload, err := json.Marshal(written)
	if err != nil {
		m.logger.Warn("audit outbox payload marshal failed", zap.Error(err))
		return
	}
	task := &repository.OutboxTask{Topic: m.topic, Payload: payload}
	if err := m.outbox.Create(ctx, m.db, task); err != nil {
		m.logger.Warn("audit outbox enqueue failed", zap.Error(err))
	}
}
