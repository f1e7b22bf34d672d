package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
	mock_database "github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db/mocks"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

type statusUpdate struct {
	id       uuid.UUID
	status   repository.TaskStatus
	attempts int
	onTx     bool
}

// fakeOutboxRepo records which executor each call rode on, so tests can
// assert the claim and the PROCESSING marks share one transaction.
type fakeOutboxRepo struct {
	mu      sync.Mutex
	tasks   []*repository.OutboxTask
	claimTx db.Tx
	updates []statusUpdate
}

func (f *fakeOutboxRepo) GetProcessableTasks(_ context.Context, tx db.Tx, _, _ int) ([]*repository.OutboxTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimTx = tx
	return f.tasks, nil
}

func (f *fakeOutboxRepo) UpdateTaskStatusTx(_ context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, _ *string, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx != f.claimTx {
		return errors.New("status mark outside the claiming transaction")
	}
	f.updates = append(f.updates, statusUpdate{id: id, status: status, attempts: attempts, onTx: true})
	return nil
}

func (f *fakeOutboxRepo) UpdateTaskStatus(_ context.Context, _ db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, _ *string, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{id: id, status: status, attempts: attempts})
	return nil
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []string
	sendErr error
}

func (f *fakeProducer) SendMessage(_ context.Context, topic string, _ []byte, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, topic)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newBatchTestPublisher(t *testing.T, repo *fakeOutboxRepo, producer *fakeProducer) (*Publisher, *mock_database.MockTx) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockDB := mock_database.NewMockDB(ctrl)
	mockTx := mock_database.NewMockTx(ctrl)

	mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
	mockTx.EXPECT().Commit(gomock.Any()).Return(nil)
	mockTx.EXPECT().Rollback(gomock.Any()).Return(nil)

	p := NewPublisher(mockDB, repo, producer, PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    10,
		MaxAttempts:  3,
	}, zap.NewNop())
	return p, mockTx
}

func TestProcessBatch_ClaimsAndMarksOnOneTransaction(t *testing.T) {
	task := &repository.OutboxTask{ID: uuid.New(), Topic: "restoration_audit_events", Payload: []byte(`{}`)}
	repo := &fakeOutboxRepo{tasks: []*repository.OutboxTask{task}}
	producer := &fakeProducer{}
	p, mockTx := newBatchTestPublisher(t, repo, producer)

	err := p.processBatch(context.Background())
	require.NoError(t, err)

	// The FOR UPDATE SKIP LOCKED claim and the PROCESSING mark must share
	// the transaction, or the row locks release before the marks commit.
	assert.Same(t, db.Tx(mockTx), repo.claimTx)

	require.Len(t, repo.updates, 2)
	assert.Equal(t, repository.TaskStatusProcessing, repo.updates[0].status)
	assert.True(t, repo.updates[0].onTx)
	assert.Equal(t, repository.TaskStatusDone, repo.updates[1].status)

	assert.Equal(t, []string{"restoration_audit_events"}, producer.sent)
}

func TestProcessBatch_EmptyBatchSendsNothing(t *testing.T) {
	repo := &fakeOutboxRepo{}
	producer := &fakeProducer{}
	p, _ := newBatchTestPublisher(t, repo, producer)

	err := p.processBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repo.updates)
	assert.Empty(t, producer.sent)
}

func TestProcessBatch_SendFailureIncrementsAttempts(t *testing.T) {
	task := &repository.OutboxTask{ID: uuid.New(), Topic: "restoration_audit_events", Attempts: 1}
	repo := &fakeOutboxRepo{tasks: []*repository.OutboxTask{task}}
	producer := &fakeProducer{sendErr: errors.New("broker unreachable")}
	p, _ := newBatchTestPublisher(t, repo, producer)

	err := p.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.updates, 2)
	failed := repo.updates[1]
	assert.Equal(t, repository.TaskStatusFailed, failed.status)
	assert.Equal(t, 2, failed.attempts)
}
