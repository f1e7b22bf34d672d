package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTTL = 15 * time.Minute

// Repository is the store backing named locks: one atomic claim attempt and
// a holder-scoped release.
type Repository interface {
	TryAcquire(ctx context.Context, name string, holder uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string, holder uuid.UUID) error
}

// Manager hands out named mutual-exclusion locks backed by the shared store.
// Acquire never waits: a held lock means another run is in progress and the
// caller should abort cleanly. The TTL is a liveness safety net for a holder
// that crashed before releasing; correctness of record updates never depends
// on it.
type Manager struct {
	repo   Repository
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	holders map[string]uuid.UUID
}

func NewManager(repo Repository, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo:    repo,
		ttl:     ttl,
		logger:  logger,
		holders: make(map[string]uuid.UUID),
	}
}

// Acquire attempts to claim the named lock. false means another holder is
// live; that is an expected outcome, not an error.
func (m *Manager) Acquire(ctx context.Context, name string) (bool, error) {
	holder := uuid.New()

	acquired, err := m.repo.TryAcquire(ctx, name, holder, m.ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		m.logger.Info("lock held by another run", zap.String("lock", name))
		return false, nil
	}

	m.mu.Lock()
	m.holders[name] = holder
	m.mu.Unlock()

	m.logger.Info("lock acquired", zap.String("lock", name), zap.String("holder", holder.String()))
	return true, nil
}

// Release frees a lock this manager acquired. Safe to call when the lock was
// never acquired; the release is scoped to our holder token, so a stolen
// lock is never released out from under its new owner.
func (m *Manager) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	holder, ok := m.holders[name]
	delete(m.holders, name)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := m.repo.Release(ctx, name, holder); err != nil {
		m.logger.Error("lock release failed", zap.String("lock", name), zap.Error(err))
		return err
	}
	m.logger.Info("lock released", zap.String("lock", name))
	return nil
}
