package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLockRepo struct {
	mu       sync.Mutex
	held     map[string]uuid.UUID
	err      error
	releases []uuid.UUID
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{held: make(map[string]uuid.UUID)}
}

func (f *fakeLockRepo) TryAcquire(_ context.Context, name string, holder uuid.UUID, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.held[name]; ok {
		return false, nil
	}
	f.held[name] = holder
	return true, nil
}

func (f *fakeLockRepo) Release(_ context.Context, name string, holder uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, holder)
	if f.held[name] == holder {
		delete(f.held, name)
	}
	return nil
}

func TestManager_AcquireAndRelease(t *testing.T) {
	repo := newFakeLockRepo()
	m := NewManager(repo, time.Minute, zap.NewNop())

	acquired, err := m.Acquire(context.Background(), "job-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, m.Release(context.Background(), "job-a"))
	assert.Len(t, repo.releases, 1)

	// The lock is free again after release.
	acquired, err = m.Acquire(context.Background(), "job-a")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestManager_ContendedLockNotAcquired(t *testing.T) {
	repo := newFakeLockRepo()
	first := NewManager(repo, time.Minute, zap.NewNop())
	second := NewManager(repo, time.Minute, zap.NewNop())

	acquired, err := first.Acquire(context.Background(), "job-a")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = second.Acquire(context.Background(), "job-a")
	require.NoError(t, err)
	assert.False(t, acquired, "contention is a clean false, not an error")
}

func TestManager_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	repo := newFakeLockRepo()
	m := NewManager(repo, time.Minute, zap.NewNop())

	require.NoError(t, m.Release(context.Background(), "never-held"))
	assert.Empty(t, repo.releases, "no store call for a lock we never held")
}

func TestManager_AcquireError(t *testing.T) {
	repo := newFakeLockRepo()
	repo.err = errors.New("store down")
	m := NewManager(repo, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "job-a")
	assert.Error(t, err)
}
