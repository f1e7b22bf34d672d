package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
)

type LockRepo struct {
	db db.DB
}

func NewLockRepo(db db.DB) *LockRepo {
	return &LockRepo{db: db}
}

// TryAcquire claims the named lock in a single upsert. The row is created on
// first use; an existing row is only stolen once its expiry has passed. Zero
// rows affected means another holder is live.
func (r *LockRepo) TryAcquire(ctx context.Context, name string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttl)
	tag, err := r.db.Exec(ctx, `
        INSERT INTO job_locks (name, holder, acquired_at, expires_at)
        VALUES ($1, $2, now(), $3)
        ON CONFLICT (name) DO UPDATE
        SET holder = EXCLUDED.holder,
            acquired_at = EXCLUDED.acquired_at,
            expires_at = EXCLUDED.expires_at
        WHERE job_locks.expires_at < now()
    `, name, holder, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release frees the lock only if this holder still owns it, so a holder whose
// lock was stolen after expiry cannot release the new owner.
func (r *LockRepo) Release(ctx context.Context, name string, holder uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        DELETE FROM job_locks WHERE name = $1 AND holder = $2
    `, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}
