package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockRepository persists job leases as rows. Session-scoped advisory locks
// are off the table because the pool multiplexes connections across
// callers, so exclusivity lives in persisted state and every mutation is a
// conditional write.
type LockRepository interface {
	// TryAcquire grants the lease iff no row exists for the job or the
	// existing lease has expired. It returns the token that ended up
	// persisted; the caller owns the lease only if that token matches the
	// one it supplied.
	TryAcquire(ctx context.Context, jobName, token string, until time.Time) (bool, error)
	// Release expires the lease iff the supplied token still owns it.
	Release(ctx context.Context, jobName, token string) error
}

type lockRepository struct {
	db *sql.DB
}

func NewLockRepository(db *sql.DB) LockRepository {
	return &lockRepository{db: db}
}

func (r *lockRepository) TryAcquire(ctx context.Context, jobName, token string, until time.Time) (bool, error) {
	// The WHERE clause on the conflict arm makes this a single atomic
	// "insert or steal-if-expired" write: if the current lease is still
	// live the update does not apply and no row comes back.
	const query = `
		INSERT INTO market.job_locks (job_name, locked_until, lock_token, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_name) DO UPDATE
		SET locked_until = EXCLUDED.locked_until,
		    lock_token   = EXCLUDED.lock_token,
		    updated_at   = now()
		WHERE market.job_locks.locked_until < now()
		RETURNING lock_token
	`
	var persisted string
	err := r.db.QueryRowContext(ctx, query, jobName, until, token).Scan(&persisted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", jobName, err)
	}
	return persisted == token, nil
}

func (r *lockRepository) Release(ctx context.Context, jobName, token string) error {
	// Token match prevents a stale holder from releasing a lease that has
	// since expired and been re-acquired by someone else. The row is
	// expired, not deleted, so TryAcquire's conflict arm stays simple.
	const query = `
		UPDATE market.job_locks
		SET locked_until = now() - INTERVAL '1 second',
		    updated_at   = now()
		WHERE job_name = $1 AND lock_token = $2
	`
	if _, err := r.db.ExecContext(ctx, query, jobName, token); err != nil {
		return fmt.Errorf("release lock %s: %w", jobName, err)
	}
	return nil
}
