package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/rs/zerolog"
)

// Lease is a granted claim of exclusivity for one job name.
type Lease struct {
	JobName string
	Token   string
	Until   time.Time
}

// LeaseLocker grants time-boxed exclusive leases backed by job_locks rows.
// Losing the race is the expected outcome for a second concurrent
// invocation and is reported as granted=false, never as an error.
type LeaseLocker struct {
	repo   repository.LockRepository
	logger zerolog.Logger
}

func NewLeaseLocker(repo repository.LockRepository, logger zerolog.Logger) *LeaseLocker {
	return &LeaseLocker{
		repo:   repo,
		logger: logger.With().Str("component", "lease_locker").Logger(),
	}
}

func (l *LeaseLocker) Acquire(ctx context.Context, jobName string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	until := time.Now().UTC().Add(ttl)

	granted, err := l.repo.TryAcquire(ctx, jobName, token, until)
	if err != nil {
		return Lease{}, false, err
	}
	if !granted {
		l.logger.Info().Str("job", jobName).Msg("lease held by another invocation")
		return Lease{}, false, nil
	}
	return Lease{JobName: jobName, Token: token, Until: until}, true, nil
}

// Release expires the lease if we still own it. A failure here is logged
// and dropped: the TTL is the cleanup of last resort and the job's outcome
// is already decided.
func (l *LeaseLocker) Release(ctx context.Context, lease Lease) {
	if err := l.repo.Release(ctx, lease.JobName, lease.Token); err != nil {
		l.logger.Warn().Err(err).Str("job", lease.JobName).Msg("failed to release lease; TTL will expire it")
	}
}
