package sync

import (
	"context"
	"time"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/rs/zerolog"
)

// StaleAfterDaily is the reference staleness threshold for daily jobs; the
// read path that applies it lives with external alerting.
const StaleAfterDaily = 25 * time.Hour

// HeartbeatRecorder upserts last-seen state per job. It is strictly
// best-effort: its own failures are logged and swallowed so the caller's
// primary work is never aborted by monitoring plumbing.
type HeartbeatRecorder struct {
	repo   repository.HeartbeatRepository
	logger zerolog.Logger
}

func NewHeartbeatRecorder(repo repository.HeartbeatRepository, logger zerolog.Logger) *HeartbeatRecorder {
	return &HeartbeatRecorder{
		repo:   repo,
		logger: logger.With().Str("component", "heartbeat").Logger(),
	}
}

func (h *HeartbeatRecorder) Record(ctx context.Context, jobName, status string, runID *string, targetDate *time.Time, lastErr *string) {
	hb := models.JobHeartbeat{
		JobName:        jobName,
		LastStatus:     status,
		LastRunID:      runID,
		LastTargetDate: targetDate,
		LastError:      lastErr,
	}
	if err := h.repo.Upsert(ctx, hb); err != nil {
		h.logger.Warn().Err(err).Str("job", jobName).Msg("heartbeat update failed")
	}
}
