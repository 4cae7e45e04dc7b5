package sync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/rs/zerolog"
)

// PlanConfig bounds a catch-up plan.
type PlanConfig struct {
	LookbackDays int
	MaxBatch     int
}

// Planner reconciles the trading calendar against the success log to find
// business days a job has missed.
type Planner struct {
	calendar repository.CalendarRepository
	runs     repository.RunRepository
	logger   zerolog.Logger
}

func NewPlanner(calendar repository.CalendarRepository, runs repository.RunRepository, logger zerolog.Logger) *Planner {
	return &Planner{
		calendar: calendar,
		runs:     runs,
		logger:   logger.With().Str("component", "planner").Logger(),
	}
}

// Plan returns the ascending business days in [anchor-lookback, anchor]
// without a successful run for jobName, truncated to MaxBatch. An empty
// calendar yields an empty plan: calendar population is itself a
// synchronized dataset and may legitimately not exist yet, so "no anchor"
// means "nothing to do", not failure.
func (p *Planner) Plan(ctx context.Context, jobName string, cfg PlanConfig) ([]time.Time, error) {
	now := time.Now().UTC()

	anchor, ok, err := p.calendar.LatestBusinessDayOnOrBefore(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "resolve anchor day")
	}
	if !ok {
		p.logger.Info().Str("job", jobName).Msg("calendar empty; nothing to plan")
		return nil, nil
	}

	from := anchor.AddDate(0, 0, -cfg.LookbackDays)
	days, err := p.calendar.BusinessDaysBetween(ctx, from, anchor)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate business days")
	}
	if len(days) == 0 {
		return nil, nil
	}

	// One bulk query for the whole window; never one query per date.
	done, err := p.runs.SuccessfulDates(ctx, jobName, days)
	if err != nil {
		return nil, errors.Wrap(err, "load successful run dates")
	}

	plan := make([]time.Time, 0, len(days))
	for _, day := range days {
		if !done[models.Midnight(day)] {
			plan = append(plan, day)
		}
	}
	if cfg.MaxBatch > 0 && len(plan) > cfg.MaxBatch {
		plan = plan[:cfg.MaxBatch]
	}

	p.logger.Info().
		Str("job", jobName).
		Time("anchor", anchor).
		Int("window_days", len(days)).
		Int("planned", len(plan)).
		Msg("catch-up plan computed")
	return plan, nil
}

// Anchor exposes the most recent completed business day so callers can
// fall back to "process the anchor" when the plan is empty.
func (p *Planner) Anchor(ctx context.Context) (time.Time, bool, error) {
	return p.calendar.LatestBusinessDayOnOrBefore(ctx, time.Now().UTC())
}
