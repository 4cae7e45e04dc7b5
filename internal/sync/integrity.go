package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/rs/zerolog"
)

// IntegrityConfig tunes the advisory probes. Freshness thresholds are in
// business days so weekends and holidays don't trip false positives.
type IntegrityConfig struct {
	CalendarWindowDays     int
	QuoteStaleBusinessDays int
	InstrumentStaleDays    int
}

// IntegrityChecker runs cross-dataset consistency probes. It only ever
// reports warnings; deciding whether a warning becomes an alert is the
// caller's business, and a probe's own query failure is itself a warning.
type IntegrityChecker struct {
	cfg         IntegrityConfig
	calendar    repository.CalendarRepository
	runs        repository.RunRepository
	quotes      repository.QuoteRepository
	instruments repository.InstrumentRepository
	logger      zerolog.Logger
}

func NewIntegrityChecker(
	cfg IntegrityConfig,
	calendar repository.CalendarRepository,
	runs repository.RunRepository,
	quotes repository.QuoteRepository,
	instruments repository.InstrumentRepository,
	logger zerolog.Logger,
) *IntegrityChecker {
	if cfg.CalendarWindowDays <= 0 {
		cfg.CalendarWindowDays = 30
	}
	if cfg.QuoteStaleBusinessDays <= 0 {
		cfg.QuoteStaleBusinessDays = 2
	}
	if cfg.InstrumentStaleDays <= 0 {
		cfg.InstrumentStaleDays = 10
	}
	return &IntegrityChecker{
		cfg:         cfg,
		calendar:    calendar,
		runs:        runs,
		quotes:      quotes,
		instruments: instruments,
		logger:      logger.With().Str("component", "integrity").Logger(),
	}
}

// Check runs all probes and returns human-readable warnings. It never
// fails its caller.
func (c *IntegrityChecker) Check(ctx context.Context) []string {
	var warnings []string
	warnings = append(warnings, c.checkCalendarCoverage(ctx)...)
	warnings = append(warnings, c.checkQuoteFreshness(ctx)...)
	warnings = append(warnings, c.checkInstrumentFreshness(ctx)...)

	for _, w := range warnings {
		c.logger.Warn().Msg(w)
	}
	return warnings
}

func (c *IntegrityChecker) checkCalendarCoverage(ctx context.Context) []string {
	today := models.Midnight(time.Now())
	wantMin := today.AddDate(0, 0, -c.cfg.CalendarWindowDays)
	wantMax := today.AddDate(0, 0, c.cfg.CalendarWindowDays)

	min, max, ok, err := c.calendar.CoverageBounds(ctx)
	if err != nil {
		return []string{fmt.Sprintf("calendar coverage probe failed: %v", err)}
	}
	if !ok {
		return []string{"trading calendar is empty"}
	}

	var warnings []string
	if min.After(wantMin) {
		warnings = append(warnings, fmt.Sprintf(
			"calendar history starts %s, want %s or earlier",
			min.Format(models.DateLayout), wantMin.Format(models.DateLayout)))
	}
	if max.Before(wantMax) {
		warnings = append(warnings, fmt.Sprintf(
			"calendar forward window ends %s, want %s or later",
			max.Format(models.DateLayout), wantMax.Format(models.DateLayout)))
	}
	return warnings
}

func (c *IntegrityChecker) checkQuoteFreshness(ctx context.Context) []string {
	latest, ok, err := c.quotes.LatestQuoteDate(ctx)
	if err != nil {
		return []string{fmt.Sprintf("quote freshness probe failed: %v", err)}
	}
	if !ok {
		return []string{"no daily quotes stored yet"}
	}

	days, err := c.calendar.BusinessDaysBetween(ctx, latest.AddDate(0, 0, 1), models.Midnight(time.Now()))
	if err != nil {
		return []string{fmt.Sprintf("quote freshness probe failed: %v", err)}
	}
	if missed := len(days); missed > c.cfg.QuoteStaleBusinessDays {
		return []string{fmt.Sprintf(
			"daily quotes stale: latest is %s, %d business days behind (threshold %d)",
			latest.Format(models.DateLayout), missed, c.cfg.QuoteStaleBusinessDays)}
	}
	return nil
}

func (c *IntegrityChecker) checkInstrumentFreshness(ctx context.Context) []string {
	if _, ok, err := c.instruments.LatestValidFrom(ctx); err != nil {
		return []string{fmt.Sprintf("instrument freshness probe failed: %v", err)}
	} else if !ok {
		return []string{"no instrument versions stored yet"}
	}

	// Refresh recency is measured off the run log, not valid_from: a
	// market with no listing changes still refreshes on schedule.
	latest, ok, err := c.runs.LatestSuccess(ctx, "instruments")
	if err != nil {
		return []string{fmt.Sprintf("instrument freshness probe failed: %v", err)}
	}
	if !ok {
		return []string{"instruments job has never succeeded"}
	}
	if age := int(time.Since(latest).Hours() / 24); age > c.cfg.InstrumentStaleDays {
		return []string{fmt.Sprintf(
			"instrument refresh stale: last successful run %s, %d days ago (threshold %d)",
			latest.Format(models.DateLayout), age, c.cfg.InstrumentStaleDays)}
	}
	return nil
}
