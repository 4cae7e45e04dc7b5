package sync

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/quantello/marketsync/internal/source"
	"github.com/rs/zerolog"
)

// Job names. Each is independently lockable; different jobs may run
// concurrently, the same job never runs concurrently with itself.
const (
	JobCalendar    = "calendar"
	JobQuotes      = "quotes"
	JobInstruments = "instruments"
	JobIntegrity   = "integrity"
)

// errorSummaryLimit caps what lands in job_runs.error_summary.
const errorSummaryLimit = 2000

// RunParams selects what a single invocation should do. TargetDate forces
// one specific date; ContinuationToken resumes a paginated run; with
// neither, the gap planner decides.
type RunParams struct {
	JobName           string     `json:"job_name"`
	TargetDate        *time.Time `json:"target_date,omitempty"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
}

// RunResult is the structured outcome every invocation resolves to; no
// error crosses the invocation boundary unhandled. A non-empty
// ContinuationToken means "call again with this token to keep going".
type RunResult struct {
	JobName           string     `json:"job_name"`
	Success           bool       `json:"success"`
	Skipped           bool       `json:"skipped,omitempty"`
	RunID             string     `json:"run_id,omitempty"`
	TargetDate        *time.Time `json:"target_date,omitempty"`
	Fetched           int64      `json:"fetched"`
	Written           int64      `json:"written"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// FailureNotifier delivers best-effort alerts; implementations must never
// let their own failure surface into the run outcome.
type FailureNotifier interface {
	NotifyJobFailed(ctx context.Context, jobName, runID, errMsg string, meta map[string]interface{})
	NotifyIntegrityWarnings(ctx context.Context, warnings []string)
}

// RunnerConfig bounds a single invocation.
type RunnerConfig struct {
	LeaseTTL              time.Duration
	LookbackDays          int
	MaxBatch              int
	MaxPagesPerInvocation int
	CalendarBackDays      int
	CalendarForwardDays   int
	CalendarChunkSize     int
	QuoteChunkSize        int
}

func (c *RunnerConfig) applyDefaults() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 5
	}
	if c.MaxPagesPerInvocation <= 0 {
		c.MaxPagesPerInvocation = 20
	}
	if c.CalendarBackDays <= 0 {
		c.CalendarBackDays = 365
	}
	if c.CalendarForwardDays <= 0 {
		c.CalendarForwardDays = 90
	}
	if c.CalendarChunkSize <= 0 {
		c.CalendarChunkSize = 1000
	}
	if c.QuoteChunkSize <= 0 {
		c.QuoteChunkSize = 400
	}
}

// Runner executes one bounded job invocation end to end: lease, run log,
// target resolution, dataset sync, heartbeat, notification, release.
type Runner struct {
	cfg         RunnerConfig
	client      source.Client
	calendar    repository.CalendarRepository
	runs        repository.RunRepository
	quotes      repository.QuoteRepository
	instruments repository.InstrumentRepository
	locker      *LeaseLocker
	heartbeat   *HeartbeatRecorder
	planner     *Planner
	scd         *SCDSynchronizer
	integrity   *IntegrityChecker
	notifier    FailureNotifier
	logger      zerolog.Logger
}

func NewRunner(
	cfg RunnerConfig,
	client source.Client,
	calendar repository.CalendarRepository,
	runs repository.RunRepository,
	quotes repository.QuoteRepository,
	instruments repository.InstrumentRepository,
	locker *LeaseLocker,
	heartbeat *HeartbeatRecorder,
	planner *Planner,
	scd *SCDSynchronizer,
	integrity *IntegrityChecker,
	notifier FailureNotifier,
	logger zerolog.Logger,
) *Runner {
	cfg.applyDefaults()
	return &Runner{
		cfg:         cfg,
		client:      client,
		calendar:    calendar,
		runs:        runs,
		quotes:      quotes,
		instruments: instruments,
		locker:      locker,
		heartbeat:   heartbeat,
		planner:     planner,
		scd:         scd,
		integrity:   integrity,
		notifier:    notifier,
		logger:      logger.With().Str("component", "runner").Logger(),
	}
}

// RunJob is the single synchronous entry point. Safe to call repeatedly:
// re-running any job never corrupts state, and a denied lease is a clean
// no-op, not a failure of the system.
func (r *Runner) RunJob(ctx context.Context, params RunParams) RunResult {
	result := RunResult{JobName: params.JobName}

	switch params.JobName {
	case JobCalendar, JobQuotes, JobInstruments, JobIntegrity:
	default:
		result.Error = fmt.Sprintf("unknown job %q", params.JobName)
		return result
	}

	lease, granted, err := r.locker.Acquire(ctx, params.JobName, r.cfg.LeaseTTL)
	if err != nil {
		result.Error = truncate(fmt.Sprintf("acquire lease: %v", err), errorSummaryLimit)
		return result
	}
	if !granted {
		// Another invocation holds the lease. No side effects, not an
		// error: the caller simply tries again later.
		result.Skipped = true
		result.Error = "another invocation is active"
		return result
	}
	defer r.locker.Release(ctx, lease)

	switch params.JobName {
	case JobCalendar:
		return r.runCalendar(ctx)
	case JobQuotes:
		return r.runQuotes(ctx, params)
	case JobInstruments:
		return r.runInstruments(ctx)
	default:
		return r.runIntegrity(ctx)
	}
}

func (r *Runner) runCalendar(ctx context.Context) RunResult {
	result := RunResult{JobName: JobCalendar}

	run, err := r.runs.CreateRun(ctx, JobCalendar, nil)
	if err != nil {
		return r.failEarly(ctx, result, errors.Wrap(err, "create run"))
	}
	result.RunID = run.ID

	today := models.Midnight(time.Now())
	from := today.AddDate(0, 0, -r.cfg.CalendarBackDays)
	to := today.AddDate(0, 0, r.cfg.CalendarForwardDays)

	days, err := r.client.TradingCalendar(ctx, from, to)
	if err != nil {
		return r.fail(ctx, run, result, errors.Wrap(err, "fetch trading calendar"))
	}
	result.Fetched = int64(len(days))

	batch, err := WriteBatches(ctx, len(days), BatchOptions{Size: r.cfg.CalendarChunkSize}, func(ctx context.Context, start, end int) (int64, error) {
		return r.calendar.UpsertDays(ctx, days[start:end])
	})
	result.Written = batch.Written
	if err != nil {
		return r.fail(ctx, run, result, errors.Wrap(err, "write trading calendar"))
	}

	return r.succeed(ctx, run, result, map[string]interface{}{
		"from": from.Format(models.DateLayout),
		"to":   to.Format(models.DateLayout),
	})
}

func (r *Runner) runQuotes(ctx context.Context, params RunParams) RunResult {
	result := RunResult{JobName: JobQuotes}

	var (
		dates  []time.Time
		cursor string
	)
	switch {
	case params.ContinuationToken != "":
		date, c, err := DecodeContinuation(params.ContinuationToken)
		if err != nil {
			return r.failEarly(ctx, result, err)
		}
		dates, cursor = []time.Time{date}, c
	case params.TargetDate != nil:
		dates = []time.Time{models.Midnight(*params.TargetDate)}
	default:
		plan, err := r.planner.Plan(ctx, JobQuotes, PlanConfig{LookbackDays: r.cfg.LookbackDays, MaxBatch: r.cfg.MaxBatch})
		if err != nil {
			return r.failEarly(ctx, result, err)
		}
		if len(plan) == 0 {
			anchor, ok, err := r.planner.Anchor(ctx)
			if err != nil {
				return r.failEarly(ctx, result, err)
			}
			if !ok {
				// Empty calendar: nothing to do, and that is a success.
				result.Success = true
				result.Skipped = true
				r.heartbeat.Record(ctx, JobQuotes, models.RunStatusSuccess, nil, nil, nil)
				return result
			}
			plan = []time.Time{anchor}
		}
		dates = plan
	}

	pagesLeft := r.cfg.MaxPagesPerInvocation
	for _, date := range dates {
		dateResult := r.syncQuoteDate(ctx, date, cursor, &pagesLeft)
		cursor = ""

		result.RunID = dateResult.RunID
		result.Fetched += dateResult.Fetched
		result.Written += dateResult.Written
		if dateResult.Error != "" {
			result.Error = dateResult.Error
			return result
		}
		if dateResult.ContinuationToken != "" {
			// Page budget exhausted: hand the cursor back instead of
			// blocking. The external caller loops until no token returns.
			result.Success = true
			result.ContinuationToken = dateResult.ContinuationToken
			return result
		}
		result.TargetDate = dateResult.TargetDate
	}

	result.Success = true
	return result
}

// syncQuoteDate ingests one trade date, creating and finishing its own
// JobRun. The run's target_date is stamped only when the date completes,
// so a run that returns a continuation token never counts as the date's
// success for gap detection.
func (r *Runner) syncQuoteDate(ctx context.Context, date time.Time, cursor string, pagesLeft *int) RunResult {
	result := RunResult{JobName: JobQuotes}

	run, err := r.runs.CreateRun(ctx, JobQuotes, nil)
	if err != nil {
		return r.failEarly(ctx, result, errors.Wrap(err, "create run"))
	}
	result.RunID = run.ID

	var pages int64
	for {
		if *pagesLeft <= 0 {
			result.ContinuationToken = EncodeContinuation(date, cursor)
			return r.succeed(ctx, run, result, map[string]interface{}{
				"resume_date": date.Format(models.DateLayout),
				"pages":       pages,
				"partial":     true,
			})
		}

		page, err := r.client.DailyQuotes(ctx, date, cursor)
		if err != nil {
			return r.fail(ctx, run, result, errors.Wrapf(err, "fetch quotes for %s", date.Format(models.DateLayout)))
		}
		pages++
		*pagesLeft--
		result.Fetched += int64(len(page.Quotes))

		batch, err := WriteBatches(ctx, len(page.Quotes), BatchOptions{Size: r.cfg.QuoteChunkSize}, func(ctx context.Context, start, end int) (int64, error) {
			return r.quotes.UpsertQuotes(ctx, page.Quotes[start:end])
		})
		result.Written += batch.Written
		if err != nil {
			return r.fail(ctx, run, result, errors.Wrapf(err, "write quotes for %s", date.Format(models.DateLayout)))
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := r.markDateDone(ctx, run.ID, date); err != nil {
		return r.fail(ctx, run, result, err)
	}
	target := models.Midnight(date)
	result.TargetDate = &target

	item := models.JobRunItem{RunID: run.ID, Dataset: "daily_quotes", Status: models.RunStatusSuccess, RowCount: result.Written, PageCount: pages}
	if err := r.runs.UpsertRunItem(ctx, item); err != nil {
		r.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run item")
	}

	return r.succeed(ctx, run, result, map[string]interface{}{
		"date":  date.Format(models.DateLayout),
		"pages": pages,
	})
}

// markDateDone stamps the run's target date unless an earlier run already
// recorded success for it; the partial unique index allows only one
// success row per (job, date), and replays of an already-synced date are
// legitimate.
func (r *Runner) markDateDone(ctx context.Context, runID string, date time.Time) error {
	done, err := r.runs.SuccessfulDates(ctx, JobQuotes, []time.Time{date})
	if err != nil {
		return errors.Wrap(err, "check prior success")
	}
	if done[models.Midnight(date)] {
		return nil
	}
	return r.runs.SetRunTargetDate(ctx, runID, date)
}

func (r *Runner) runInstruments(ctx context.Context) RunResult {
	result := RunResult{JobName: JobInstruments}

	run, err := r.runs.CreateRun(ctx, JobInstruments, nil)
	if err != nil {
		return r.failEarly(ctx, result, errors.Wrap(err, "create run"))
	}
	result.RunID = run.ID

	snapshot, err := r.client.ListedInstruments(ctx)
	if err != nil {
		return r.fail(ctx, run, result, errors.Wrap(err, "fetch listed instruments"))
	}
	result.Fetched = int64(len(snapshot.Instruments))

	applied, err := r.scd.Apply(ctx, snapshot)
	result.Written = applied.Inserted + applied.Closed
	if err != nil {
		return r.fail(ctx, run, result, errors.Wrap(err, "apply instrument refresh"))
	}

	item := models.JobRunItem{RunID: run.ID, Dataset: "instrument_versions", Status: models.RunStatusSuccess, RowCount: result.Written, PageCount: 1}
	if err := r.runs.UpsertRunItem(ctx, item); err != nil {
		r.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run item")
	}

	return r.succeed(ctx, run, result, map[string]interface{}{
		"effective_date": snapshot.EffectiveDate.Format(models.DateLayout),
		"added":          applied.Added,
		"changed":        applied.Changed,
		"delisted":       applied.Delisted,
	})
}

func (r *Runner) runIntegrity(ctx context.Context) RunResult {
	result := RunResult{JobName: JobIntegrity}

	run, err := r.runs.CreateRun(ctx, JobIntegrity, nil)
	if err != nil {
		return r.failEarly(ctx, result, errors.Wrap(err, "create run"))
	}
	result.RunID = run.ID

	// Advisory by contract: warnings never fail the job.
	result.Warnings = r.integrity.Check(ctx)
	if len(result.Warnings) > 0 && r.notifier != nil {
		r.notifier.NotifyIntegrityWarnings(ctx, result.Warnings)
	}

	return r.succeed(ctx, run, result, map[string]interface{}{
		"warnings": len(result.Warnings),
	})
}

func (r *Runner) succeed(ctx context.Context, run models.JobRun, result RunResult, meta map[string]interface{}) RunResult {
	if err := r.runs.FinishRun(ctx, run.ID, models.RunStatusSuccess, nil, meta); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to finish run")
	}
	r.heartbeat.Record(ctx, result.JobName, models.RunStatusSuccess, &run.ID, result.TargetDate, nil)
	result.Success = true
	result.Error = ""
	return result
}

// failEarly records a failure that happened before a JobRun row existed
// (token or plan resolution, run creation). The heartbeat is the only
// durable trace on these paths, so staleness alerting still sees them.
func (r *Runner) failEarly(ctx context.Context, result RunResult, cause error) RunResult {
	summary := truncate(cause.Error(), errorSummaryLimit)
	result.Success = false
	result.Error = summary
	r.heartbeat.Record(ctx, result.JobName, models.RunStatusFailed, nil, nil, &summary)
	r.logger.Error().Err(cause).Str("job", result.JobName).Msg("job failed before a run was recorded")
	return result
}

func (r *Runner) fail(ctx context.Context, run models.JobRun, result RunResult, cause error) RunResult {
	summary := truncate(cause.Error(), errorSummaryLimit)
	result.Success = false
	result.Error = summary

	if err := r.runs.FinishRun(ctx, run.ID, models.RunStatusFailed, &summary, nil); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to record run failure")
	}
	r.heartbeat.Record(ctx, result.JobName, models.RunStatusFailed, &run.ID, result.TargetDate, &summary)

	if r.notifier != nil {
		r.notifier.NotifyJobFailed(ctx, result.JobName, run.ID, summary, map[string]interface{}{
			"fetched": result.Fetched,
			"written": result.Written,
		})
	}

	r.logger.Error().Err(cause).Str("job", result.JobName).Str("run_id", run.ID).Msg("job run failed")
	return result
}

// truncate caps s at limit bytes without splitting a multi-byte rune.
// Error text can embed provider response bodies in any script, and the
// database rejects invalid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
