package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/quantello/marketsync/internal/models"
)

// RunRepository is the job execution log. Runs are created as running and
// finished exactly once; the partial unique index on
// (job_name, target_date) WHERE status = 'success' is what gap detection
// builds on.
type RunRepository interface {
	CreateRun(ctx context.Context, jobName string, targetDate *time.Time) (models.JobRun, error)
	FinishRun(ctx context.Context, runID, status string, errorSummary *string, meta map[string]interface{}) error
	SetRunTargetDate(ctx context.Context, runID string, targetDate time.Time) error
	SuccessfulDates(ctx context.Context, jobName string, dates []time.Time) (map[time.Time]bool, error)
	UpsertRunItem(ctx context.Context, item models.JobRunItem) error
	GetRun(ctx context.Context, runID string) (models.JobRun, error)
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]models.JobRun, error)
	LatestSuccess(ctx context.Context, jobName string) (time.Time, bool, error)
}

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(ctx context.Context, jobName string, targetDate *time.Time) (models.JobRun, error) {
	run := models.JobRun{
		JobName:    jobName,
		TargetDate: targetDate,
		Status:     models.RunStatusRunning,
	}
	const query = `
		INSERT INTO market.job_runs (job_name, target_date, status, started_at)
		VALUES ($1, $2, 'running', now())
		RETURNING id, started_at
	`
	var td interface{}
	if targetDate != nil {
		td = models.Midnight(*targetDate)
	}
	err := r.db.QueryRowContext(ctx, query, jobName, td).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return run, fmt.Errorf("create run for %s: %w", jobName, err)
	}
	return run, nil
}

func (r *runRepository) FinishRun(ctx context.Context, runID, status string, errorSummary *string, meta map[string]interface{}) error {
	if status != models.RunStatusSuccess && status != models.RunStatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	var metaJSON interface{}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal run meta: %w", err)
		}
		metaJSON = raw
	}

	const query = `
		UPDATE market.job_runs
		SET status        = $1,
		    finished_at   = now(),
		    error_summary = $2,
		    meta          = COALESCE($3, meta)
		WHERE id = $4 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, status, errorSummary, metaJSON, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("run not found or already finished")
	}
	return nil
}

// SetRunTargetDate stamps the target date on a run that resolved it after
// starting (catch-up runs create the row before planning).
func (r *runRepository) SetRunTargetDate(ctx context.Context, runID string, targetDate time.Time) error {
	const query = `
		UPDATE market.job_runs
		SET target_date = $1
		WHERE id = $2 AND status = 'running'
	`
	_, err := r.db.ExecContext(ctx, query, models.Midnight(targetDate), runID)
	if err != nil {
		return fmt.Errorf("set run target date: %w", err)
	}
	return nil
}

// SuccessfulDates returns, in one bulk query, the subset of dates that
// already have a successful run for the job. One query per plan, never one
// per date.
func (r *runRepository) SuccessfulDates(ctx context.Context, jobName string, dates []time.Time) (map[time.Time]bool, error) {
	if len(dates) == 0 {
		return map[time.Time]bool{}, nil
	}
	normalized := make([]time.Time, len(dates))
	for i, d := range dates {
		normalized[i] = models.Midnight(d)
	}

	const query = `
		SELECT DISTINCT target_date
		FROM market.job_runs
		WHERE job_name = $1
		  AND status = 'success'
		  AND target_date = ANY($2)
	`
	rows, err := r.db.QueryContext(ctx, query, jobName, pq.Array(normalized))
	if err != nil {
		return nil, fmt.Errorf("query successful dates for %s: %w", jobName, err)
	}
	defer rows.Close()

	done := make(map[time.Time]bool, len(dates))
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		done[models.Midnight(d)] = true
	}
	return done, rows.Err()
}

func (r *runRepository) UpsertRunItem(ctx context.Context, item models.JobRunItem) error {
	const query = `
		INSERT INTO market.job_run_items (run_id, dataset, status, row_count, page_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, dataset) DO UPDATE
		SET status     = EXCLUDED.status,
		    row_count  = EXCLUDED.row_count,
		    page_count = EXCLUDED.page_count
	`
	_, err := r.db.ExecContext(ctx, query, item.RunID, item.Dataset, item.Status, item.RowCount, item.PageCount)
	if err != nil {
		return fmt.Errorf("upsert run item: %w", err)
	}
	return nil
}

func (r *runRepository) GetRun(ctx context.Context, runID string) (models.JobRun, error) {
	const query = `
		SELECT id, job_name, target_date, status, started_at, finished_at, error_summary, meta
		FROM market.job_runs
		WHERE id = $1
	`
	var run models.JobRun
	var target sql.NullTime
	var finished sql.NullTime
	var errSummary sql.NullString
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID,
		&run.JobName,
		&target,
		&run.Status,
		&run.StartedAt,
		&finished,
		&errSummary,
		&run.Meta,
	)
	if err == sql.ErrNoRows {
		return run, errors.New("run not found")
	}
	if err != nil {
		return run, err
	}
	if target.Valid {
		t := models.Midnight(target.Time)
		run.TargetDate = &t
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	if errSummary.Valid {
		run.ErrorSummary = &errSummary.String
	}
	return run, nil
}

func (r *runRepository) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]models.JobRun, error) {
	const query = `
		SELECT id, job_name, target_date, status, started_at, finished_at, error_summary, meta
		FROM market.job_runs
		WHERE ($1 = '' OR job_name = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, jobName, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]models.JobRun, 0, limit)
	for rows.Next() {
		var run models.JobRun
		var target, finished sql.NullTime
		var errSummary sql.NullString
		if err := rows.Scan(
			&run.ID,
			&run.JobName,
			&target,
			&run.Status,
			&run.StartedAt,
			&finished,
			&errSummary,
			&run.Meta,
		); err != nil {
			return nil, err
		}
		if target.Valid {
			t := models.Midnight(target.Time)
			run.TargetDate = &t
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		if errSummary.Valid {
			run.ErrorSummary = &errSummary.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *runRepository) LatestSuccess(ctx context.Context, jobName string) (time.Time, bool, error) {
	const query = `
		SELECT max(finished_at)
		FROM market.job_runs
		WHERE job_name = $1 AND status = 'success'
	`
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, jobName).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest success for %s: %w", jobName, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}
