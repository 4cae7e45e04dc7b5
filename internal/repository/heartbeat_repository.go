package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quantello/marketsync/internal/models"
)

type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb models.JobHeartbeat) error
	List(ctx context.Context) ([]models.JobHeartbeat, error)
}

type heartbeatRepository struct {
	db *sql.DB
}

func NewHeartbeatRepository(db *sql.DB) HeartbeatRepository {
	return &heartbeatRepository{db: db}
}

func (r *heartbeatRepository) Upsert(ctx context.Context, hb models.JobHeartbeat) error {
	const query = `
		INSERT INTO market.job_heartbeats (job_name, last_seen_at, last_status, last_run_id, last_target_date, last_error)
		VALUES ($1, now(), $2, $3, $4, $5)
		ON CONFLICT (job_name) DO UPDATE
		SET last_seen_at     = now(),
		    last_status      = EXCLUDED.last_status,
		    last_run_id      = EXCLUDED.last_run_id,
		    last_target_date = EXCLUDED.last_target_date,
		    last_error       = EXCLUDED.last_error
	`
	var target interface{}
	if hb.LastTargetDate != nil {
		target = models.Midnight(*hb.LastTargetDate)
	}
	_, err := r.db.ExecContext(ctx, query, hb.JobName, hb.LastStatus, hb.LastRunID, target, hb.LastError)
	if err != nil {
		return fmt.Errorf("upsert heartbeat %s: %w", hb.JobName, err)
	}
	return nil
}

func (r *heartbeatRepository) List(ctx context.Context) ([]models.JobHeartbeat, error) {
	const query = `
		SELECT job_name, last_seen_at, last_status, last_run_id, last_target_date, last_error
		FROM market.job_heartbeats
		ORDER BY job_name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beats []models.JobHeartbeat
	for rows.Next() {
		var hb models.JobHeartbeat
		var runID, lastErr sql.NullString
		var target sql.NullTime
		if err := rows.Scan(&hb.JobName, &hb.LastSeenAt, &hb.LastStatus, &runID, &target, &lastErr); err != nil {
			return nil, err
		}
		if runID.Valid {
			hb.LastRunID = &runID.String
		}
		if target.Valid {
			t := models.Midnight(target.Time)
			hb.LastTargetDate = &t
		}
		if lastErr.Valid {
			hb.LastError = &lastErr.String
		}
		beats = append(beats, hb)
	}
	return beats, rows.Err()
}
