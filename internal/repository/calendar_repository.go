package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quantello/marketsync/internal/models"
)

// CalendarRepository answers "is this a business day" style questions from
// the stored trading calendar and ingests calendar windows from the source.
type CalendarRepository interface {
	UpsertDays(ctx context.Context, days []models.CalendarDay) (int64, error)
	IsBusinessDay(ctx context.Context, day time.Time) (bool, error)
	BusinessDaysBetween(ctx context.Context, from, to time.Time) ([]time.Time, error)
	LatestBusinessDayOnOrBefore(ctx context.Context, t time.Time) (time.Time, bool, error)
	CoverageBounds(ctx context.Context) (min, max time.Time, ok bool, err error)
}

type calendarRepository struct {
	db *sql.DB
}

func NewCalendarRepository(db *sql.DB) CalendarRepository {
	return &calendarRepository{db: db}
}

// UpsertDays writes a calendar window as one multi-row conflict-resolving
// insert. Re-delivering the same window is a no-op on identical data.
func (r *calendarRepository) UpsertDays(ctx context.Context, days []models.CalendarDay) (int64, error) {
	if len(days) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(days))
	args := make([]interface{}, 0, len(days)*2)
	for i, d := range days {
		values = append(values, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, models.Midnight(d.Day), d.IsBusinessDay)
	}

	query := fmt.Sprintf(`
		INSERT INTO market.trading_calendar (day, is_business_day)
		VALUES %s
		ON CONFLICT (day) DO UPDATE
		SET is_business_day = EXCLUDED.is_business_day,
		    updated_at      = now()
	`, strings.Join(values, ", "))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert calendar days: %w", err)
	}
	return res.RowsAffected()
}

func (r *calendarRepository) IsBusinessDay(ctx context.Context, day time.Time) (bool, error) {
	const query = `
		SELECT is_business_day
		FROM market.trading_calendar
		WHERE day = $1
	`
	var isBusiness bool
	err := r.db.QueryRowContext(ctx, query, models.Midnight(day)).Scan(&isBusiness)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query business day: %w", err)
	}
	return isBusiness, nil
}

func (r *calendarRepository) BusinessDaysBetween(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	const query = `
		SELECT day
		FROM market.trading_calendar
		WHERE day BETWEEN $1 AND $2 AND is_business_day
		ORDER BY day ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.Midnight(from), models.Midnight(to))
	if err != nil {
		return nil, fmt.Errorf("query business days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, models.Midnight(d))
	}
	return days, rows.Err()
}

// LatestBusinessDayOnOrBefore returns the gap detector's anchor. ok=false
// means the calendar has no business day at or before t, which a caller
// must treat as "nothing to do", not as an error.
func (r *calendarRepository) LatestBusinessDayOnOrBefore(ctx context.Context, t time.Time) (time.Time, bool, error) {
	const query = `
		SELECT day
		FROM market.trading_calendar
		WHERE day <= $1 AND is_business_day
		ORDER BY day DESC
		LIMIT 1
	`
	var d time.Time
	err := r.db.QueryRowContext(ctx, query, models.Midnight(t)).Scan(&d)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query anchor day: %w", err)
	}
	return models.Midnight(d), true, nil
}

func (r *calendarRepository) CoverageBounds(ctx context.Context) (time.Time, time.Time, bool, error) {
	const query = `
		SELECT min(day), max(day)
		FROM market.trading_calendar
	`
	var min, max sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&min, &max); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("query calendar bounds: %w", err)
	}
	if !min.Valid || !max.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return models.Midnight(min.Time), models.Midnight(max.Time), true, nil
}
