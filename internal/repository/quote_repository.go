package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quantello/marketsync/internal/models"
)

// QuoteRepository writes end-of-day quotes. Each call is one multi-row
// upsert keyed on (code, trade_date); the batch writer above it decides
// chunk boundaries.
type QuoteRepository interface {
	UpsertQuotes(ctx context.Context, quotes []models.DailyQuote) (int64, error)
	// LatestQuoteDate feeds the integrity checker's freshness probe.
	LatestQuoteDate(ctx context.Context) (time.Time, bool, error)
}

type quoteRepository struct {
	db *sql.DB
}

func NewQuoteRepository(db *sql.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

func (r *quoteRepository) UpsertQuotes(ctx context.Context, quotes []models.DailyQuote) (int64, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(quotes))
	args := make([]interface{}, 0, len(quotes)*8)
	for i, q := range quotes {
		base := i * 8
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, q.Code, models.Midnight(q.TradeDate), q.Open, q.High, q.Low, q.Close, q.Volume, q.Turnover)
	}

	query := fmt.Sprintf(`
		INSERT INTO market.daily_quotes (code, trade_date, open, high, low, close, volume, turnover)
		VALUES %s
		ON CONFLICT (code, trade_date) DO UPDATE
		SET open       = EXCLUDED.open,
		    high       = EXCLUDED.high,
		    low        = EXCLUDED.low,
		    close      = EXCLUDED.close,
		    volume     = EXCLUDED.volume,
		    turnover   = EXCLUDED.turnover,
		    updated_at = now()
	`, strings.Join(values, ", "))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert daily quotes: %w", err)
	}
	return res.RowsAffected()
}

func (r *quoteRepository) LatestQuoteDate(ctx context.Context) (time.Time, bool, error) {
	const query = `
		SELECT max(trade_date)
		FROM market.daily_quotes
	`
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest quote date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return models.Midnight(latest.Time), true, nil
}
