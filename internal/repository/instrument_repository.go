package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/quantello/marketsync/internal/models"
)

// InstrumentRepository stores type-2 history for listed instruments.
// The partial unique index on (code) WHERE is_current backs the engine's
// single-current-version invariant at the storage layer too.
type InstrumentRepository interface {
	CurrentVersions(ctx context.Context) ([]models.InstrumentVersion, error)
	// CloseVersions closes the current version of every listed code with
	// one conditional update and reports how many rows it actually closed.
	CloseVersions(ctx context.Context, codes []string, validTo time.Time) (int64, error)
	InsertVersions(ctx context.Context, versions []models.InstrumentVersion) (int64, error)
	LatestValidFrom(ctx context.Context) (time.Time, bool, error)
}

type instrumentRepository struct {
	db *sql.DB
}

func NewInstrumentRepository(db *sql.DB) InstrumentRepository {
	return &instrumentRepository{db: db}
}

func (r *instrumentRepository) CurrentVersions(ctx context.Context) ([]models.InstrumentVersion, error) {
	const query = `
		SELECT id, code, name, market_segment, sector, valid_from, valid_to, is_current
		FROM market.instrument_versions
		WHERE is_current
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query current versions: %w", err)
	}
	defer rows.Close()

	var versions []models.InstrumentVersion
	for rows.Next() {
		var v models.InstrumentVersion
		var name, segment, sector sql.NullString
		var validTo sql.NullTime
		if err := rows.Scan(&v.ID, &v.Code, &name, &segment, &sector, &v.ValidFrom, &validTo, &v.IsCurrent); err != nil {
			return nil, err
		}
		v.Name = name.String
		v.MarketSegment = segment.String
		v.Sector = sector.String
		v.ValidFrom = models.Midnight(v.ValidFrom)
		if validTo.Valid {
			t := models.Midnight(validTo.Time)
			v.ValidTo = &t
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *instrumentRepository) CloseVersions(ctx context.Context, codes []string, validTo time.Time) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	// One bulk conditional update per close-date group, not one write per
	// row. The is_current predicate keeps a replayed close harmless.
	const query = `
		UPDATE market.instrument_versions
		SET valid_to   = $1,
		    is_current = false
		WHERE is_current AND code = ANY($2)
	`
	res, err := r.db.ExecContext(ctx, query, models.Midnight(validTo), pq.Array(codes))
	if err != nil {
		return 0, fmt.Errorf("close instrument versions: %w", err)
	}
	return res.RowsAffected()
}

func (r *instrumentRepository) InsertVersions(ctx context.Context, versions []models.InstrumentVersion) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(versions))
	args := make([]interface{}, 0, len(versions)*6)
	for i, v := range versions {
		base := i * 6
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, NULL, true)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, v.ID, v.Code, nullIfEmpty(v.Name), nullIfEmpty(v.MarketSegment), nullIfEmpty(v.Sector), models.Midnight(v.ValidFrom))
	}

	// The conflict arm re-opens the same (code, valid_from) version on
	// replay instead of failing, so a retry after a partial insert is safe.
	query := fmt.Sprintf(`
		INSERT INTO market.instrument_versions (id, code, name, market_segment, sector, valid_from, valid_to, is_current)
		VALUES %s
		ON CONFLICT (code, valid_from) DO UPDATE
		SET name           = EXCLUDED.name,
		    market_segment = EXCLUDED.market_segment,
		    sector         = EXCLUDED.sector,
		    valid_to       = NULL,
		    is_current     = true
	`, strings.Join(values, ", "))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert instrument versions: %w", err)
	}
	return res.RowsAffected()
}

func (r *instrumentRepository) LatestValidFrom(ctx context.Context) (time.Time, bool, error) {
	const query = `
		SELECT max(valid_from)
		FROM market.instrument_versions
	`
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest valid_from: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return models.Midnight(latest.Time), true, nil
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
