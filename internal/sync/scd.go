package sync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/quantello/marketsync/internal/source"
	"github.com/rs/zerolog"
)

// SCDResult summarizes one type-2 refresh.
type SCDResult struct {
	Inserted int64
	Closed   int64
	Delisted int
	Changed  int
	Added    int
}

// SCDSynchronizer applies a fresh instrument snapshot against the current
// version set as type-2 history: new codes open a version, changed codes
// close and re-open, codes missing from the snapshot are closed as
// delistings with no successor.
type SCDSynchronizer struct {
	repo      repository.InstrumentRepository
	batchSize int
	logger    zerolog.Logger
}

func NewSCDSynchronizer(repo repository.InstrumentRepository, batchSize int, logger zerolog.Logger) *SCDSynchronizer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SCDSynchronizer{
		repo:      repo,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "scd").Logger(),
	}
}

// Apply runs one refresh. The effective date comes from the snapshot the
// provider actually served, never from the date the caller asked for: the
// upstream silently substitutes the next available date for holidays, and
// using the requested date would break validFrom/validTo continuity.
//
// Closes are applied before any insert and must fully succeed first. A
// successful insert next to a failed close would leave two current rows
// for one code.
func (s *SCDSynchronizer) Apply(ctx context.Context, snapshot source.InstrumentSnapshot) (SCDResult, error) {
	var result SCDResult
	if len(snapshot.Instruments) == 0 {
		// An empty snapshot would delist the entire market; treat it as a
		// bad fetch rather than a mass closure.
		return result, errors.New("refusing to apply empty instrument snapshot")
	}
	effective := models.Midnight(snapshot.EffectiveDate)
	if effective.IsZero() {
		return result, errors.New("snapshot has no effective date")
	}

	current, err := s.repo.CurrentVersions(ctx)
	if err != nil {
		return result, errors.Wrap(err, "load current versions")
	}
	currentByCode := make(map[string]models.InstrumentVersion, len(current))
	for _, v := range current {
		currentByCode[v.Code] = v
	}

	var inserts []models.InstrumentVersion
	// Closes grouped by target validTo, one bulk update per distinct date,
	// so write volume scales with the number of close dates, not entities.
	closesByDate := make(map[time.Time][]string)
	seen := make(map[string]bool, len(snapshot.Instruments))

	for _, inst := range snapshot.Instruments {
		if inst.Code == "" || seen[inst.Code] {
			continue
		}
		seen[inst.Code] = true

		cur, exists := currentByCode[inst.Code]
		switch {
		case !exists:
			inserts = append(inserts, newVersion(inst, effective))
			result.Added++
		case instrumentChanged(cur, inst):
			closesByDate[effective] = append(closesByDate[effective], inst.Code)
			inserts = append(inserts, newVersion(inst, effective))
			result.Changed++
		}
	}

	for code := range currentByCode {
		if !seen[code] {
			closesByDate[effective] = append(closesByDate[effective], code)
			result.Delisted++
		}
	}

	for validTo, codes := range closesByDate {
		closed, err := s.repo.CloseVersions(ctx, codes, validTo)
		if err != nil {
			return result, errors.Wrap(err, "close versions; aborting before inserts")
		}
		if closed != int64(len(codes)) {
			return result, errors.Errorf("close versions: expected %d rows, closed %d; aborting before inserts", len(codes), closed)
		}
		result.Closed += closed
	}

	batch, err := WriteBatches(ctx, len(inserts), BatchOptions{Size: s.batchSize}, func(ctx context.Context, start, end int) (int64, error) {
		return s.repo.InsertVersions(ctx, inserts[start:end])
	})
	result.Inserted = batch.Written
	if err != nil {
		return result, errors.Wrap(err, "insert versions")
	}

	s.logger.Info().
		Time("effective", effective).
		Int("added", result.Added).
		Int("changed", result.Changed).
		Int("delisted", result.Delisted).
		Int64("closed", result.Closed).
		Int64("inserted", result.Inserted).
		Msg("instrument refresh applied")
	return result, nil
}

func newVersion(inst models.Instrument, validFrom time.Time) models.InstrumentVersion {
	return models.InstrumentVersion{
		ID:            uuid.NewString(),
		Code:          inst.Code,
		Name:          inst.Name,
		MarketSegment: inst.MarketSegment,
		Sector:        inst.Sector,
		ValidFrom:     validFrom,
		IsCurrent:     true,
	}
}

// instrumentChanged compares the attribute set that participates in
// change detection. Widening it changes version-churn behavior for every
// tracked instrument.
func instrumentChanged(cur models.InstrumentVersion, inst models.Instrument) bool {
	return !attrEqual(cur.Name, inst.Name) ||
		!attrEqual(cur.MarketSegment, inst.MarketSegment) ||
		!attrEqual(cur.Sector, inst.Sector)
}

// attrEqual treats NULL-in-store and absent-in-source as the same value;
// the two sides encode "missing" differently.
func attrEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
