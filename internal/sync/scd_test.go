package sync

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/source"
)

func currentVersion(code, name, segment string) models.InstrumentVersion {
	return models.InstrumentVersion{
		ID:            "v-" + code,
		Code:          code,
		Name:          name,
		MarketSegment: segment,
		ValidFrom:     day("2020-01-01"),
		IsCurrent:     true,
	}
}

func TestApplyOpensVersionForNewCode(t *testing.T) {
	repo := &fakeInstrumentRepo{}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Prime"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Empty(t, repo.closedCodes)
	require.Len(t, repo.inserted, 1)
	v := repo.inserted[0]
	assert.Equal(t, "1234", v.Code)
	assert.Equal(t, day("2024-02-01"), v.ValidFrom)
	assert.True(t, v.IsCurrent)
	assert.Nil(t, v.ValidTo)
}

func TestApplyClosesAndReopensOnAttributeChange(t *testing.T) {
	repo := &fakeInstrumentRepo{current: []models.InstrumentVersion{
		currentVersion("1234", "Acme Corp", "Prime"),
	}}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Standard"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, int64(1), result.Closed)
	assert.Equal(t, []string{"1234"}, repo.closedCodes)
	// The old version's validTo equals the successor's validFrom, taken
	// from the snapshot's effective date.
	assert.Equal(t, day("2024-02-01"), repo.closedAt)
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "Standard", repo.inserted[0].MarketSegment)
	assert.Equal(t, day("2024-02-01"), repo.inserted[0].ValidFrom)
}

func TestApplyUnchangedInstrumentIsNoOp(t *testing.T) {
	repo := &fakeInstrumentRepo{current: []models.InstrumentVersion{
		currentVersion("1234", "Acme Corp", "Prime"),
	}}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Prime"}},
	})

	require.NoError(t, err)
	assert.Zero(t, result.Changed)
	assert.Empty(t, repo.closedCodes)
	assert.Empty(t, repo.inserted)
}

func TestApplyWhitespaceOnlyDifferenceIsNotAChange(t *testing.T) {
	repo := &fakeInstrumentRepo{current: []models.InstrumentVersion{
		currentVersion("1234", "Acme Corp", ""),
	}}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: " Acme Corp ", MarketSegment: " "}},
	})

	require.NoError(t, err)
	assert.Zero(t, result.Changed)
	assert.Empty(t, repo.inserted)
}

func TestApplyDelistsMissingCodeWithoutSuccessor(t *testing.T) {
	repo := &fakeInstrumentRepo{current: []models.InstrumentVersion{
		currentVersion("1234", "Acme Corp", "Prime"),
		currentVersion("5678", "Globex", "Standard"),
	}}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Prime"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Delisted)
	assert.Equal(t, []string{"5678"}, repo.closedCodes)
	assert.Empty(t, repo.inserted)
}

func TestApplyRefusesEmptySnapshot(t *testing.T) {
	repo := &fakeInstrumentRepo{current: []models.InstrumentVersion{
		currentVersion("1234", "Acme Corp", "Prime"),
	}}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	_, err := scd.Apply(context.Background(), source.InstrumentSnapshot{EffectiveDate: day("2024-02-01")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty instrument snapshot")
	assert.Empty(t, repo.closedCodes)
}

func TestApplyAbortsBeforeInsertsWhenCloseFails(t *testing.T) {
	repo := &fakeInstrumentRepo{
		current:  []models.InstrumentVersion{currentVersion("1234", "Acme Corp", "Prime")},
		closeErr: errors.New("deadlock detected"),
	}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	_, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Standard"}},
	})

	require.Error(t, err)
	// No insert may land next to a failed close; that would leave two
	// current rows for one code.
	assert.Empty(t, repo.inserted)
}

func TestApplyAbortsWhenCloseCountDisagrees(t *testing.T) {
	repo := &fakeInstrumentRepo{
		current:    []models.InstrumentVersion{currentVersion("1234", "Acme Corp", "Prime")},
		closeShort: true,
	}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	_, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments:   []models.Instrument{{Code: "1234", Name: "Acme Corp", MarketSegment: "Standard"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 rows, closed 0")
	assert.Empty(t, repo.inserted)
}

func TestApplyDeduplicatesSnapshotCodes(t *testing.T) {
	repo := &fakeInstrumentRepo{}
	scd := NewSCDSynchronizer(repo, 100, zerolog.Nop())

	result, err := scd.Apply(context.Background(), source.InstrumentSnapshot{
		EffectiveDate: day("2024-02-01"),
		Instruments: []models.Instrument{
			{Code: "1234", Name: "Acme Corp"},
			{Code: "1234", Name: "Acme Corp duplicate"},
			{Code: ""},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "Acme Corp", repo.inserted[0].Name)
}
