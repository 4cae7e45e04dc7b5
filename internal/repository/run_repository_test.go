package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantello/marketsync/internal/models"
)

func TestFinishRunRejectsNonTerminalStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewRunRepository(db).FinishRun(context.Background(), "run-1", models.RunStatusRunning, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid terminal status")
}

func TestFinishRunFailsWhenAlreadyFinished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// status = 'running' in the WHERE clause means a second finish
	// matches nothing; the zero row count must surface as an error.
	mock.ExpectExec("UPDATE market.job_runs").
		WithArgs(models.RunStatusSuccess, nil, nil, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewRunRepository(db).FinishRun(context.Background(), "run-1", models.RunStatusSuccess, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunRecordsSummaryAndMeta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	summary := "fetch quotes: HTTP 503"
	mock.ExpectExec("UPDATE market.job_runs").
		WithArgs(models.RunStatusFailed, &summary, sqlmock.AnyArg(), "run-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRunRepository(db).FinishRun(context.Background(), "run-2", models.RunStatusFailed, &summary, map[string]interface{}{"pages": 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccessfulDatesBulkQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dates := []time.Time{
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectQuery("SELECT DISTINCT target_date").
		WithArgs("quotes", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"target_date"}).
			AddRow(dates[0]).
			AddRow(dates[2]))

	done, err := NewRunRepository(db).SuccessfulDates(context.Background(), "quotes", dates)
	require.NoError(t, err)
	assert.True(t, done[dates[0]])
	assert.False(t, done[dates[1]])
	assert.True(t, done[dates[2]])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccessfulDatesEmptyInputSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	done, err := NewRunRepository(db).SuccessfulDates(context.Background(), "quotes", nil)
	require.NoError(t, err)
	assert.Empty(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}
