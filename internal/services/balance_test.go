package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanda/internal/core"
	"chanda/internal/storage"
)

var yearRows = []string{
	"id", "club_id", "name", "start_date", "end_date", "frequency",
	"total_installments", "amount_cents", "opening_cents", "closing_cents",
	"is_active", "is_closed", "created_at", "updated_at",
}

func mockYearRow(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM years").
		WillReturnRows(sqlmock.NewRows(yearRows).
			AddRow("y1", "club-1", "2026", nil, nil, "monthly",
				10, 5000, 0, 0, true, false, nil, nil))
}

func TestComputeBalance_UnresolvedYearIsComputationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	q := storage.NewQueries(db)

	mock.ExpectQuery("SELECT (.+) FROM years").WillReturnError(sql.ErrNoRows)

	_, err = ComputeBalance(context.Background(), q, "club-1", "y-missing", core.Money{})
	require.Error(t, err)
	assert.True(t, core.IsComputation(err),
		"a balance against a dangling year id must never be produced")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeBalance_FailedAggregationIsComputationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	q := storage.NewQueries(db)

	mockYearRow(mock)
	mock.ExpectQuery("SELECT COALESCE").WillReturnError(sql.ErrConnDone)

	_, err = ComputeBalance(context.Background(), q, "club-1", "y1", core.Money{})
	require.Error(t, err)
	assert.True(t, core.IsComputation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeBalance_SumsAllSources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	q := storage.NewQueries(db)

	mockYearRow(mock)
	for _, total := range []int64{10000, 2500, 50000, 30000} {
		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(total))
	}

	balance, err := ComputeBalance(context.Background(), q, "club-1", "y1", core.Money{Cents: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000+10000+2500+50000-30000), balance.Cents)
	assert.NoError(t, mock.ExpectationsWereMet())
}
