package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/demand-ledger-api/internal/hashchain"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

func newLedgerRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLedgerRepositoryCreateDemand(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO demands")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data_hash, seq FROM transactions")).
		WithArgs("dem-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	submittedAt := hashchain.Normalize(time.Now())
	demand := &models.Demand{
		ID:           "dem-1",
		Title:        "Fix the bridge",
		Description:  "The bridge on Main St is unsafe",
		CategoryID:   "infrastructure",
		ProposerID:   "citizen-1",
		ProposerName: "Alex Doe",
		Status:       models.DemandStatusPending,
		SubmittedAt:  submittedAt,
	}
	txn, err := repo.CreateDemand(context.Background(), demand)
	require.NoError(t, err)
	require.Equal(t, models.TxActionSubmitted, txn.Action)
	require.Equal(t, demand.Status, txn.PreviousStatus)
	require.Equal(t, demand.Status, txn.NewStatus)
	require.Equal(t, int64(1), txn.Seq)

	// Genesis record must chain off the sentinel fingerprint.
	expected := hashchain.Fingerprint(txn.ID, txn.DemandID, txn.UserID, string(txn.Action), txn.RecordedAt, hashchain.GenesisFingerprint)
	require.Equal(t, expected, txn.DataHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryAppendTransition(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demands SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data_hash, seq FROM transactions")).
		WithArgs("dem-1").
		WillReturnRows(sqlmock.NewRows([]string{"data_hash", "seq"}).AddRow("prevhash", int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reviewer := "rep-1"
	txn, err := repo.AppendTransition(context.Background(), TransitionParams{
		DemandID:       "dem-1",
		UserID:         reviewer,
		UserName:       "Rep One",
		Action:         models.TxActionReviewed,
		ExpectedStatus: models.DemandStatusPending,
		NewStatus:      models.DemandStatusReviewed,
		ReviewerID:     &reviewer,
	})
	require.NoError(t, err)
	require.Equal(t, models.DemandStatusPending, txn.PreviousStatus)
	require.Equal(t, models.DemandStatusReviewed, txn.NewStatus)
	require.Equal(t, int64(2), txn.Seq)

	expected := hashchain.Fingerprint(txn.ID, txn.DemandID, txn.UserID, string(txn.Action), txn.RecordedAt, "prevhash")
	require.Equal(t, expected, txn.DataHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryAppendTransitionStaleStatus(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demands SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("dem-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.AppendTransition(context.Background(), TransitionParams{
		DemandID:       "dem-1",
		UserID:         "rep-1",
		Action:         models.TxActionReviewed,
		ExpectedStatus: models.DemandStatusPending,
		NewStatus:      models.DemandStatusReviewed,
	})
	require.ErrorIs(t, err, appErrors.ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryAppendTransitionMissingDemand(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demands SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.AppendTransition(context.Background(), TransitionParams{
		DemandID:       "missing",
		UserID:         "rep-1",
		Action:         models.TxActionReviewed,
		ExpectedStatus: models.DemandStatusPending,
		NewStatus:      models.DemandStatusReviewed,
	})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryHistory(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "demand_id", "seq", "user_id", "user_name", "action", "previous_status", "new_status", "data_hash", "recorded_at"}).
		AddRow("tx-1", "dem-1", int64(1), "citizen-1", "Alex Doe", "SUBMITTED", "PENDING", "PENDING", "hash1", now).
		AddRow("tx-2", "dem-1", int64(2), "rep-1", "Rep One", "REVIEWED", "PENDING", "REVIEWED", "hash2", now.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, demand_id, seq, user_id")).
		WithArgs("dem-1").
		WillReturnRows(rows)

	txns, err := repo.History(context.Background(), "dem-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.Equal(t, "tx-1", txns[0].ID)
	require.Equal(t, "tx-2", txns[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
