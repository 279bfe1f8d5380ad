package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

// VoteRepository enforces the one-vote-per-voter rule and keeps the demand's
// vote counter exact. Both guarantees live at the storage layer: the
// (demand_id, voter_id) unique constraint makes the duplicate check atomic
// with the insert, and the counter update is a relative increment so
// concurrent votes from different users never lose updates.
type VoteRepository struct {
	db *sqlx.DB
}

// NewVoteRepository constructs the repository.
func NewVoteRepository(db *sqlx.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// CastVote records a vote, increments the counter and appends the chained
// VOTED transaction as one atomic unit. The counter UPDATE is conditioned on
// the demand still being open for voting and row-locks it, serialising the
// ledger append.
func (r *VoteRepository) CastVote(ctx context.Context, demandID, voterID, voterName string) (*models.Vote, *models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "begin cast vote")
	}
	defer tx.Rollback() //nolint:errcheck

	vote := &models.Vote{
		ID:       uuid.NewString(),
		DemandID: demandID,
		VoterID:  voterID,
		CastAt:   time.Now().UTC(),
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO votes (id, demand_id, voter_id, cast_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (demand_id, voter_id) DO NOTHING`,
		vote.ID, vote.DemandID, vote.VoterID, vote.CastAt)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "insert vote")
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "insert vote")
	}
	if inserted == 0 {
		return nil, nil, appErrors.ErrDuplicateVote
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE demands SET vote_count = vote_count + 1 WHERE id = $1 AND status = $2`,
		demandID, models.DemandStatusVotingOpen)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "increment vote count")
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "increment vote count")
	}
	if updated == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM demands WHERE id = $1)`, demandID); err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "check demand existence")
		}
		if !exists {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, appErrors.ErrVotingClosed
	}

	txn := &models.Transaction{
		ID:             uuid.NewString(),
		DemandID:       demandID,
		UserID:         voterID,
		UserName:       voterName,
		Action:         models.TxActionVoted,
		PreviousStatus: models.DemandStatusVotingOpen,
		NewStatus:      models.DemandStatusVotingOpen,
		RecordedAt:     vote.CastAt,
	}
	if err := appendTransactionTx(ctx, tx, txn); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "commit cast vote")
	}
	return vote, txn, nil
}

// HasVoted reports whether the voter already cast a vote on the demand.
func (r *VoteRepository) HasVoted(ctx context.Context, demandID, voterID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE demand_id = $1 AND voter_id = $2)`,
		demandID, voterID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "check vote existence")
	}
	return exists, nil
}

// CountByDemand returns the authoritative number of votes for a demand.
func (r *VoteRepository) CountByDemand(ctx context.Context, demandID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM votes WHERE demand_id = $1`, demandID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "count votes")
	}
	return count, nil
}
