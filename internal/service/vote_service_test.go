package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

type stubVoteStore struct {
	vote  *models.Vote
	txn   *models.Transaction
	count int64
	voted bool
	err   error
}

func (s *stubVoteStore) CastVote(ctx context.Context, demandID, voterID, voterName string) (*models.Vote, *models.Transaction, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.vote, s.txn, nil
}

func (s *stubVoteStore) HasVoted(ctx context.Context, demandID, voterID string) (bool, error) {
	return s.voted, s.err
}

func (s *stubVoteStore) CountByDemand(ctx context.Context, demandID string) (int64, error) {
	return s.count, nil
}

func TestVoteServiceCastVote(t *testing.T) {
	store := &stubVoteStore{
		vote:  &models.Vote{ID: "vote-1", DemandID: "dem-1", VoterID: "citizen-1", CastAt: time.Now()},
		txn:   &models.Transaction{ID: "tx-1", Action: models.TxActionVoted},
		count: 5,
	}
	auditor := &stubAuditor{}
	svc := NewVoteService(store, nil, auditor, nil, zap.NewNop())

	result, err := svc.CastVote(context.Background(), "dem-1", citizen())
	require.NoError(t, err)
	assert.Equal(t, "vote-1", result.Vote.ID)
	assert.Equal(t, int64(5), result.VoteCount)
	assert.Equal(t, []string{"dem-1"}, auditor.enqueued)
}

func TestVoteServiceCastVoteRejectsNonCitizens(t *testing.T) {
	svc := NewVoteService(&stubVoteStore{}, nil, nil, nil, zap.NewNop())

	for _, actor := range []*models.JWTClaims{representative(), official(), admin()} {
		_, err := svc.CastVote(context.Background(), "dem-1", actor)
		assert.ErrorIs(t, err, appErrors.ErrForbidden, "role %s", actor.Role)
	}
}

func TestVoteServiceCastVoteDuplicate(t *testing.T) {
	store := &stubVoteStore{err: appErrors.ErrDuplicateVote}
	svc := NewVoteService(store, nil, nil, nil, zap.NewNop())

	_, err := svc.CastVote(context.Background(), "dem-1", citizen())
	assert.ErrorIs(t, err, appErrors.ErrDuplicateVote)
}

func TestVoteServiceCastVoteClosed(t *testing.T) {
	store := &stubVoteStore{err: appErrors.ErrVotingClosed}
	svc := NewVoteService(store, nil, nil, nil, zap.NewNop())

	_, err := svc.CastVote(context.Background(), "dem-1", citizen())
	assert.ErrorIs(t, err, appErrors.ErrVotingClosed)
}

func TestVoteServiceHasVoted(t *testing.T) {
	svc := NewVoteService(&stubVoteStore{voted: true}, nil, nil, nil, zap.NewNop())

	result, err := svc.HasVoted(context.Background(), "dem-1", citizen())
	require.NoError(t, err)
	assert.True(t, result.HasVoted)
	assert.Equal(t, "dem-1", result.DemandID)
}
