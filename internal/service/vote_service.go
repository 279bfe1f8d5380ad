package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/internal/broadcast"
	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

type voteStore interface {
	CastVote(ctx context.Context, demandID, voterID, voterName string) (*models.Vote, *models.Transaction, error)
	HasVoted(ctx context.Context, demandID, voterID string) (bool, error)
	CountByDemand(ctx context.Context, demandID string) (int64, error)
}

// VoteService accepts citizen votes during the voting-open branch. The
// at-most-one-vote rule and counter correctness are enforced by the
// repository's storage constraints; this layer adds role gating and fan-out.
type VoteService struct {
	votes   voteStore
	events  broadcast.Broadcaster
	auditor auditEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewVoteService constructs the vote service. events, auditor and metrics
// are optional.
func NewVoteService(votes voteStore, events broadcast.Broadcaster, auditor auditEnqueuer, metrics *MetricsService, logger *zap.Logger) *VoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteService{
		votes:   votes,
		events:  events,
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
	}
}

// CastVote records one vote for the acting citizen. Duplicate votes are
// terminal rejections, never retried.
func (s *VoteService) CastVote(ctx context.Context, demandID string, actor *models.JWTClaims) (*dto.VoteResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleCitizen {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only citizens may vote")
	}

	vote, txn, err := s.votes.CastVote(ctx, demandID, actor.UserID, actor.FullName)
	if err != nil {
		if errors.Is(err, appErrors.ErrDuplicateVote) {
			s.metrics.IncDuplicateVote()
		}
		return nil, err
	}

	count, err := s.votes.CountByDemand(ctx, demandID)
	if err != nil {
		s.logger.Warn("count votes after cast failed", zap.String("demand_id", demandID), zap.Error(err))
	}

	s.metrics.IncVote()
	if s.events != nil {
		evt, err := broadcast.NewEvent("demand.voted", demandID, map[string]interface{}{
			"vote":        vote,
			"voteCount":   count,
			"transaction": txn,
		})
		if err != nil {
			s.logger.Warn("build vote event failed", zap.Error(err))
		} else {
			for _, topic := range []string{broadcast.TopicDemands, broadcast.DemandTopic(demandID)} {
				if err := s.events.Publish(ctx, topic, evt); err != nil {
					s.logger.Warn("publish vote event failed", zap.String("topic", topic), zap.Error(err))
					continue
				}
				s.metrics.IncEventPublished()
			}
		}
	}
	if s.auditor != nil {
		s.auditor.EnqueueVerify(demandID)
	}

	return &dto.VoteResponse{Vote: vote, VoteCount: count}, nil
}

// HasVoted reports whether the acting user already voted on the demand.
func (s *VoteService) HasVoted(ctx context.Context, demandID string, actor *models.JWTClaims) (*dto.VoteStatusResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	voted, err := s.votes.HasVoted(ctx, demandID, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &dto.VoteStatusResponse{DemandID: demandID, HasVoted: voted}, nil
}
