package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/internal/broadcast"
	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/hashchain"
	"github.com/opencivic/demand-ledger-api/internal/models"
	"github.com/opencivic/demand-ledger-api/internal/repository"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

const demandListCacheTTL = 30 * time.Second

type demandStore interface {
	GetByID(ctx context.Context, id string) (*models.Demand, error)
	List(ctx context.Context, filter models.DemandFilter) ([]models.Demand, error)
}

type ledgerAppender interface {
	CreateDemand(ctx context.Context, demand *models.Demand) (*models.Transaction, error)
	AppendTransition(ctx context.Context, p repository.TransitionParams) (*models.Transaction, error)
}

type listCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditEnqueuer interface {
	EnqueueVerify(demandID string)
}

// transitionKey identifies one row of the lifecycle table.
type transitionKey struct {
	from   models.DemandStatus
	action models.LifecycleAction
}

type transitionRule struct {
	role     models.UserRole
	next     models.DemandStatus
	txAction models.TransactionAction
}

// transitionTable is the single source of truth for the role-gated lifecycle.
// Any (status, action) pair missing here is an invalid transition; a present
// pair with the wrong actor role is a forbidden one.
var transitionTable = map[transitionKey]transitionRule{
	{models.DemandStatusPending, models.ActionReview}:   {models.RoleRepresentative, models.DemandStatusReviewed, models.TxActionReviewed},
	{models.DemandStatusPending, models.ActionForward}:  {models.RoleRepresentative, models.DemandStatusForwarded, models.TxActionForwarded},
	{models.DemandStatusPending, models.ActionReject}:   {models.RoleRepresentative, models.DemandStatusRejected, models.TxActionRejected},
	{models.DemandStatusForwarded, models.ActionApprove}: {models.RoleOfficial, models.DemandStatusApproved, models.TxActionApproved},
	{models.DemandStatusForwarded, models.ActionReject}:  {models.RoleOfficial, models.DemandStatusRejected, models.TxActionRejected},
	{models.DemandStatusVotingOpen, models.ActionClose}:  {models.RoleAdmin, models.DemandStatusPending, models.TxActionVotingClosed},
}

// DemandService is the authoritative lifecycle state machine. It validates
// role-gated transitions, delegates the atomic write to the ledger
// repository, and fans the resulting snapshot out to observers.
type DemandService struct {
	demands   demandStore
	ledger    ledgerAppender
	cache     listCache
	events    broadcast.Broadcaster
	auditor   auditEnqueuer
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// DemandServiceOption configures the service.
type DemandServiceOption func(*DemandService)

// WithDemandCache attaches the advisory list cache.
func WithDemandCache(cache listCache) DemandServiceOption {
	return func(s *DemandService) { s.cache = cache }
}

// WithDemandAuditor attaches the asynchronous chain auditor.
func WithDemandAuditor(auditor auditEnqueuer) DemandServiceOption {
	return func(s *DemandService) { s.auditor = auditor }
}

// WithDemandMetrics attaches Prometheus instrumentation.
func WithDemandMetrics(metrics *MetricsService) DemandServiceOption {
	return func(s *DemandService) { s.metrics = metrics }
}

// NewDemandService constructs the lifecycle service.
func NewDemandService(demands demandStore, ledger ledgerAppender, events broadcast.Broadcaster, logger *zap.Logger, opts ...DemandServiceOption) *DemandService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &DemandService{
		demands:   demands,
		ledger:    ledger,
		events:    events,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a demand from a citizen submission, appending the genesis
// ledger record in the same storage transaction.
func (s *DemandService) Submit(ctx context.Context, req dto.SubmitDemandRequest, actor *models.JWTClaims) (*dto.TransitionResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleCitizen {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only citizens may submit demands")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demand payload")
	}

	status := models.DemandStatusPending
	if req.OpenForVoting {
		status = models.DemandStatusVotingOpen
	}
	submittedAt := hashchain.Normalize(time.Now())
	demand := &models.Demand{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		CategoryID:   req.CategoryID,
		ProposerID:   actor.UserID,
		ProposerName: actor.FullName,
		Status:       status,
		VoteCount:    0,
		SubmittedAt:  submittedAt,
	}
	demand.ContentHash = hashchain.ContentFingerprint(demand.Title, demand.Description, demand.CategoryID, demand.ProposerID, submittedAt)

	txn, err := s.ledger.CreateDemand(ctx, demand)
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, "demand.submitted", demand, txn)
	s.metrics.IncTransition(string(txn.Action), string(demand.Status))
	return &dto.TransitionResponse{Demand: demand, Transaction: txn}, nil
}

// Apply validates and executes one lifecycle transition. The write is
// optimistic on the status read here; a concurrent transition surfaces as
// ErrConcurrentModification and the caller retries from fresh state.
func (s *DemandService) Apply(ctx context.Context, demandID string, action models.LifecycleAction, actor *models.JWTClaims) (*dto.TransitionResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	demand, err := s.demands.GetByID(ctx, demandID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "load demand")
	}

	rule, ok := transitionTable[transitionKey{from: demand.Status, action: action}]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("action %q is not legal from status %s", action, demand.Status))
	}
	if actor.Role != rule.role {
		return nil, appErrors.Clone(appErrors.ErrForbidden,
			fmt.Sprintf("action %q requires role %s", action, rule.role))
	}

	params := repository.TransitionParams{
		DemandID:       demand.ID,
		UserID:         actor.UserID,
		UserName:       actor.FullName,
		Action:         rule.txAction,
		ExpectedStatus: demand.Status,
		NewStatus:      rule.next,
	}
	now := time.Now().UTC()
	switch demand.Status {
	case models.DemandStatusPending:
		params.ReviewerID = &actor.UserID
	case models.DemandStatusForwarded:
		params.ApproverID = &actor.UserID
	}
	switch rule.next {
	case models.DemandStatusApproved:
		params.ApprovedAt = &now
	case models.DemandStatusRejected:
		params.RejectedAt = &now
	}

	txn, err := s.ledger.AppendTransition(ctx, params)
	if err != nil {
		return nil, err
	}

	updated, err := s.demands.GetByID(ctx, demandID)
	if err != nil {
		// The transition committed; surface the snapshot we can reconstruct.
		s.logger.Warn("reload after transition failed", zap.String("demand_id", demandID), zap.Error(err))
		demand.Status = rule.next
		updated = demand
	}

	s.afterChange(ctx, "demand.transitioned", updated, txn)
	s.metrics.IncTransition(string(rule.txAction), string(rule.next))
	return &dto.TransitionResponse{Demand: updated, Transaction: txn}, nil
}

// Get returns a single demand.
func (s *DemandService) Get(ctx context.Context, id string) (*models.Demand, error) {
	demand, err := s.demands.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "load demand")
	}
	return demand, nil
}

// List returns demands matching the query, served from the advisory cache
// when possible.
func (s *DemandService) List(ctx context.Context, query dto.DemandQuery) ([]models.Demand, error) {
	filter := models.DemandFilter{
		Status:     query.Status,
		CategoryID: query.CategoryID,
		ProposerID: query.ProposerID,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}

	cacheKey := listCacheKey(filter)
	if s.cache != nil {
		var cached []models.Demand
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	demands, err := s.demands.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "list demands")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, demands, demandListCacheTTL); err != nil {
			s.logger.Warn("cache demand list failed", zap.Error(err))
		}
	}
	return demands, nil
}

// afterChange publishes the new snapshot, invalidates list caches and
// schedules an asynchronous chain audit. All side effects are best-effort;
// the authoritative write already committed.
func (s *DemandService) afterChange(ctx context.Context, eventType string, demand *models.Demand, txn *models.Transaction) {
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "demands:list:*"); err != nil {
			s.logger.Warn("invalidate demand list cache failed", zap.Error(err))
		}
	}

	if s.events != nil {
		evt, err := broadcast.NewEvent(eventType, demand.ID, dto.TransitionResponse{Demand: demand, Transaction: txn})
		if err != nil {
			s.logger.Warn("build broadcast event failed", zap.Error(err))
		} else {
			for _, topic := range []string{broadcast.TopicDemands, broadcast.DemandTopic(demand.ID)} {
				if err := s.events.Publish(ctx, topic, evt); err != nil {
					s.logger.Warn("publish broadcast event failed", zap.String("topic", topic), zap.Error(err))
					continue
				}
				s.metrics.IncEventPublished()
			}
		}
	}

	if s.auditor != nil {
		s.auditor.EnqueueVerify(demand.ID)
	}
}

func listCacheKey(filter models.DemandFilter) string {
	statuses := make([]string, len(filter.Status))
	for i, st := range filter.Status {
		statuses[i] = string(st)
	}
	return fmt.Sprintf("demands:list:%s:%s:%s:%d:%d",
		strings.Join(statuses, ","), filter.CategoryID, filter.ProposerID, filter.Limit, filter.Offset)
}
