package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/internal/hashchain"
	"github.com/opencivic/demand-ledger-api/internal/models"
	"github.com/opencivic/demand-ledger-api/internal/repository"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

// memoryLedgerStore is an in-memory reference implementation of the demand,
// ledger and vote stores. It honors the same atomicity contract as the SQL
// repositories: one mutex per demand serialises status transitions, vote
// counting and chain appends, so the real interleavings the sqlmock tests
// cannot produce are exercised against identical semantics.
type memoryLedgerStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	demands map[string]models.Demand
	chains  map[string][]models.Transaction
	voters  map[string]map[string]models.Vote

	// afterLoad, when set, runs after every GetByID snapshot; tests use it
	// to rendezvous goroutines on the same loaded view.
	afterLoad func()
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{
		locks:   make(map[string]*sync.Mutex),
		demands: make(map[string]models.Demand),
		chains:  make(map[string][]models.Transaction),
		voters:  make(map[string]map[string]models.Vote),
	}
}

func (s *memoryLedgerStore) lockFor(demandID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[demandID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[demandID] = l
	}
	return l
}

// appendLocked links, sequences and stores one transaction. Callers must hold
// the demand's mutex.
func (s *memoryLedgerStore) appendLocked(txn *models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[txn.DemandID]
	previous := hashchain.GenesisFingerprint
	if n := len(chain); n > 0 {
		previous = chain[n-1].DataHash
	}
	txn.Seq = int64(len(chain)) + 1
	txn.RecordedAt = hashchain.Normalize(txn.RecordedAt)
	txn.DataHash = hashchain.Fingerprint(txn.ID, txn.DemandID, txn.UserID, string(txn.Action), txn.RecordedAt, previous)
	s.chains[txn.DemandID] = append(chain, *txn)
}

func (s *memoryLedgerStore) seed(demand models.Demand) {
	l := s.lockFor(demand.ID)
	l.Lock()
	defer l.Unlock()
	if demand.SubmittedAt.IsZero() {
		demand.SubmittedAt = hashchain.Normalize(time.Now())
	}
	s.mu.Lock()
	s.demands[demand.ID] = demand
	s.mu.Unlock()
	s.appendLocked(&models.Transaction{
		ID:             uuid.NewString(),
		DemandID:       demand.ID,
		UserID:         demand.ProposerID,
		UserName:       demand.ProposerName,
		Action:         models.TxActionSubmitted,
		PreviousStatus: demand.Status,
		NewStatus:      demand.Status,
		RecordedAt:     demand.SubmittedAt,
	})
}

func (s *memoryLedgerStore) GetByID(ctx context.Context, id string) (*models.Demand, error) {
	s.mu.Lock()
	demand, ok := s.demands[id]
	s.mu.Unlock()
	if s.afterLoad != nil {
		s.afterLoad()
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := demand
	return &copied, nil
}

func (s *memoryLedgerStore) List(ctx context.Context, filter models.DemandFilter) ([]models.Demand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Demand, 0, len(s.demands))
	for _, d := range s.demands {
		out = append(out, d)
	}
	return out, nil
}

func (s *memoryLedgerStore) CreateDemand(ctx context.Context, demand *models.Demand) (*models.Transaction, error) {
	l := s.lockFor(demand.ID)
	l.Lock()
	defer l.Unlock()
	s.mu.Lock()
	s.demands[demand.ID] = *demand
	s.mu.Unlock()
	txn := &models.Transaction{
		ID:             uuid.NewString(),
		DemandID:       demand.ID,
		UserID:         demand.ProposerID,
		UserName:       demand.ProposerName,
		Action:         models.TxActionSubmitted,
		PreviousStatus: demand.Status,
		NewStatus:      demand.Status,
		RecordedAt:     demand.SubmittedAt,
	}
	s.appendLocked(txn)
	return txn, nil
}

func (s *memoryLedgerStore) AppendTransition(ctx context.Context, p repository.TransitionParams) (*models.Transaction, error) {
	l := s.lockFor(p.DemandID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	demand, ok := s.demands[p.DemandID]
	s.mu.Unlock()
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	if demand.Status != p.ExpectedStatus {
		return nil, appErrors.ErrConcurrentModification
	}

	demand.Status = p.NewStatus
	if p.ReviewerID != nil {
		demand.ReviewedBy = p.ReviewerID
	}
	if p.ApproverID != nil {
		demand.ApprovedBy = p.ApproverID
	}
	if p.ApprovedAt != nil {
		demand.ApprovedAt = p.ApprovedAt
	}
	if p.RejectedAt != nil {
		demand.RejectedAt = p.RejectedAt
	}
	s.mu.Lock()
	s.demands[p.DemandID] = demand
	s.mu.Unlock()

	txn := &models.Transaction{
		ID:             uuid.NewString(),
		DemandID:       p.DemandID,
		UserID:         p.UserID,
		UserName:       p.UserName,
		Action:         p.Action,
		PreviousStatus: p.ExpectedStatus,
		NewStatus:      p.NewStatus,
		RecordedAt:     time.Now(),
	}
	s.appendLocked(txn)
	return txn, nil
}

func (s *memoryLedgerStore) CastVote(ctx context.Context, demandID, voterID, voterName string) (*models.Vote, *models.Transaction, error) {
	l := s.lockFor(demandID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	demand, ok := s.demands[demandID]
	if ok {
		if _, dup := s.voters[demandID][voterID]; dup {
			s.mu.Unlock()
			return nil, nil, appErrors.ErrDuplicateVote
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, appErrors.ErrNotFound
	}
	if demand.Status != models.DemandStatusVotingOpen {
		return nil, nil, appErrors.ErrVotingClosed
	}

	vote := models.Vote{
		ID:       uuid.NewString(),
		DemandID: demandID,
		VoterID:  voterID,
		CastAt:   time.Now().UTC(),
	}
	demand.VoteCount++
	s.mu.Lock()
	if s.voters[demandID] == nil {
		s.voters[demandID] = make(map[string]models.Vote)
	}
	s.voters[demandID][voterID] = vote
	s.demands[demandID] = demand
	s.mu.Unlock()

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
	s.appendLocked(txn)
	return &vote, txn, nil
}

func (s *memoryLedgerStore) HasVoted(ctx context.Context, demandID, voterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.voters[demandID][voterID]
	return ok, nil
}

func (s *memoryLedgerStore) CountByDemand(ctx context.Context, demandID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.voters[demandID])), nil
}

func (s *memoryLedgerStore) History(ctx context.Context, demandID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[demandID]
	out := make([]models.Transaction, len(chain))
	copy(out, chain)
	return out, nil
}

func TestVoteServiceConcurrentVotersCountExact(t *testing.T) {
	store := newMemoryLedgerStore()
	store.seed(models.Demand{
		ID:           "dem-1",
		Title:        "Fix the bridge",
		ProposerID:   "citizen-0",
		ProposerName: "Alex Doe",
		Status:       models.DemandStatusVotingOpen,
	})
	svc := NewVoteService(store, nil, nil, nil, zap.NewNop())

	const voters = 24
	var wg sync.WaitGroup
	errCh := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := &models.JWTClaims{
				UserID:   fmt.Sprintf("citizen-%d", i+1),
				Role:     models.RoleCitizen,
				FullName: fmt.Sprintf("Citizen %d", i+1),
			}
			_, err := svc.CastVote(context.Background(), "dem-1", actor)
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	count, err := store.CountByDemand(context.Background(), "dem-1")
	require.NoError(t, err)
	require.Equal(t, int64(voters), count)

	demand, err := store.GetByID(context.Background(), "dem-1")
	require.NoError(t, err)
	require.Equal(t, int64(voters), demand.VoteCount, "counter must equal the number of distinct voters")

	// Concurrent appends must still leave one verifiable chain.
	ledgerSvc := NewLedgerService(store, nil, nil, nil, zap.NewNop())
	require.NoError(t, ledgerSvc.VerifyChain(context.Background(), "dem-1"))
}

func TestDemandServiceConcurrentApplySameView(t *testing.T) {
	store := newMemoryLedgerStore()
	store.seed(models.Demand{
		ID:           "dem-1",
		Title:        "Fix the bridge",
		ProposerID:   "citizen-1",
		ProposerName: "Alex Doe",
		Status:       models.DemandStatusForwarded,
	})

	// Hold both appliers until each has loaded the same FORWARDED view, so
	// the conditional write is the only thing deciding the race.
	var gate sync.WaitGroup
	gate.Add(2)
	var loads int32
	store.afterLoad = func() {
		if atomic.AddInt32(&loads, 1) <= 2 {
			gate.Done()
			gate.Wait()
		}
	}

	svc := NewDemandService(store, store, nil, zap.NewNop())

	results := make(chan error, 2)
	go func() {
		_, err := svc.Apply(context.Background(), "dem-1", models.ActionApprove, official())
		results <- err
	}()
	go func() {
		_, err := svc.Apply(context.Background(), "dem-1", models.ActionReject, official())
		results <- err
	}()

	var succeeded, conflicted int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, appErrors.ErrConcurrentModification):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one apply must win")
	require.Equal(t, 1, conflicted, "the loser must surface the conflict, not overwrite")

	demand, err := store.GetByID(context.Background(), "dem-1")
	require.NoError(t, err)
	require.True(t, demand.Status == models.DemandStatusApproved || demand.Status == models.DemandStatusRejected)

	history, err := store.History(context.Background(), "dem-1")
	require.NoError(t, err)
	require.Len(t, history, 2, "only the winning transition may append to the chain")
}
