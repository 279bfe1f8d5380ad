package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencivic/demand-ledger-api/internal/hashchain"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
)

const transactionColumns = `id, demand_id, seq, user_id, user_name, action, previous_status, new_status,
       data_hash, recorded_at`

const insertTransactionSQL = `INSERT INTO transactions
	(id, demand_id, seq, user_id, user_name, action, previous_status, new_status, data_hash, recorded_at)
	VALUES (:id, :demand_id, :seq, :user_id, :user_name, :action, :previous_status, :new_status, :data_hash, :recorded_at)`

// LedgerRepository owns every write that touches a demand's transaction chain.
// Each logical operation runs inside a single database transaction so the
// demand mutation and the chained ledger record commit or fail together. The
// conditional demand UPDATE row-locks the demand, serialising concurrent
// appends to the same chain.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TransitionParams groups the demand mutation and the ledger record for one
// status transition. ExpectedStatus carries the optimistic-concurrency
// precondition: the write only applies while the demand still holds it.
type TransitionParams struct {
	DemandID       string
	UserID         string
	UserName       string
	Action         models.TransactionAction
	ExpectedStatus models.DemandStatus
	NewStatus      models.DemandStatus
	ReviewerID     *string
	ApproverID     *string
	ApprovedAt     *time.Time
	RejectedAt     *time.Time
}

// CreateDemand inserts a new demand together with its genesis SUBMITTED
// transaction as one atomic unit.
func (r *LedgerRepository) CreateDemand(ctx context.Context, demand *models.Demand) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "begin create demand")
	}
	defer tx.Rollback() //nolint:errcheck

	const insertDemand = `INSERT INTO demands
	(id, title, description, category_id, proposer_id, proposer_name, status, vote_count, content_hash, submitted_at)
	VALUES (:id, :title, :description, :category_id, :proposer_id, :proposer_name, :status, :vote_count, :content_hash, :submitted_at)`
	if _, err := tx.NamedExecContext(ctx, insertDemand, demand); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "insert demand")
	}

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
	if err := appendTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "commit create demand")
	}
	return txn, nil
}

// AppendTransition applies a status transition and appends its chained ledger
// record. Returns ErrConcurrentModification when the demand no longer holds
// the expected status, ErrNotFound when it does not exist.
func (r *LedgerRepository) AppendTransition(ctx context.Context, p TransitionParams) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "begin transition")
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{"status = :status"}
	updateArgs := map[string]interface{}{
		"id":       p.DemandID,
		"expected": p.ExpectedStatus,
		"status":   p.NewStatus,
	}
	if p.ReviewerID != nil {
		setParts = append(setParts, "reviewed_by = :reviewed_by")
		updateArgs["reviewed_by"] = *p.ReviewerID
	}
	if p.ApproverID != nil {
		setParts = append(setParts, "approved_by = :approved_by")
		updateArgs["approved_by"] = *p.ApproverID
	}
	if p.ApprovedAt != nil {
		setParts = append(setParts, "approved_at = :approved_at")
		updateArgs["approved_at"] = *p.ApprovedAt
	}
	if p.RejectedAt != nil {
		setParts = append(setParts, "rejected_at = :rejected_at")
		updateArgs["rejected_at"] = *p.RejectedAt
	}
	query := fmt.Sprintf("UPDATE demands SET %s WHERE id = :id AND status = :expected", strings.Join(setParts, ", "))

	result, err := tx.NamedExecContext(ctx, query, updateArgs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "update demand status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "update demand status")
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM demands WHERE id = $1)`, p.DemandID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "check demand existence")
		}
		if !exists {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.ErrConcurrentModification
	}

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
	if err := appendTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "commit transition")
	}
	return txn, nil
}

// History returns a demand's transactions ascending by sequence number, the
// same order the hash links were written in. The result is complete every
// time; callers may re-request at will.
func (r *LedgerRepository) History(ctx context.Context, demandID string) ([]models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE demand_id = $1 ORDER BY seq ASC`, transactionColumns)
	var txns []models.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, demandID); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// GetTransaction fetches a single ledger record.
func (r *LedgerRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	var txn models.Transaction
	if err := r.db.GetContext(ctx, &txn, query, id); err != nil {
		return nil, err
	}
	return &txn, nil
}

// appendTransactionTx reads the chain-predecessor fingerprint, assigns the
// next per-demand sequence number, computes the record's data hash and inserts
// it, all inside the caller's transaction. The caller must already hold the
// demand row lock so two appends to the same chain cannot read the same
// predecessor or claim the same sequence number.
func appendTransactionTx(ctx context.Context, tx *sqlx.Tx, txn *models.Transaction) error {
	previous := hashchain.GenesisFingerprint
	var latest struct {
		DataHash string `db:"data_hash"`
		Seq      int64  `db:"seq"`
	}
	err := tx.GetContext(ctx, &latest,
		`SELECT data_hash, seq FROM transactions WHERE demand_id = $1 ORDER BY seq DESC LIMIT 1`,
		txn.DemandID)
	switch {
	case err == nil:
		previous = latest.DataHash
		txn.Seq = latest.Seq + 1
	case errors.Is(err, sql.ErrNoRows):
		// first link of the chain
		txn.Seq = 1
	default:
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "read chain predecessor")
	}

	txn.RecordedAt = hashchain.Normalize(txn.RecordedAt)
	txn.DataHash = hashchain.Fingerprint(txn.ID, txn.DemandID, txn.UserID, string(txn.Action), txn.RecordedAt, previous)

	if _, err := tx.NamedExecContext(ctx, insertTransactionSQL, txn); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "append transaction")
	}
	return nil
}
