package models

import "time"

// TransactionAction enumerates recorded ledger actions.
type TransactionAction string

const (
	TxActionSubmitted    TransactionAction = "SUBMITTED"
	TxActionReviewed     TransactionAction = "REVIEWED"
	TxActionForwarded    TransactionAction = "FORWARDED"
	TxActionVoted        TransactionAction = "VOTED"
	TxActionApproved     TransactionAction = "APPROVED"
	TxActionRejected     TransactionAction = "REJECTED"
	TxActionVotingClosed TransactionAction = "VOTING_CLOSED"
)

// Transaction is an immutable, chain-linked record of one demand state change.
// DataHash is a deterministic digest over (id, demand id, user id, action,
// recorded-at, predecessor's DataHash); the first record of a demand links to
// the genesis sentinel. Records are append-only and totally ordered per demand
// by Seq, assigned under the demand row lock so the stored order always agrees
// with the hash-link order regardless of wall-clock ties or skew.
type Transaction struct {
	ID             string            `db:"id" json:"id"`
	DemandID       string            `db:"demand_id" json:"demandId"`
	Seq            int64             `db:"seq" json:"seq"`
	UserID         string            `db:"user_id" json:"userId"`
	UserName       string            `db:"user_name" json:"userName"`
	Action         TransactionAction `db:"action" json:"action"`
	PreviousStatus DemandStatus      `db:"previous_status" json:"previousStatus"`
	NewStatus      DemandStatus      `db:"new_status" json:"newStatus"`
	DataHash       string            `db:"data_hash" json:"dataHash"`
	RecordedAt     time.Time         `db:"recorded_at" json:"recordedAt"`
}
