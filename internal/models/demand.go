package models

import "time"

// DemandStatus captures lifecycle states for citizen demands.
type DemandStatus string

const (
	DemandStatusPending    DemandStatus = "PENDING"
	DemandStatusVotingOpen DemandStatus = "VOTING_OPEN"
	DemandStatusReviewed   DemandStatus = "REVIEWED"
	DemandStatusForwarded  DemandStatus = "FORWARDED"
	DemandStatusApproved   DemandStatus = "APPROVED"
	DemandStatusRejected   DemandStatus = "REJECTED"
)

// Terminal reports whether no further transitions are defined for the status.
func (s DemandStatus) Terminal() bool {
	return s == DemandStatusApproved || s == DemandStatusRejected
}

// LifecycleAction names a caller-requested transition.
type LifecycleAction string

const (
	ActionReview  LifecycleAction = "review"
	ActionForward LifecycleAction = "forward"
	ActionApprove LifecycleAction = "approve"
	ActionReject  LifecycleAction = "reject"
	ActionClose   LifecycleAction = "close"
)

// Demand is a citizen-submitted proposal tracked through the approval lifecycle.
// ContentHash fingerprints the original submission payload and is never
// altered after creation; it is distinct from the ledger's chain links.
type Demand struct {
	ID           string       `db:"id" json:"id"`
	Title        string       `db:"title" json:"title"`
	Description  string       `db:"description" json:"description"`
	CategoryID   string       `db:"category_id" json:"categoryId"`
	ProposerID   string       `db:"proposer_id" json:"proposerId"`
	ProposerName string       `db:"proposer_name" json:"proposerName"`
	Status       DemandStatus `db:"status" json:"status"`
	VoteCount    int64        `db:"vote_count" json:"voteCount"`
	ContentHash  string       `db:"content_hash" json:"contentHash"`
	ReviewedBy   *string      `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ApprovedBy   *string      `db:"approved_by" json:"approvedBy,omitempty"`
	SubmittedAt  time.Time    `db:"submitted_at" json:"submittedAt"`
	ApprovedAt   *time.Time   `db:"approved_at" json:"approvedAt,omitempty"`
	RejectedAt   *time.Time   `db:"rejected_at" json:"rejectedAt,omitempty"`
}

// DemandFilter constrains listing queries.
type DemandFilter struct {
	Status     []DemandStatus
	CategoryID string
	ProposerID string
	Limit      int
	Offset     int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
