package dto

import "github.com/opencivic/demand-ledger-api/internal/models"

// VoteResponse returns the stored vote and the demand's updated counter.
type VoteResponse struct {
	Vote      *models.Vote `json:"vote"`
	VoteCount int64        `json:"voteCount"`
}

// VoteStatusResponse reports whether the caller already voted on a demand.
type VoteStatusResponse struct {
	DemandID string `json:"demandId"`
	HasVoted bool   `json:"hasVoted"`
}
