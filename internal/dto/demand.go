package dto

import (
	"github.com/opencivic/demand-ledger-api/internal/models"
)

// SubmitDemandRequest carries a citizen submission. OpenForVoting routes the
// demand into the public voting branch instead of the review queue; the
// routing policy belongs to the caller, not this service.
type SubmitDemandRequest struct {
	Title         string `json:"title" binding:"required,min=3,max=200" validate:"required,min=3,max=200"`
	Description   string `json:"description" binding:"required,max=5000" validate:"required,max=5000"`
	CategoryID    string `json:"categoryId" binding:"required" validate:"required"`
	OpenForVoting bool   `json:"openForVoting"`
}

// ApplyTransitionRequest requests a lifecycle transition on a demand.
type ApplyTransitionRequest struct {
	Action string `json:"action" binding:"required,oneof=review forward approve reject close"`
}

// DemandQuery constrains demand listings.
type DemandQuery struct {
	Status     []models.DemandStatus
	CategoryID string
	ProposerID string
	Limit      int
	Offset     int
}

// TransitionResponse returns the updated demand together with the ledger
// record appended for the transition.
type TransitionResponse struct {
	Demand      *models.Demand      `json:"demand"`
	Transaction *models.Transaction `json:"transaction"`
}
