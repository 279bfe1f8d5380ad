package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/response"
)

type voteService interface {
	CastVote(ctx context.Context, demandID string, actor *models.JWTClaims) (*dto.VoteResponse, error)
	HasVoted(ctx context.Context, demandID string, actor *models.JWTClaims) (*dto.VoteStatusResponse, error)
}

// VoteHandler exposes REST endpoints for citizen voting.
type VoteHandler struct {
	service voteService
}

// NewVoteHandler constructs the handler.
func NewVoteHandler(service voteService) *VoteHandler {
	return &VoteHandler{service: service}
}

// Cast godoc
// @Summary Cast a vote on a demand
// @Tags Votes
// @Produce json
// @Param id path string true "Demand ID"
// @Success 201 {object} response.Envelope
// @Router /demands/{id}/votes [post]
func (h *VoteHandler) Cast(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "vote service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.CastVote(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// Status godoc
// @Summary Report whether the caller voted on a demand
// @Tags Votes
// @Produce json
// @Param id path string true "Demand ID"
// @Success 200 {object} response.Envelope
// @Router /demands/{id}/votes/me [get]
func (h *VoteHandler) Status(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "vote service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.HasVoted(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
