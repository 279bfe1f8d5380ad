package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/response"
)

type demandService interface {
	Submit(ctx context.Context, req dto.SubmitDemandRequest, actor *models.JWTClaims) (*dto.TransitionResponse, error)
	Apply(ctx context.Context, demandID string, action models.LifecycleAction, actor *models.JWTClaims) (*dto.TransitionResponse, error)
	Get(ctx context.Context, id string) (*models.Demand, error)
	List(ctx context.Context, query dto.DemandQuery) ([]models.Demand, error)
}

// DemandHandler exposes REST endpoints for the demand lifecycle.
type DemandHandler struct {
	service demandService
}

// NewDemandHandler constructs the handler.
func NewDemandHandler(service demandService) *DemandHandler {
	return &DemandHandler{service: service}
}

// Create godoc
// @Summary Submit a citizen demand
// @Tags Demands
// @Accept json
// @Produce json
// @Param payload body dto.SubmitDemandRequest true "Demand payload"
// @Success 201 {object} response.Envelope
// @Router /demands [post]
func (h *DemandHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "demand service not configured"))
		return
	}
	var req dto.SubmitDemandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid demand payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// List godoc
// @Summary List demands
// @Tags Demands
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param categoryId query string false "Category filter"
// @Param proposerId query string false "Proposer filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /demands [get]
func (h *DemandHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "demand service not configured"))
		return
	}
	query := dto.DemandQuery{
		CategoryID: strings.TrimSpace(c.Query("categoryId")),
		ProposerID: strings.TrimSpace(c.Query("proposerId")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.DemandStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.DemandStatus(part))
		}
		query.Status = statuses
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			query.Limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			query.Offset = v
		}
	}
	demands, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demands, nil)
}

// Get godoc
// @Summary Get demand detail
// @Tags Demands
// @Produce json
// @Param id path string true "Demand ID"
// @Success 200 {object} response.Envelope
// @Router /demands/{id} [get]
func (h *DemandHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "demand service not configured"))
		return
	}
	demand, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demand, nil)
}

// ApplyTransition godoc
// @Summary Apply a lifecycle transition to a demand
// @Tags Demands
// @Accept json
// @Produce json
// @Param id path string true "Demand ID"
// @Param payload body dto.ApplyTransitionRequest true "Transition action"
// @Success 200 {object} response.Envelope
// @Router /demands/{id}/transitions [post]
func (h *DemandHandler) ApplyTransition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "demand service not configured"))
		return
	}
	var req dto.ApplyTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), models.LifecycleAction(req.Action), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
