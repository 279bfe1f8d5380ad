package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/response"
	"github.com/opencivic/demand-ledger-api/pkg/storage"
)

type ledgerService interface {
	History(ctx context.Context, demandID string) ([]models.Transaction, error)
	Verify(txn models.Transaction, previousFingerprint string) bool
	VerifyChain(ctx context.Context, demandID string) error
	Export(ctx context.Context, demandID, format string) (*dto.ExportResponse, error)
	ResolveExport(token string) (string, error)
}

// LedgerHandler exposes the audit trail read surface.
type LedgerHandler struct {
	service ledgerService
	store   *storage.LocalStore
}

// NewLedgerHandler constructs the handler. store may be nil when exports are
// disabled.
func NewLedgerHandler(service ledgerService, store *storage.LocalStore) *LedgerHandler {
	return &LedgerHandler{service: service, store: store}
}

// History godoc
// @Summary Get a demand's transaction history in chain order
// @Tags Ledger
// @Produce json
// @Param id path string true "Demand ID"
// @Success 200 {object} response.Envelope
// @Router /demands/{id}/ledger [get]
func (h *LedgerHandler) History(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger service not configured"))
		return
	}
	txns, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txns, nil)
}

// Verify godoc
// @Summary Verify a single transaction fingerprint
// @Tags Ledger
// @Accept json
// @Produce json
// @Param payload body dto.VerifyTransactionRequest true "Transaction and predecessor fingerprint"
// @Success 200 {object} response.Envelope
// @Router /ledger/verify [post]
func (h *LedgerHandler) Verify(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger service not configured"))
		return
	}
	var req dto.VerifyTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid verification payload"))
		return
	}
	valid := h.service.Verify(req.Transaction, req.PreviousFingerprint)
	response.JSON(c, http.StatusOK, dto.VerifyTransactionResponse{Valid: valid}, nil)
}

// VerifyChain godoc
// @Summary Replay and verify a demand's full hash chain
// @Tags Ledger
// @Produce json
// @Param id path string true "Demand ID"
// @Success 200 {object} response.Envelope
// @Router /demands/{id}/ledger/verify [post]
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger service not configured"))
		return
	}
	if err := h.service.VerifyChain(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.VerifyTransactionResponse{Valid: true}, nil)
}

// Export godoc
// @Summary Export a demand's audit trail as CSV or PDF
// @Tags Ledger
// @Produce json
// @Param id path string true "Demand ID"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {object} response.Envelope
// @Router /demands/{id}/ledger/export [get]
func (h *LedgerHandler) Export(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger service not configured"))
		return
	}
	result, err := h.service.Export(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a previously exported ledger report
// @Tags Ledger
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /ledger/exports/download [get]
func (h *LedgerHandler) Download(c *gin.Context) {
	if h.service == nil || h.store == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ledger exports not configured"))
		return
	}
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter required"))
		return
	}
	relPath, err := h.service.ResolveExport(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.store.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export file not found"))
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(relPath))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
