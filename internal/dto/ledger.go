package dto

import (
	"time"

	"github.com/opencivic/demand-ledger-api/internal/models"
)

// VerifyTransactionRequest asks the ledger to recompute a record's
// fingerprint against the supplied chain-predecessor fingerprint.
type VerifyTransactionRequest struct {
	Transaction         models.Transaction `json:"transaction" binding:"required"`
	PreviousFingerprint string             `json:"previousFingerprint" binding:"required"`
}

// VerifyTransactionResponse reports the verification outcome. A false value
// signals field tampering or a wrong predecessor (reordering/splicing).
type VerifyTransactionResponse struct {
	Valid bool `json:"valid"`
}

// ExportResponse returns the signed download token for a generated report.
type ExportResponse struct {
	Token     string    `json:"token"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expiresAt"`
}
