package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/internal/dto"
	"github.com/opencivic/demand-ledger-api/internal/hashchain"
	"github.com/opencivic/demand-ledger-api/internal/models"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/export"
)

type ledgerReader interface {
	History(ctx context.Context, demandID string) ([]models.Transaction, error)
}

type reportStore interface {
	Save(filename string, data []byte) (string, error)
}

type urlSigner interface {
	Generate(exportID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (exportID, relPath string, expiresAt time.Time, err error)
}

// LedgerService exposes the read and verification side of the transaction
// ledger: history replay, single-record verification, full-chain audits and
// report exports.
type LedgerService struct {
	ledger  ledgerReader
	store   reportStore
	signer  urlSigner
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLedgerService constructs the service. store and signer are only needed
// when exports are served.
func NewLedgerService(ledger ledgerReader, store reportStore, signer urlSigner, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		ledger:  ledger,
		store:   store,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		metrics: metrics,
		logger:  logger,
	}
}

// History returns a demand's transactions in ascending chain order.
func (s *LedgerService) History(ctx context.Context, demandID string) ([]models.Transaction, error) {
	txns, err := s.ledger.History(ctx, demandID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "load transaction history")
	}
	if len(txns) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no transactions for demand")
	}
	return txns, nil
}

// Verify recomputes a transaction's fingerprint from its own fields and the
// supplied predecessor fingerprint. False means field tampering or a wrong
// predecessor (reordering/splicing), not an internal error.
func (s *LedgerService) Verify(txn models.Transaction, previousFingerprint string) bool {
	recomputed := hashchain.Fingerprint(txn.ID, txn.DemandID, txn.UserID, string(txn.Action), txn.RecordedAt, previousFingerprint)
	return recomputed == txn.DataHash
}

// VerifyChain replays a demand's full chain from the genesis sentinel. The
// first divergent record fails the whole chain with ErrHashMismatch; the
// failure is logged prominently and never auto-corrected.
func (s *LedgerService) VerifyChain(ctx context.Context, demandID string) error {
	txns, err := s.History(ctx, demandID)
	if err != nil {
		return err
	}

	previous := hashchain.GenesisFingerprint
	for i := range txns {
		if !s.Verify(txns[i], previous) {
			s.logger.Error("ledger chain verification failed",
				zap.String("demand_id", demandID),
				zap.String("transaction_id", txns[i].ID),
				zap.Int("chain_position", i),
			)
			s.metrics.IncChainMismatch()
			return appErrors.Clone(appErrors.ErrHashMismatch,
				fmt.Sprintf("chain broken at transaction %s (position %d)", txns[i].ID, i))
		}
		previous = txns[i].DataHash
	}

	s.metrics.IncChainVerification()
	return nil
}

// Export renders a demand's audit trail as CSV or PDF, stores the file and
// returns a signed download token.
func (s *LedgerService) Export(ctx context.Context, demandID, format string) (*dto.ExportResponse, error) {
	if s.store == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "ledger exports not configured")
	}

	txns, err := s.History(ctx, demandID)
	if err != nil {
		return nil, err
	}

	dataset := historyDataset(txns)
	var (
		rendered []byte
		ext      string
	)
	switch format {
	case "csv", "":
		rendered, err = s.csv.Render(dataset)
		ext = "csv"
	case "pdf":
		rendered, err = s.pdf.Render(dataset, fmt.Sprintf("Demand %s audit trail", demandID))
		ext = "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render ledger report")
	}

	exportID := uuid.NewString()
	relPath := fmt.Sprintf("ledger/%s/%s.%s", demandID, exportID, ext)
	if _, err := s.store.Save(relPath, rendered); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "store ledger report")
	}

	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign download token")
	}
	return &dto.ExportResponse{Token: token, Format: ext, ExpiresAt: expiresAt}, nil
}

// ResolveExport validates a download token and returns the stored file path.
func (s *LedgerService) ResolveExport(token string) (string, error) {
	if s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "ledger exports not configured")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid download token")
	}
	return relPath, nil
}

func historyDataset(txns []models.Transaction) export.Dataset {
	headers := []string{"Position", "Transaction", "Action", "Actor", "Previous Status", "New Status", "Recorded At", "Data Hash"}
	rows := make([]map[string]string, 0, len(txns))
	for _, txn := range txns {
		rows = append(rows, map[string]string{
			"Position":        fmt.Sprintf("%d", txn.Seq),
			"Transaction":     txn.ID,
			"Action":          string(txn.Action),
			"Actor":           txn.UserName,
			"Previous Status": string(txn.PreviousStatus),
			"New Status":      string(txn.NewStatus),
			"Recorded At":     hashchain.CanonicalTime(txn.RecordedAt),
			"Data Hash":       txn.DataHash,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
