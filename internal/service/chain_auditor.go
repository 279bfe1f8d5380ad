package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opencivic/demand-ledger-api/pkg/config"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/jobs"
)

type chainVerifier interface {
	VerifyChain(ctx context.Context, demandID string) error
}

// ChainAuditor replays demand chains in the background after every append.
// A mismatch is surfaced loudly (error log + metric) and not retried, since
// re-running verification cannot repair a broken chain; transient storage
// errors are retried by the queue.
type ChainAuditor struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewChainAuditor builds the auditor and its worker queue.
func NewChainAuditor(verifier chainVerifier, cfg config.LedgerConfig, logger *zap.Logger) *ChainAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &ChainAuditor{logger: logger}
	a.queue = jobs.NewQueue("chain-audit", func(ctx context.Context, job jobs.Job) error {
		demandID, _ := job.Payload.(string)
		if demandID == "" {
			return nil
		}
		err := verifier.VerifyChain(ctx, demandID)
		if err == nil {
			return nil
		}
		if errors.Is(err, appErrors.ErrHashMismatch) {
			// Already logged and counted by the verifier; don't retry.
			return nil
		}
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil
		}
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.AuditConcurrency,
		MaxRetries: cfg.AuditRetries,
		Logger:     logger,
	})
	return a
}

// Start launches the audit workers.
func (a *ChainAuditor) Start(ctx context.Context) {
	a.queue.Start(ctx)
}

// Stop drains the audit workers.
func (a *ChainAuditor) Stop() {
	a.queue.Stop()
}

// EnqueueVerify schedules a chain replay for the demand. Best effort: a full
// verification can always be requested again later.
func (a *ChainAuditor) EnqueueVerify(demandID string) {
	if err := a.queue.Enqueue(jobs.Job{ID: demandID, Type: "verify-chain", Payload: demandID}); err != nil {
		a.logger.Warn("enqueue chain audit failed", zap.String("demand_id", demandID), zap.Error(err))
	}
}
