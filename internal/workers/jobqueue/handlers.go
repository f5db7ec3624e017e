package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/credit"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/internal/domain/services/verify"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Handlers binds the engine services to queue job names
type Handlers struct {
	ingest *ingest.Service
	verify *verify.Service
	credit *credit.Service
	logger *logger.Logger
}

// NewHandlers creates the handler set
func NewHandlers(ingestSvc *ingest.Service, verifySvc *verify.Service, creditSvc *credit.Service, logger *logger.Logger) *Handlers {
	return &Handlers{
		ingest: ingestSvc,
		verify: verifySvc,
		credit: creditSvc,
		logger: logger,
	}
}

// RegisterAll installs every handler on the pool
func (h *Handlers) RegisterAll(pool *Pool) {
	pool.Register(entities.JobProcessWebhookAudit, h.ProcessWebhookAudit)
	pool.Register(entities.JobReconcileDeposit, h.ReconcileDeposit)
}

// ProcessWebhookAudit runs the ingest pipeline for one audit row
func (h *Handlers) ProcessWebhookAudit(ctx context.Context, job *entities.Job) error {
	var payload ingest.ProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode process payload: %w", err)
	}
	return h.ingest.Process(ctx, payload.AuditID)
}

// ReconcileDeposit verifies one deposit against its chain and, on
// confirmation, credits it in the same run.
func (h *Handlers) ReconcileDeposit(ctx context.Context, job *entities.Job) error {
	var payload ingest.ReconcilePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode reconcile payload: %w", err)
	}

	outcome, err := h.verify.Reconcile(ctx, payload.DepositID)
	if err != nil {
		return err
	}
	if outcome != verify.OutcomeConfirmed {
		return nil
	}

	creditOutcome, err := h.credit.Credit(ctx, payload.DepositID)
	if err != nil {
		return err
	}
	h.logger.Debug("Reconcile pipeline finished",
		"deposit_id", payload.DepositID,
		"verify", outcome,
		"credit", creditOutcome,
	)
	return nil
}
