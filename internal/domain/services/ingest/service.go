// Package ingest processes captured webhook payloads: allowlist check,
// normalization, matching, and handoff to per-deposit reconcile jobs. It runs
// from the job queue, never on the HTTP request path.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/matcher"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// AuditStore is the webhook audit surface the processor mutates
type AuditStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.WebhookAuditLog, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, depositID *uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
	MarkRejected(ctx context.Context, id uuid.UUID, cause string) error
}

// Normalizer extracts observations from raw payloads
type Normalizer interface {
	Normalize(provider entities.Provider, chain entities.Chain, raw []byte) []entities.Observation
}

// Matcher binds observations to deposits
type Matcher interface {
	Match(ctx context.Context, obs *entities.Observation) (*matcher.Result, error)
}

// JobQueue enqueues follow-up work
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.Job) (bool, error)
}

// SettingsProvider supplies the provider allowlist
type SettingsProvider interface {
	Get(ctx context.Context) *entities.PlatformSettings
}

// ReconcilePayload is the body of a reconcile_deposit job
type ReconcilePayload struct {
	DepositID uuid.UUID `json:"deposit_id"`
}

// ProcessPayload is the body of a process_webhook_audit job
type ProcessPayload struct {
	AuditID uuid.UUID `json:"audit_id"`
}

// Service processes one audited webhook at a time
type Service struct {
	audits      AuditStore
	normalizer  Normalizer
	matcher     Matcher
	jobs        JobQueue
	settings    SettingsProvider
	maxAttempts int
	logger      *logger.Logger
}

// NewService creates the webhook processor
func NewService(
	audits AuditStore,
	normalizer Normalizer,
	matcher Matcher,
	jobs JobQueue,
	settings SettingsProvider,
	maxAttempts int,
	logger *logger.Logger,
) *Service {
	return &Service{
		audits:      audits,
		normalizer:  normalizer,
		matcher:     matcher,
		jobs:        jobs,
		settings:    settings,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Process runs the full pipeline for one audit log entry. Re-processing a
// PROCESSED entry is a no-op; every downstream effect is idempotent anyway.
func (s *Service) Process(ctx context.Context, auditID uuid.UUID) error {
	audit, err := s.audits.GetByID(ctx, auditID)
	if err != nil {
		return fmt.Errorf("load audit log: %w", err)
	}
	if audit.Status == entities.WebhookStatusProcessed || audit.Status == entities.WebhookStatusRejected {
		return nil
	}

	cfg := s.settings.Get(ctx)
	if !cfg.ProviderAllowed(audit.Chain, audit.Provider) {
		cause := fmt.Sprintf("provider %s not allowed for chain %s", audit.Provider, audit.Chain)
		if err := s.audits.MarkRejected(ctx, audit.ID, cause); err != nil {
			return fmt.Errorf("reject audit log: %w", err)
		}
		s.logger.Warn("Webhook rejected by provider allowlist",
			"audit_id", audit.ID,
			"provider", audit.Provider,
			"chain", audit.Chain,
		)
		return nil
	}

	observations := s.normalizer.Normalize(audit.Provider, audit.Chain, audit.Payload)

	var firstDeposit *uuid.UUID
	var failures int
	for i := range observations {
		obs := &observations[i]
		if obs.IsTriageOnly() {
			// The raw payload is already preserved in the audit row;
			// flag it for a human instead of guessing.
			if err := s.audits.MarkFailed(ctx, audit.ID, "payload extraction produced no usable transfer"); err != nil {
				return fmt.Errorf("mark audit failed: %w", err)
			}
			s.logger.Warn("Webhook payload unusable, left for triage",
				"audit_id", audit.ID,
				"provider", audit.Provider,
			)
			return nil
		}

		result, err := s.matcher.Match(ctx, obs)
		if err != nil {
			failures++
			s.logger.Error("Observation matching failed",
				"audit_id", audit.ID,
				"tx_hash", obs.TxHash,
				"error", err,
			)
			continue
		}
		if result == nil {
			continue
		}
		if firstDeposit == nil {
			id := result.Deposit.ID
			firstDeposit = &id
		}

		// Unmatched shells wait for manual assignment; everything else
		// goes to chain verification.
		if result.Kind != matcher.MatchedUnmatched {
			if err := s.enqueueReconcile(ctx, result.Deposit.ID); err != nil {
				failures++
				s.logger.Error("Failed to enqueue reconcile job",
					"deposit_id", result.Deposit.ID,
					"error", err,
				)
			}
		}
	}

	if failures > 0 {
		cause := fmt.Sprintf("%d of %d observations failed", failures, len(observations))
		if err := s.audits.MarkFailed(ctx, audit.ID, cause); err != nil {
			return fmt.Errorf("mark audit failed: %w", err)
		}
		return fmt.Errorf("webhook %s partially processed: %s", audit.ID, cause)
	}

	if err := s.audits.MarkProcessed(ctx, audit.ID, firstDeposit); err != nil {
		return fmt.Errorf("mark audit processed: %w", err)
	}
	return nil
}

func (s *Service) enqueueReconcile(ctx context.Context, depositID uuid.UUID) error {
	payload, err := json.Marshal(ReconcilePayload{DepositID: depositID})
	if err != nil {
		return fmt.Errorf("marshal reconcile payload: %w", err)
	}
	// Dedup on the deposit ID collapses concurrent webhook and watcher
	// sightings of the same deposit into one pending job.
	dedupKey := fmt.Sprintf("%s:%s", entities.JobReconcileDeposit, depositID)
	job := entities.NewJob(entities.JobReconcileDeposit, dedupKey, payload, s.maxAttempts)
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return err
	}
	return nil
}
