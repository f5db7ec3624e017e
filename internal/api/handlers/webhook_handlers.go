package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
	"github.com/starpay-service/starpay_service/pkg/retry"
)

// AuditStore persists verbatim webhook payloads
type AuditStore interface {
	Create(ctx context.Context, log *entities.WebhookAuditLog) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}

// JobQueue enqueues processing jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.Job) (bool, error)
}

// WebhookHandlers receives provider deposit webhooks. The request path does
// exactly two durable things per delivery: write the verbatim payload to the
// audit log, and enqueue its processing job. Everything else happens off the
// request path.
type WebhookHandlers struct {
	audits         AuditStore
	jobs           JobQueue
	webhookSecrets map[string]string
	maxAttempts    int
	logger         *logger.Logger
}

// NewWebhookHandlers creates a new WebhookHandlers instance
func NewWebhookHandlers(
	audits AuditStore,
	jobs JobQueue,
	webhookSecrets map[string]string,
	maxAttempts int,
	logger *logger.Logger,
) *WebhookHandlers {
	return &WebhookHandlers{
		audits:         audits,
		jobs:           jobs,
		webhookSecrets: webhookSecrets,
		maxAttempts:    maxAttempts,
		logger:         logger,
	}
}

// Receive handles POST /api/v1/webhooks/:provider/:chain
func (h *WebhookHandlers) Receive(c *gin.Context) {
	provider := entities.Provider(strings.ToLower(c.Param("provider")))
	chain := entities.Chain(strings.ToLower(c.Param("chain")))

	switch provider {
	case entities.ProviderAlchemy, entities.ProviderQuickNode, entities.ProviderHelius, entities.ProviderTronGrid:
	default:
		respondBadRequest(c, "UNKNOWN_PROVIDER", fmt.Sprintf("unknown provider: %s", provider))
		return
	}
	if !chain.IsValid() {
		respondBadRequest(c, "UNKNOWN_CHAIN", fmt.Sprintf("unknown chain: %s", chain))
		return
	}

	rawBody, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	if err := h.verifySignature(c, provider, rawBody); err != nil {
		h.logger.Warn("Webhook signature verification failed",
			"provider", provider,
			"chain", chain,
			"error", err,
		)
		// Rejected payloads are still kept for forensics, just never
		// picked up for processing.
		rejected := entities.NewWebhookAuditLog(provider, chain, rawBody)
		rejected.Status = entities.WebhookStatusRejected
		if auditErr := h.audits.Create(c.Request.Context(), rejected); auditErr != nil {
			h.logger.Error("Failed to persist rejected webhook", "provider", provider, "error", auditErr)
		}
		respondUnauthorized(c, "Webhook signature verification failed")
		return
	}

	metrics.WebhooksReceivedCounter.WithLabelValues(string(provider), string(chain)).Inc()

	// The verbatim payload is persisted before any parsing so nothing a
	// provider ever sent can be lost.
	audit := entities.NewWebhookAuditLog(provider, chain, rawBody)
	if err := h.audits.Create(c.Request.Context(), audit); err != nil {
		h.logger.Error("Failed to persist webhook payload",
			"provider", provider,
			"chain", chain,
			"error", err,
		)
		respondInternalError(c, "Failed to record webhook")
		return
	}

	if err := h.enqueueProcessing(c, audit); err != nil {
		// The payload is safe in the audit log. Marking the row FAILED
		// hands it to the dead-letter scan, which flips cooled-down
		// failures back to RECEIVED and queues them again.
		h.logger.Error("Failed to enqueue webhook processing after retries",
			"audit_id", audit.ID,
			"provider", provider,
			"error", err,
		)
		cause := fmt.Sprintf("enqueue failed: %v", err)
		if markErr := h.audits.MarkFailed(c.Request.Context(), audit.ID, cause); markErr != nil {
			h.logger.Error("Failed to dead-letter webhook audit",
				"audit_id", audit.ID,
				"error", markErr,
			)
		}
	}

	respondSuccess(c, gin.H{"audit_id": audit.ID, "status": "received"})
}

func (h *WebhookHandlers) enqueueProcessing(c *gin.Context, audit *entities.WebhookAuditLog) error {
	payload, err := json.Marshal(ingest.ProcessPayload{AuditID: audit.ID})
	if err != nil {
		return fmt.Errorf("marshal process payload: %w", err)
	}
	dedupKey := fmt.Sprintf("%s:%s", entities.JobProcessWebhookAudit, audit.ID)
	job := entities.NewJob(entities.JobProcessWebhookAudit, dedupKey, payload, h.maxAttempts)

	retryConfig := retry.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Multiplier:  2.0,
	}
	return retry.WithExponentialBackoff(
		c.Request.Context(),
		retryConfig,
		func() error {
			_, err := h.jobs.Enqueue(c.Request.Context(), job)
			return err
		},
		func(error) bool { return true },
	)
}

// verifySignature checks the provider's HMAC header when a secret is
// configured. Providers without a configured secret pass through.
func (h *WebhookHandlers) verifySignature(c *gin.Context, provider entities.Provider, body []byte) error {
	secret := h.webhookSecrets[string(provider)]
	if secret == "" {
		return nil
	}

	signature := c.GetHeader(signatureHeader(provider))
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func signatureHeader(provider entities.Provider) string {
	switch provider {
	case entities.ProviderAlchemy:
		return "X-Alchemy-Signature"
	case entities.ProviderHelius:
		return "Authorization"
	case entities.ProviderQuickNode:
		return "X-QN-Signature"
	case entities.ProviderTronGrid:
		return "X-Signature"
	}
	return "X-Signature"
}
