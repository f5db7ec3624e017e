package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

type MockAuditStore struct {
	created []*entities.WebhookAuditLog
	failed  map[uuid.UUID]string
	err     error
}

func (m *MockAuditStore) Create(ctx context.Context, log *entities.WebhookAuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, log)
	return nil
}

func (m *MockAuditStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	if m.failed == nil {
		m.failed = make(map[uuid.UUID]string)
	}
	m.failed[id] = cause
	return nil
}

type MockJobQueue struct {
	enqueued []*entities.Job
	err      error
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *entities.Job) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.enqueued = append(m.enqueued, job)
	return true, nil
}

type webhookFixture struct {
	audits *MockAuditStore
	jobs   *MockJobQueue
	router *gin.Engine
}

func newWebhookFixture(secrets map[string]string) *webhookFixture {
	gin.SetMode(gin.TestMode)
	f := &webhookFixture{
		audits: &MockAuditStore{},
		jobs:   &MockJobQueue{},
	}
	h := NewWebhookHandlers(f.audits, f.jobs, secrets, 5, logger.NewNop())
	f.router = gin.New()
	f.router.POST("/api/v1/webhooks/:provider/:chain", h.Receive)
	return f
}

func (f *webhookFixture) post(t *testing.T, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookReceivePersistsAndEnqueues(t *testing.T) {
	f := newWebhookFixture(nil)
	body := []byte(`{"webhookId":"wh_1","event":{"activity":[]}}`)

	w := f.post(t, "/api/v1/webhooks/alchemy/ethereum", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.audits.created, 1)
	audit := f.audits.created[0]
	assert.Equal(t, entities.ProviderAlchemy, audit.Provider)
	assert.Equal(t, entities.ChainEthereum, audit.Chain)
	assert.Equal(t, body, audit.Payload)

	require.Len(t, f.jobs.enqueued, 1)
	job := f.jobs.enqueued[0]
	assert.Equal(t, entities.JobProcessWebhookAudit, job.Name)
	assert.Equal(t, string(entities.JobProcessWebhookAudit)+":"+audit.ID.String(), job.DedupKey)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			AuditID string `json:"audit_id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, audit.ID.String(), resp.Data.AuditID)
	assert.Equal(t, "received", resp.Data.Status)
}

func TestWebhookReceiveRejectsUnknownProvider(t *testing.T) {
	f := newWebhookFixture(nil)

	w := f.post(t, "/api/v1/webhooks/moralis/ethereum", []byte(`{}`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_PROVIDER")
	assert.Empty(t, f.audits.created)
}

func TestWebhookReceiveRejectsUnknownChain(t *testing.T) {
	f := newWebhookFixture(nil)

	w := f.post(t, "/api/v1/webhooks/alchemy/dogecoin", []byte(`{}`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_CHAIN")
	assert.Empty(t, f.audits.created)
}

func TestWebhookReceiveVerifiesSignature(t *testing.T) {
	f := newWebhookFixture(map[string]string{"alchemy": "whsec_test"})
	body := []byte(`{"webhookId":"wh_2"}`)

	w := f.post(t, "/api/v1/webhooks/alchemy/ethereum", body, map[string]string{
		"X-Alchemy-Signature": signBody("whsec_test", body),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.audits.created, 1)
}

func TestWebhookReceiveRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(map[string]string{"alchemy": "whsec_test"})
	body := []byte(`{"webhookId":"wh_3"}`)

	w := f.post(t, "/api/v1/webhooks/alchemy/ethereum", body, map[string]string{
		"X-Alchemy-Signature": signBody("wrong_secret", body),
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, f.audits.created, 1)
	assert.Equal(t, entities.WebhookStatusRejected, f.audits.created[0].Status)
	assert.Empty(t, f.jobs.enqueued)
}

func TestWebhookReceiveRejectsMissingSignatureHeader(t *testing.T) {
	f := newWebhookFixture(map[string]string{"helius": "helius_secret"})

	w := f.post(t, "/api/v1/webhooks/helius/solana", []byte(`[]`), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, f.audits.created, 1)
	assert.Equal(t, entities.WebhookStatusRejected, f.audits.created[0].Status)
	assert.Empty(t, f.jobs.enqueued)
}

func TestWebhookReceiveHeliusUsesAuthorizationHeader(t *testing.T) {
	f := newWebhookFixture(map[string]string{"helius": "helius_secret"})
	body := []byte(`[{"signature":"sig1"}]`)

	w := f.post(t, "/api/v1/webhooks/helius/solana", body, map[string]string{
		"Authorization": signBody("helius_secret", body),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.audits.created, 1)
}

func TestWebhookReceiveAuditFailureIsServerError(t *testing.T) {
	f := newWebhookFixture(nil)
	f.audits.err = errors.New("connection refused")

	w := f.post(t, "/api/v1/webhooks/trongrid/tron", []byte(`{}`), nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.jobs.enqueued)
}

func TestWebhookReceiveEnqueueFailureStillAccepts(t *testing.T) {
	f := newWebhookFixture(nil)
	f.jobs.err = errors.New("queue unavailable")

	w := f.post(t, "/api/v1/webhooks/quicknode/polygon", []byte(`{}`), nil)

	// The payload is already durable in the audit log, so the provider
	// must not redeliver.
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.audits.created, 1)

	// The row moves to FAILED so the dead-letter scan re-drives it; a
	// RECEIVED row with no job would be stranded forever.
	cause, ok := f.audits.failed[f.audits.created[0].ID]
	require.True(t, ok, "audit row was not dead-lettered")
	assert.Contains(t, cause, "queue unavailable")
}
