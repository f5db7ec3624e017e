// Package notifier delivers operational alerts to chat-ops webhooks on a
// fire-and-forget contract: delivery failures are logged and swallowed so
// they never block a scan.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Notifier sends an alert somewhere an operator will see it
type Notifier interface {
	Notify(ctx context.Context, alert *entities.FraudAlert)
}

// WebhookNotifier posts alerts to a chat-ops webhook URL
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  *logger.Logger
}

// NewWebhookNotifier creates a webhook notifier; an empty URL disables
// delivery entirely.
func NewWebhookNotifier(url string, timeout time.Duration, logger *logger.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookMessage struct {
	Text string `json:"text"`
}

// Notify posts the alert. Best-effort: every failure path logs and returns.
func (n *WebhookNotifier) Notify(ctx context.Context, alert *entities.FraudAlert) {
	if n.url == "" {
		return
	}

	msg := webhookMessage{
		Text: fmt.Sprintf("[%s] %s: %s (key=%s)", alert.Severity, alert.Kind, alert.Message, alert.DedupeKey),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("Failed to marshal alert notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Failed to build alert notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Failed to deliver alert notification", "error", err, "kind", alert.Kind)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("Alert notification rejected", "status", resp.StatusCode, "kind", alert.Kind)
	}
}

// RecordingNotifier captures alerts for tests
type RecordingNotifier struct {
	mu     sync.Mutex
	Alerts []*entities.FraudAlert
}

// Notify records the alert
func (n *RecordingNotifier) Notify(_ context.Context, alert *entities.FraudAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, alert)
}

// Recorded returns a snapshot of captured alerts
func (n *RecordingNotifier) Recorded() []*entities.FraudAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*entities.FraudAlert, len(n.Alerts))
	copy(out, n.Alerts)
	return out
}
