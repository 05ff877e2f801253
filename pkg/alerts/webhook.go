package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"spendwise-hq/meter/pkg/config"
)

// WebhookNotifier posts intents as JSON to an HTTP endpoint. Any non-2xx
// response is a delivery error.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier from the alerts
// configuration.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultWebhookTimeout
	}
	return &WebhookNotifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id,omitempty"`
	BudgetID       string         `json:"budget_id,omitempty"`
	Threshold      int            `json:"threshold"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, intent Intent) error {
	body, err := json.Marshal(webhookPayload{
		ID:             intent.ID,
		Kind:           intent.Kind,
		Severity:       intent.Severity,
		Title:          intent.Title,
		Message:        intent.Message,
		OrganizationID: intent.Scope.OrganizationID,
		UserID:         intent.Scope.UserID,
		BudgetID:       intent.Scope.BudgetID,
		Threshold:      intent.Threshold,
		Metadata:       intent.Metadata,
		CreatedAt:      intent.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", intent.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "spendwise-alerts")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post alert %s: %w", intent.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for alert %s", resp.StatusCode, intent.ID)
	}
	return nil
}
