package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// WebhookNotifier implements Notifier by posting backend-specific JSON to
// the recipient's webhook URL.
type WebhookNotifier struct {
	client *http.Client
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookNotifier) {
		w.client = c
	}
}

// NewWebhookNotifier creates a notifier with the given per-send timeout.
func NewWebhookNotifier(timeout time.Duration, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send formats the event for the recipient's backend and posts it.
func (w *WebhookNotifier) Send(ctx context.Context, r *domain.Recipient, ev *Event) error {
	var payload any
	switch r.Backend {
	case domain.BackendDiscord:
		payload = BuildDiscordPayload(ev, r)
	case domain.BackendSlack:
		payload = BuildSlackPayload(ev, r)
	default:
		return fmt.Errorf("unsupported backend %q", r.Backend)
	}

	timer := prometheus.NewTimer(metrics.DeliveryDuration.WithLabelValues(string(r.Backend)))
	defer timer.ObserveDuration()

	return w.post(ctx, r.WebhookURL, string(r.Backend), payload)
}

func (w *WebhookNotifier) post(ctx context.Context, url, backend string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s webhook: %w", backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s rate limited (429)", backend)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%s returned %d (body unreadable)", backend, resp.StatusCode)
		}
		return fmt.Errorf("%s returned %d: %s", backend, resp.StatusCode, respBody)
	}

	return nil
}
