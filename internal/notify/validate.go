package notify

import (
	"fmt"
	"net/url"
	"strings"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// ValidateWebhookURL checks that a webhook URL is HTTPS and belongs to the
// expected backend's webhook host.
func ValidateWebhookURL(raw string, backend domain.Backend) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing webhook URL: %w", err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use https, got %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	switch backend {
	case domain.BackendDiscord:
		if host != "discord.com" && host != "discordapp.com" {
			return fmt.Errorf("discord webhook URL must point at discord.com, got %q", host)
		}
		if !strings.HasPrefix(u.Path, "/api/webhooks/") {
			return fmt.Errorf("discord webhook URL path must start with /api/webhooks/")
		}
	case domain.BackendSlack:
		if host != "hooks.slack.com" {
			return fmt.Errorf("slack webhook URL must point at hooks.slack.com, got %q", host)
		}
	default:
		return fmt.Errorf("unsupported backend %q", backend)
	}

	return nil
}
