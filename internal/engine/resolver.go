package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Resolver assembles the recipient set for a restock transition: subscribed
// user webhooks, subscribed group webhooks, and the system default.
type Resolver struct {
	store store.Store
	log   *slog.Logger
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(s store.Store, log *slog.Logger) *Resolver {
	return &Resolver{store: s, log: log}
}

// Resolve returns the deduplicated recipient list for a monitored key.
// Recipients sharing a backend and webhook URL collapse to the first seen.
// Recipients with invalid webhook URLs are skipped with a warning rather
// than failing the whole fanout. defaultRecipient may be nil.
func (r *Resolver) Resolve(
	ctx context.Context,
	key domain.MonitoredKey,
	defaultRecipient *domain.Recipient,
) ([]domain.Recipient, error) {
	users, err := r.store.ListActiveUserWebhooks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing user webhooks for %s: %w", key, err)
	}

	groups, err := r.store.ListActiveGroupWebhooks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing group webhooks for %s: %w", key, err)
	}

	candidates := make([]domain.Recipient, 0, len(users)+len(groups)+1)
	candidates = append(candidates, users...)
	candidates = append(candidates, groups...)
	if defaultRecipient != nil {
		candidates = append(candidates, *defaultRecipient)
	}

	seen := make(map[string]struct{}, len(candidates))
	recipients := make([]domain.Recipient, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Identity()]; dup {
			continue
		}
		if err := notify.ValidateWebhookURL(c.WebhookURL, c.Backend); err != nil {
			r.log.Warn("skipping recipient with invalid webhook",
				"recipient", c.Name,
				"kind", string(c.Kind),
				"error", err,
			)
			continue
		}
		seen[c.Identity()] = struct{}{}
		recipients = append(recipients, c)
	}

	return recipients, nil
}
