package notify

import (
	"context"
	"log/slog"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// NoOpNotifier implements Notifier by logging discarded events. It is used
// when no webhook backend is configured.
type NoOpNotifier struct {
	log *slog.Logger
}

// NewNoOpNotifier creates a notifier that discards events with a log message.
func NewNoOpNotifier(log *slog.Logger) *NoOpNotifier {
	return &NoOpNotifier{log: log}
}

// Send logs and discards a restock event.
func (n *NoOpNotifier) Send(_ context.Context, r *domain.Recipient, ev *Event) error {
	n.log.Debug("notification discarded (no backend configured)",
		"recipient", r.Name,
		"item", ev.Item.Label(),
		"location", ev.Location(),
	)
	return nil
}
