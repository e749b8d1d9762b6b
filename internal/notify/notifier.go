// Package notify defines the notification interface and implementations
// for restock alert delivery over Discord and Slack webhooks.
package notify

import (
	"context"
	"time"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Event contains the data needed to announce a restock.
type Event struct {
	Item        *domain.Item
	Key         domain.MonitoredKey
	Datacenter  string // human-readable location name, falls back to Key.Location
	OutSince    time.Time
	RestockedAt time.Time
	Duration    time.Duration
}

// Location returns the display name for the restocked location.
func (e *Event) Location() string {
	if e.Datacenter != "" {
		return e.Datacenter
	}
	return e.Key.Location
}

// Notifier defines the interface for delivering a restock event to one
// recipient. Implementations format the message per the recipient's backend
// and presentation overrides.
type Notifier interface {
	Send(ctx context.Context, r *domain.Recipient, ev *Event) error
}
