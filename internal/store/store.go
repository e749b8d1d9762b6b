// Package store defines the datastore abstraction for restock-sentinel.
// All business logic depends on the Store interface, never on concrete
// implementations. This enables fake-backed testing without a running database.
package store

import (
	"context"
	"time"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Setting keys stored in the settings table. Values are text; callers
// parse and clamp as needed.
const (
	SettingThresholdMinutes  = "notification_threshold_minutes"
	SettingDefaultWebhookURL = "default_webhook_url"
	SettingDefaultBackend    = "default_backend"
)

// AttemptQuery defines optional filters for notification attempt queries.
type AttemptQuery struct {
	IntervalID  *string
	RecipientID *string
	Backend     *string
	Success     *bool
	Since       *time.Time
	Limit       int // default 50
	Offset      int
}

// Store defines all data access operations for restock-sentinel.
type Store interface {
	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	// Items
	UpsertItem(ctx context.Context, it *domain.Item) error
	GetItem(ctx context.Context, code, region string) (*domain.Item, error)
	ListItems(ctx context.Context, enabledOnly bool) ([]domain.Item, error)
	SetItemEnabled(ctx context.Context, code, region string, enabled bool) error
	UpdateItemPrice(ctx context.Context, code, region string, priceMinor int64, currency string) error

	// Snapshots
	InsertSnapshot(ctx context.Context, s *domain.Snapshot) error
	PruneSnapshots(ctx context.Context, olderThan time.Duration) (int64, error)

	// Stock intervals
	GetOpenInterval(ctx context.Context, key domain.MonitoredKey) (*domain.StockInterval, error)
	OpenInterval(ctx context.Context, key domain.MonitoredKey, openedAt time.Time) (*domain.StockInterval, error)
	CloseInterval(ctx context.Context, id string, closedAt time.Time, eligible bool) error
	ListOpenIntervals(ctx context.Context) ([]domain.StockInterval, error)
	ListClaimableIntervals(ctx context.Context) ([]domain.StockInterval, error)
	MarkIntervalNotified(ctx context.Context, id string) (bool, error)

	// Recipients
	ListActiveUserWebhooks(ctx context.Context, key domain.MonitoredKey) ([]domain.Recipient, error)
	ListActiveGroupWebhooks(ctx context.Context, key domain.MonitoredKey) ([]domain.Recipient, error)

	// Notification attempts
	InsertAttempt(ctx context.Context, a *domain.NotificationAttempt) error
	ListAttempts(ctx context.Context, opts *AttemptQuery) ([]domain.NotificationAttempt, int, error)
	HasSuccessfulAttempt(ctx context.Context, intervalID, recipientID string) (bool, error)

	// Migrations
	Migrate(ctx context.Context) error

	// Health
	Ping(ctx context.Context) error
}
