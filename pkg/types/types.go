// Package domain defines the core business types for restock-sentinel.
package domain

import (
	"encoding/json"
	"time"
)

// MonitoredKey identifies a single (item, region, location) tuple under
// observation. Immutable once created; used as the identity for intervals,
// snapshots, and transition events.
type MonitoredKey struct {
	ItemCode string `json:"item_code" db:"item_code"`
	Region   string `json:"region"    db:"region"`
	Location string `json:"location"  db:"location"`
}

// String renders the key as "item/region/location" for logs and metrics.
func (k MonitoredKey) String() string {
	return k.ItemCode + "/" + k.Region + "/" + k.Location
}

// Snapshot is one availability observation for a monitored key. Snapshots are
// ephemeral input; they are persisted only as an audit trail.
type Snapshot struct {
	Key        MonitoredKey    `json:"key"`
	Available  bool            `json:"available"`
	ObservedAt time.Time       `json:"observed_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// StockInterval is a contiguous span during which a key was unavailable.
// At most one interval per key has ClosedAt == nil (the open interval).
type StockInterval struct {
	ID       string       `json:"id"                  db:"id"`
	Key      MonitoredKey `json:"key"`
	OpenedAt time.Time    `json:"opened_at"           db:"opened_at"`
	ClosedAt *time.Time   `json:"closed_at,omitempty" db:"closed_at"`
	// Eligible is decided once, when the interval closes, and never
	// reconsidered afterwards even if the threshold changes.
	Eligible bool `json:"eligible" db:"eligible"`
	// Notified flips to true only after at least one delivery attempt for
	// this interval has been durably recorded.
	Notified bool `json:"notified" db:"notified"`
}

// Duration returns how long the interval has been (or was) open, measured
// against now for open intervals.
func (i *StockInterval) Duration(now time.Time) time.Duration {
	if i.ClosedAt != nil {
		return i.ClosedAt.Sub(i.OpenedAt)
	}
	return now.Sub(i.OpenedAt)
}

// TransitionEvent marks the moment a key became available again after an
// out-of-stock interval.
type TransitionEvent struct {
	IntervalID string        `json:"interval_id"`
	Key        MonitoredKey  `json:"key"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   time.Time     `json:"closed_at"`
	Duration   time.Duration `json:"duration"`
}

// RecipientKind discriminates the three recipient variants.
type RecipientKind string

// Recipient kind constants.
const (
	RecipientSystemDefault RecipientKind = "system_default"
	RecipientUserWebhook   RecipientKind = "user_webhook"
	RecipientGroupWebhook  RecipientKind = "group_webhook"
)

// Backend selects the outbound wire format for a recipient.
type Backend string

// Backend constants.
const (
	BackendDiscord Backend = "discord"
	BackendSlack   Backend = "slack"
)

// Recipient is a configured notification destination with delivery
// preferences. The same struct covers all three kinds; kind-irrelevant
// customization fields are simply left empty.
type Recipient struct {
	ID      string        `json:"id"      db:"id"`
	Kind    RecipientKind `json:"kind"    db:"kind"`
	Backend Backend       `json:"backend" db:"backend"`

	WebhookURL string `json:"webhook_url" db:"webhook_url"`
	Name       string `json:"name"        db:"name"`

	// Display customization.
	BotUsername   string `json:"bot_username,omitempty"    db:"bot_username"`
	AvatarURL     string `json:"avatar_url,omitempty"      db:"avatar_url"`
	EmbedColor    string `json:"embed_color,omitempty"     db:"embed_color"` // hex, e.g. "#57F287"
	MentionRoleID string `json:"mention_role_id,omitempty" db:"mention_role_id"`
	SlackChannel  string `json:"slack_channel,omitempty"   db:"slack_channel"`

	// Content toggles.
	IncludePrice bool `json:"include_price" db:"include_price"`
	IncludeSpecs bool `json:"include_specs" db:"include_specs"`

	Active bool `json:"active" db:"active"`
}

// Identity returns the deduplication key for fanout: the same webhook target
// is notified once even when reachable through multiple subscription rows.
func (r *Recipient) Identity() string {
	return string(r.Backend) + "|" + r.WebhookURL
}

// Subscription filters which keys a recipient wants notifications for.
// A nil Region matches every region for the item.
type Subscription struct {
	ItemCode string  `json:"item_code"        db:"item_code"`
	Region   *string `json:"region,omitempty" db:"region"`
}

// Matches reports whether the subscription covers the given key.
func (s Subscription) Matches(key MonitoredKey) bool {
	if s.ItemCode != key.ItemCode {
		return false
	}
	return s.Region == nil || *s.Region == key.Region
}

// ItemSpecs holds optional hardware specifications for a catalog item.
// Unknown values stay nil and are omitted from notifications.
type ItemSpecs struct {
	VCPU          *int `json:"vcpu,omitempty"           db:"vcpu"`
	RAMGB         *int `json:"ram_gb,omitempty"         db:"ram_gb"`
	StorageGB     *int `json:"storage_gb,omitempty"     db:"storage_gb"`
	BandwidthMbps *int `json:"bandwidth_mbps,omitempty" db:"bandwidth_mbps"`
}

// Item is the catalog read model for a monitored item in one region.
// Catalog mutation is owned by the external catalog-sync collaborator.
type Item struct {
	Code        string `json:"code"         db:"code"`
	Region      string `json:"region"       db:"region"`
	DisplayName string `json:"display_name" db:"display_name"`
	URL         string `json:"url"          db:"url"`
	PurchaseURL string `json:"purchase_url" db:"purchase_url"`
	Enabled     bool   `json:"enabled"      db:"enabled"`

	Specs ItemSpecs `json:"specs"`

	// Price in minor currency units (cents), nil when unknown.
	PriceMinor *int64 `json:"price_minor,omitempty" db:"price_minor"`
	Currency   string `json:"currency,omitempty"    db:"currency"`
}

// Label returns the display name, falling back to the item code.
func (it *Item) Label() string {
	if it.DisplayName != "" {
		return it.DisplayName
	}
	return it.Code
}

// NotificationAttempt is one append-only delivery record for an
// (interval, recipient) pair. Retries append additional rows.
type NotificationAttempt struct {
	ID            string        `json:"id"              db:"id"`
	IntervalID    string        `json:"interval_id"     db:"interval_id"`
	RecipientID   string        `json:"recipient_id"    db:"recipient_id"`
	RecipientKind RecipientKind `json:"recipient_kind"  db:"recipient_kind"`
	Backend       Backend       `json:"backend"         db:"backend"`
	Message       string        `json:"message"`
	SentAt        time.Time     `json:"sent_at"         db:"sent_at"`
	Success       bool          `json:"success"         db:"success"`
	Error         string        `json:"error,omitempty" db:"error_text"`
}
