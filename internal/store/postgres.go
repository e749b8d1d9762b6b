package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

const defaultPoolSize = 10

// PostgresStore implements Store using pgxpool (connection-pooled PostgreSQL).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with connection pooling.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	cfg.MaxConns = defaultPoolSize

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close gracefully shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool for test seeding.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.pool)
}

// GetSetting returns the value for a settings key.
// Returns pgx.ErrNoRows when the key is absent.
func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.pool.QueryRow(ctx, queryGetSetting, key).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting inserts or updates a settings key.
func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.pool.Exec(ctx, querySetSetting, key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns all settings keyed by name.
func (s *PostgresStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, queryListSettings)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return out, nil
}

// UpsertItem inserts or updates a catalog item by (code, region).
func (s *PostgresStore) UpsertItem(ctx context.Context, it *domain.Item) error {
	args := pgx.NamedArgs{
		"code":           it.Code,
		"region":         it.Region,
		"display_name":   it.DisplayName,
		"url":            it.URL,
		"purchase_url":   it.PurchaseURL,
		"enabled":        it.Enabled,
		"vcpu":           it.Specs.VCPU,
		"ram_gb":         it.Specs.RAMGB,
		"storage_gb":     it.Specs.StorageGB,
		"bandwidth_mbps": it.Specs.BandwidthMbps,
		"price_minor":    it.PriceMinor,
		"currency":       it.Currency,
	}

	if _, err := s.pool.Exec(ctx, queryUpsertItem, args); err != nil {
		return fmt.Errorf("upserting item %s/%s: %w", it.Code, it.Region, err)
	}
	return nil
}

// GetItem retrieves a catalog item by code and region.
func (s *PostgresStore) GetItem(ctx context.Context, code, region string) (*domain.Item, error) {
	it := &domain.Item{}
	if err := scanItem(s.pool.QueryRow(ctx, queryGetItem, code, region), it); err != nil {
		return nil, err
	}
	return it, nil
}

// ListItems returns catalog items, optionally restricted to enabled ones.
func (s *PostgresStore) ListItems(ctx context.Context, enabledOnly bool) ([]domain.Item, error) {
	query := queryListItems
	if enabledOnly {
		query = queryListEnabledItems
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// SetItemEnabled toggles monitoring for an item.
func (s *PostgresStore) SetItemEnabled(ctx context.Context, code, region string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, querySetItemEnabled, code, region, enabled)
	if err != nil {
		return fmt.Errorf("updating item %s/%s: %w", code, region, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateItemPrice records the current price for an item in minor currency units.
func (s *PostgresStore) UpdateItemPrice(ctx context.Context, code, region string, priceMinor int64, currency string) error {
	tag, err := s.pool.Exec(ctx, queryUpdateItemPrice, code, region, priceMinor, currency)
	if err != nil {
		return fmt.Errorf("updating price for %s/%s: %w", code, region, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertSnapshot records a raw availability observation.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	args := pgx.NamedArgs{
		"item_code":   snap.Key.ItemCode,
		"region":      snap.Key.Region,
		"location":    snap.Key.Location,
		"available":   snap.Available,
		"raw":         snap.Raw,
		"observed_at": snap.ObservedAt,
	}

	if _, err := s.pool.Exec(ctx, queryInsertSnapshot, args); err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", snap.Key, err)
	}
	return nil
}

// PruneSnapshots deletes snapshots older than the retention window.
func (s *PostgresStore) PruneSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, queryPruneSnapshots, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetOpenInterval returns the open out-of-stock interval for a monitored key.
// Returns pgx.ErrNoRows when no interval is open.
func (s *PostgresStore) GetOpenInterval(ctx context.Context, key domain.MonitoredKey) (*domain.StockInterval, error) {
	iv := &domain.StockInterval{}
	err := scanInterval(s.pool.QueryRow(ctx, queryGetOpenInterval, key.ItemCode, key.Region, key.Location), iv)
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// OpenInterval opens a new out-of-stock interval. The partial unique index on
// open intervals rejects a second open interval for the same key.
func (s *PostgresStore) OpenInterval(ctx context.Context, key domain.MonitoredKey, openedAt time.Time) (*domain.StockInterval, error) {
	iv := &domain.StockInterval{}
	err := scanInterval(s.pool.QueryRow(ctx, queryOpenInterval, key.ItemCode, key.Region, key.Location, openedAt), iv)
	if err != nil {
		return nil, fmt.Errorf("opening interval for %s: %w", key, err)
	}
	return iv, nil
}

// CloseInterval closes an open interval, recording whether its duration met
// the notification threshold.
func (s *PostgresStore) CloseInterval(ctx context.Context, id string, closedAt time.Time, eligible bool) error {
	tag, err := s.pool.Exec(ctx, queryCloseInterval, id, closedAt, eligible)
	if err != nil {
		return fmt.Errorf("closing interval %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListOpenIntervals returns all currently open intervals.
func (s *PostgresStore) ListOpenIntervals(ctx context.Context) ([]domain.StockInterval, error) {
	return s.listIntervals(ctx, queryListOpenIntervals)
}

// ListClaimableIntervals returns closed, eligible intervals not yet notified.
func (s *PostgresStore) ListClaimableIntervals(ctx context.Context) ([]domain.StockInterval, error) {
	return s.listIntervals(ctx, queryListClaimableIntervals)
}

func (s *PostgresStore) listIntervals(ctx context.Context, query string) ([]domain.StockInterval, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying intervals: %w", err)
	}
	defer rows.Close()

	var intervals []domain.StockInterval
	for rows.Next() {
		var iv domain.StockInterval
		if err := scanInterval(rows, &iv); err != nil {
			return nil, fmt.Errorf("scanning interval: %w", err)
		}
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating intervals: %w", err)
	}
	return intervals, nil
}

// MarkIntervalNotified atomically claims an interval for notification.
// It returns false when another claimer already marked the interval.
func (s *PostgresStore) MarkIntervalNotified(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, queryMarkIntervalNotified, id)
	if err != nil {
		return false, fmt.Errorf("marking interval %s notified: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveUserWebhooks returns active user webhooks subscribed to a key.
func (s *PostgresStore) ListActiveUserWebhooks(ctx context.Context, key domain.MonitoredKey) ([]domain.Recipient, error) {
	return s.listWebhooks(ctx, queryListActiveUserWebhooks, domain.RecipientUserWebhook, key)
}

// ListActiveGroupWebhooks returns active group webhooks subscribed to a key.
func (s *PostgresStore) ListActiveGroupWebhooks(ctx context.Context, key domain.MonitoredKey) ([]domain.Recipient, error) {
	return s.listWebhooks(ctx, queryListActiveGroupWebhooks, domain.RecipientGroupWebhook, key)
}

func (s *PostgresStore) listWebhooks(
	ctx context.Context,
	query string,
	kind domain.RecipientKind,
	key domain.MonitoredKey,
) ([]domain.Recipient, error) {
	rows, err := s.pool.Query(ctx, query, key.ItemCode, key.Region)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var backend string
		err := rows.Scan(
			&r.ID, &r.Name, &backend, &r.WebhookURL,
			&r.BotUsername, &r.AvatarURL, &r.EmbedColor, &r.MentionRoleID,
			&r.SlackChannel, &r.IncludePrice, &r.IncludeSpecs, &r.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		r.Kind = kind
		r.Backend = domain.Backend(backend)
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}
	return recipients, nil
}

// InsertAttempt records a delivery attempt.
func (s *PostgresStore) InsertAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	args := pgx.NamedArgs{
		"interval_id":    a.IntervalID,
		"recipient_id":   a.RecipientID,
		"recipient_kind": string(a.RecipientKind),
		"backend":        string(a.Backend),
		"message":        a.Message,
		"sent_at":        a.SentAt,
		"success":        a.Success,
		"error":          a.Error,
	}

	if err := s.pool.QueryRow(ctx, queryInsertAttempt, args).Scan(&a.ID); err != nil {
		return fmt.Errorf("inserting attempt for interval %s: %w", a.IntervalID, err)
	}
	return nil
}

// ListAttempts queries delivery attempts with optional filters, returning
// results and total count.
func (s *PostgresStore) ListAttempts(
	ctx context.Context,
	opts *AttemptQuery,
) ([]domain.NotificationAttempt, int, error) {
	dataSQL, countSQL, args := opts.ToSQL()

	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting attempts: %w", err)
	}

	rows, err := s.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.NotificationAttempt
	for rows.Next() {
		var a domain.NotificationAttempt
		var kind, backend string
		err := rows.Scan(
			&a.ID, &a.IntervalID, &a.RecipientID, &kind, &backend,
			&a.Message, &a.SentAt, &a.Success, &a.Error,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning attempt: %w", err)
		}
		a.RecipientKind = domain.RecipientKind(kind)
		a.Backend = domain.Backend(backend)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating attempts: %w", err)
	}

	return attempts, total, nil
}

// HasSuccessfulAttempt reports whether a recipient was already delivered to
// for an interval.
func (s *PostgresStore) HasSuccessfulAttempt(ctx context.Context, intervalID, recipientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, queryHasSuccessfulAttempt, intervalID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking attempts for interval %s: %w", intervalID, err)
	}
	return exists, nil
}

// scanner abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner, it *domain.Item) error {
	return row.Scan(
		&it.Code, &it.Region, &it.DisplayName, &it.URL, &it.PurchaseURL, &it.Enabled,
		&it.Specs.VCPU, &it.Specs.RAMGB, &it.Specs.StorageGB, &it.Specs.BandwidthMbps,
		&it.PriceMinor, &it.Currency,
	)
}

func scanInterval(row scanner, iv *domain.StockInterval) error {
	return row.Scan(
		&iv.ID, &iv.Key.ItemCode, &iv.Key.Region, &iv.Key.Location,
		&iv.OpenedAt, &iv.ClosedAt, &iv.Eligible, &iv.Notified,
	)
}
