package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// fakeStore is an in-memory Store for engine tests. It mirrors the
// PostgresStore semantics that matter here: pgx.ErrNoRows for misses, one
// open interval per key, and a compare-and-set notified claim.
type fakeStore struct {
	mu sync.Mutex

	settings  map[string]string
	items     map[string]domain.Item // code|region
	intervals map[string]*domain.StockInterval
	snapshots []domain.Snapshot
	attempts  []domain.NotificationAttempt

	userWebhooks  []domain.Recipient
	groupWebhooks []domain.Recipient
	subscriptions map[string][]domain.Subscription // recipient ID -> subs

	insertAttemptErr error
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:      make(map[string]string),
		items:         make(map[string]domain.Item),
		intervals:     make(map[string]*domain.StockInterval),
		subscriptions: make(map[string][]domain.Subscription),
	}
}

func itemKey(code, region string) string {
	return code + "|" + region
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[key]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return v, nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

func (f *fakeStore) ListSettings(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.settings))
	for k, v := range f.settings {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) UpsertItem(_ context.Context, it *domain.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(it.Code, it.Region)] = *it
	return nil
}

func (f *fakeStore) GetItem(_ context.Context, code, region string) (*domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemKey(code, region)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &it, nil
}

func (f *fakeStore) ListItems(_ context.Context, enabledOnly bool) ([]domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Item
	for _, it := range f.items {
		if enabledOnly && !it.Enabled {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeStore) SetItemEnabled(_ context.Context, code, region string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemKey(code, region)]
	if !ok {
		return pgx.ErrNoRows
	}
	it.Enabled = enabled
	f.items[itemKey(code, region)] = it
	return nil
}

func (f *fakeStore) UpdateItemPrice(_ context.Context, code, region string, priceMinor int64, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemKey(code, region)]
	if !ok {
		return pgx.ErrNoRows
	}
	it.PriceMinor = &priceMinor
	it.Currency = currency
	f.items[itemKey(code, region)] = it
	return nil
}

func (f *fakeStore) InsertSnapshot(_ context.Context, s *domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *s)
	return nil
}

func (f *fakeStore) PruneSnapshots(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var kept []domain.Snapshot
	for _, s := range f.snapshots {
		if !s.ObservedAt.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	pruned := int64(len(f.snapshots) - len(kept))
	f.snapshots = kept
	return pruned, nil
}

func (f *fakeStore) GetOpenInterval(_ context.Context, key domain.MonitoredKey) (*domain.StockInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, iv := range f.intervals {
		if iv.Key == key && iv.ClosedAt == nil {
			cp := *iv
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) OpenInterval(_ context.Context, key domain.MonitoredKey, openedAt time.Time) (*domain.StockInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, iv := range f.intervals {
		if iv.Key == key && iv.ClosedAt == nil {
			return nil, fmt.Errorf("duplicate open interval for %s", key)
		}
	}
	iv := &domain.StockInterval{
		ID:       uuid.NewString(),
		Key:      key,
		OpenedAt: openedAt,
	}
	f.intervals[iv.ID] = iv
	cp := *iv
	return &cp, nil
}

func (f *fakeStore) CloseInterval(_ context.Context, id string, closedAt time.Time, eligible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.intervals[id]
	if !ok || iv.ClosedAt != nil {
		return pgx.ErrNoRows
	}
	iv.ClosedAt = &closedAt
	iv.Eligible = eligible
	return nil
}

func (f *fakeStore) ListOpenIntervals(_ context.Context) ([]domain.StockInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StockInterval
	for _, iv := range f.intervals {
		if iv.ClosedAt == nil {
			out = append(out, *iv)
		}
	}
	return out, nil
}

func (f *fakeStore) ListClaimableIntervals(_ context.Context) ([]domain.StockInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StockInterval
	for _, iv := range f.intervals {
		if iv.ClosedAt != nil && iv.Eligible && !iv.Notified {
			out = append(out, *iv)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkIntervalNotified(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.intervals[id]
	if !ok || iv.Notified {
		return false, nil
	}
	iv.Notified = true
	return true, nil
}

func (f *fakeStore) ListActiveUserWebhooks(_ context.Context, key domain.MonitoredKey) ([]domain.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matching(f.userWebhooks, key), nil
}

func (f *fakeStore) ListActiveGroupWebhooks(_ context.Context, key domain.MonitoredKey) ([]domain.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matching(f.groupWebhooks, key), nil
}

func (f *fakeStore) matching(hooks []domain.Recipient, key domain.MonitoredKey) []domain.Recipient {
	var out []domain.Recipient
	for _, h := range hooks {
		if !h.Active {
			continue
		}
		for _, sub := range f.subscriptions[h.ID] {
			if sub.Matches(key) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

func (f *fakeStore) InsertAttempt(_ context.Context, a *domain.NotificationAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertAttemptErr != nil {
		return f.insertAttemptErr
	}
	a.ID = uuid.NewString()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeStore) ListAttempts(_ context.Context, opts *store.AttemptQuery) ([]domain.NotificationAttempt, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NotificationAttempt
	for _, a := range f.attempts {
		if opts.IntervalID != nil && a.IntervalID != *opts.IntervalID {
			continue
		}
		if opts.RecipientID != nil && a.RecipientID != *opts.RecipientID {
			continue
		}
		if opts.Success != nil && a.Success != *opts.Success {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (f *fakeStore) HasSuccessfulAttempt(_ context.Context, intervalID, recipientID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.IntervalID == intervalID && a.RecipientID == recipientID && a.Success {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Migrate(_ context.Context) error {
	return nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	return nil
}

// attemptCount returns recorded attempts for an interval/recipient pair.
func (f *fakeStore) attemptCount(intervalID, recipientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.IntervalID == intervalID && a.RecipientID == recipientID {
			n++
		}
	}
	return n
}

func (f *fakeStore) interval(id string) domain.StockInterval {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.intervals[id]
}
