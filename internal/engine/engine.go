// Package engine orchestrates availability polling, interval tracking, and
// notification fanout for restock-sentinel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/internal/source"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Engine orchestrates one poll cycle: fetch availability, update interval
// state, and hand eligible restocks to the dispatcher.
type Engine struct {
	store      store.Store
	source     source.Client
	tracker    *Tracker
	resolver   *Resolver
	dispatcher *Dispatcher
	log        *slog.Logger

	defaultRecipient  *domain.Recipient
	thresholdDefault  int
	fetchConcurrency  int
	cycleDeadline     time.Duration
	snapshotRetention time.Duration
	nowFunc           func() time.Time

	wg sync.WaitGroup
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
		e.tracker = NewTracker(e.store, l)
		e.resolver = NewResolver(e.store, l)
	}
}

// WithDefaultRecipient sets the file-configured system default recipient.
// The settings table can still override its URL and backend at runtime.
func WithDefaultRecipient(r *domain.Recipient) EngineOption {
	return func(e *Engine) {
		e.defaultRecipient = r
	}
}

// WithThresholdMinutes sets the fallback notification threshold used when
// the settings table carries no override.
func WithThresholdMinutes(minutes int) EngineOption {
	return func(e *Engine) {
		e.thresholdDefault = ClampThreshold(minutes)
	}
}

// WithFetchConcurrency bounds concurrent availability fetches per cycle.
func WithFetchConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.fetchConcurrency = n
	}
}

// WithCycleDeadline bounds the wall-clock time of one poll cycle.
func WithCycleDeadline(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.cycleDeadline = d
	}
}

// WithSnapshotRetention sets how long raw availability snapshots are kept.
// Zero disables pruning.
func WithSnapshotRetention(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.snapshotRetention = d
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = f
	}
}

// NewEngine creates a new Engine with injected dependencies.
func NewEngine(
	s store.Store,
	src source.Client,
	d *Dispatcher,
	opts ...EngineOption,
) *Engine {
	eng := &Engine{
		store:             s,
		source:            src,
		dispatcher:        d,
		log:               slog.Default(),
		thresholdDefault:  60,
		fetchConcurrency:  4,
		cycleDeadline:     90 * time.Second,
		snapshotRetention: 7 * 24 * time.Hour,
		nowFunc:           time.Now,
	}
	eng.tracker = NewTracker(s, eng.log)
	eng.resolver = NewResolver(s, eng.log)
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// observation pairs a fetched availability with its item.
type observation struct {
	item  domain.Item
	avail *source.Availability
}

// RunCycle executes one full poll cycle: fetch availability for every
// enabled item, apply observations to interval state, then dispatch all
// claimable restocks.
func (eng *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, eng.cycleDeadline)
	defer cancel()

	threshold := eng.effectiveThreshold(ctx)

	items, err := eng.store.ListItems(ctx, true)
	if err != nil {
		return fmt.Errorf("listing monitored items: %w", err)
	}

	observations := eng.fetchAll(ctx, items)

	// Human-readable location names, kept for message formatting.
	locationNames := make(map[string]string)

	for _, obs := range observations {
		for _, loc := range obs.avail.Locations {
			if loc.Datacenter != "" {
				locationNames[loc.Code] = loc.Datacenter
			}
			key := domain.MonitoredKey{
				ItemCode: obs.item.Code,
				Region:   obs.item.Region,
				Location: loc.Code,
			}

			if err := eng.store.InsertSnapshot(ctx, &domain.Snapshot{
				Key:        key,
				Available:  loc.Available(),
				Raw:        obs.avail.Raw,
				ObservedAt: obs.avail.ObservedAt,
			}); err != nil {
				eng.log.Error("recording snapshot", "key", key.String(), "error", err)
			}

			if _, err := eng.tracker.Observe(ctx, key, loc.Available(), obs.avail.ObservedAt, threshold); err != nil {
				eng.log.Error("applying observation", "key", key.String(), "error", err)
			}
		}
	}

	if err := eng.dispatchClaimable(ctx, locationNames); err != nil {
		return err
	}

	eng.pruneSnapshots(ctx)

	return ctx.Err()
}

// fetchAll retrieves availability for every item through a bounded pool.
// Fetch failures are logged and skipped; interval state carries forward.
func (eng *Engine) fetchAll(ctx context.Context, items []domain.Item) []observation {
	sem := make(chan struct{}, eng.fetchConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []observation

	for i := range items {
		it := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			avail, err := eng.source.FetchAvailability(ctx, &it)
			if err != nil {
				metrics.SnapshotFetchErrorsTotal.Inc()
				eng.log.Warn("availability fetch failed",
					"item", it.Code,
					"region", it.Region,
					"error", err,
				)
				return
			}

			mu.Lock()
			out = append(out, observation{item: it, avail: avail})
			mu.Unlock()
		}()
	}
	wg.Wait()

	return out
}

// dispatchClaimable fans out every closed, eligible, unnotified interval.
// This covers both transitions from this cycle and ones left over from
// earlier runs that crashed or failed to deliver.
func (eng *Engine) dispatchClaimable(ctx context.Context, locationNames map[string]string) error {
	claimable, err := eng.store.ListClaimableIntervals(ctx)
	if err != nil {
		return fmt.Errorf("listing claimable intervals: %w", err)
	}

	defaultRecipient := eng.effectiveDefaultRecipient(ctx)

	for i := range claimable {
		iv := claimable[i]
		if eng.dispatcher.Inflight(iv.ID) {
			continue
		}

		item, err := eng.store.GetItem(ctx, iv.Key.ItemCode, iv.Key.Region)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				eng.log.Warn("claimable interval references unknown item", "key", iv.Key.String())
				continue
			}
			return fmt.Errorf("loading item for interval %s: %w", iv.ID, err)
		}

		recipients, err := eng.resolver.Resolve(ctx, iv.Key, defaultRecipient)
		if err != nil {
			eng.log.Error("resolving recipients", "interval_id", iv.ID, "error", err)
			continue
		}

		ev := &notify.Event{
			Item:        item,
			Key:         iv.Key,
			Datacenter:  locationNames[iv.Key.Location],
			OutSince:    iv.OpenedAt,
			RestockedAt: *iv.ClosedAt,
			Duration:    iv.ClosedAt.Sub(iv.OpenedAt),
		}

		eng.wg.Add(1)
		go func() {
			defer eng.wg.Done()
			if err := eng.dispatcher.Dispatch(context.WithoutCancel(ctx), iv.ID, ev, recipients); err != nil {
				if errors.Is(err, ErrClaimConflict) {
					eng.log.Debug("interval claimed elsewhere", "interval_id", iv.ID)
					return
				}
				eng.log.Error("dispatch failed", "interval_id", iv.ID, "error", err)
			}
		}()
	}

	return nil
}

// pruneSnapshots drops raw snapshots past the retention window. Failures
// are logged; stale audit rows never abort a cycle.
func (eng *Engine) pruneSnapshots(ctx context.Context) {
	if eng.snapshotRetention <= 0 {
		return
	}
	n, err := eng.store.PruneSnapshots(ctx, eng.snapshotRetention)
	if err != nil {
		eng.log.Warn("pruning snapshots", "error", err)
		return
	}
	if n > 0 {
		eng.log.Debug("pruned snapshots", "count", n)
	}
}

// Wait blocks until all background dispatches have finished.
func (eng *Engine) Wait() {
	eng.wg.Wait()
}

// effectiveThreshold reads the runtime threshold override from settings,
// falling back to the configured default. The override is clamped rather
// than rejected.
func (eng *Engine) effectiveThreshold(ctx context.Context) int {
	raw, err := eng.store.GetSetting(ctx, store.SettingThresholdMinutes)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			eng.log.Warn("reading threshold setting", "error", err)
		}
		return eng.thresholdDefault
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil {
		eng.log.Warn("ignoring malformed threshold setting", "value", raw)
		return eng.thresholdDefault
	}

	return ClampThreshold(minutes)
}

// effectiveDefaultRecipient overlays settings-table overrides on the
// file-configured default recipient.
func (eng *Engine) effectiveDefaultRecipient(ctx context.Context) *domain.Recipient {
	r := eng.defaultRecipient

	url, err := eng.store.GetSetting(ctx, store.SettingDefaultWebhookURL)
	if err != nil || url == "" {
		return r
	}

	var override domain.Recipient
	if r != nil {
		override = *r
	} else {
		override = domain.Recipient{
			ID:           "default",
			Kind:         domain.RecipientSystemDefault,
			Backend:      domain.BackendDiscord,
			Name:         "System Default",
			IncludePrice: true,
			IncludeSpecs: true,
			Active:       true,
		}
	}
	override.WebhookURL = url

	if backend, err := eng.store.GetSetting(ctx, store.SettingDefaultBackend); err == nil && backend != "" {
		override.Backend = domain.Backend(backend)
	}

	return &override
}

// TestEvent builds a synthetic restock event for webhook verification.
func TestEvent(now time.Time) *notify.Event {
	vcpu, ram := 2, 4
	price := int64(1299)
	return &notify.Event{
		Item: &domain.Item{
			Code:        "test-plan",
			Region:      "US",
			DisplayName: "Webhook Test",
			PurchaseURL: "https://example.com/order/test-plan",
			Specs:       domain.ItemSpecs{VCPU: &vcpu, RAMGB: &ram},
			PriceMinor:  &price,
			Currency:    "USD",
		},
		Key:         domain.MonitoredKey{ItemCode: "test-plan", Region: "US", Location: "test"},
		Datacenter:  "Test Datacenter",
		OutSince:    now.Add(-90 * time.Minute),
		RestockedAt: now,
		Duration:    90 * time.Minute,
	}
}
