package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgrabowski/restock-sentinel/internal/source"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// fakeSource serves canned availability per item code.
type fakeSource struct {
	mu        sync.Mutex
	responses map[string]*source.Availability
	errs      map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		responses: make(map[string]*source.Availability),
		errs:      make(map[string]error),
	}
}

func (f *fakeSource) FetchAvailability(_ context.Context, it *domain.Item) (*source.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[it.Code]; err != nil {
		return nil, err
	}
	avail, ok := f.responses[it.Code]
	if !ok {
		return nil, source.ErrSourceUnavailable
	}
	return avail, nil
}

func (f *fakeSource) set(code string, observedAt time.Time, statuses map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var locs []source.LocationStatus
	for loc, status := range statuses {
		locs = append(locs, source.LocationStatus{Code: loc, Datacenter: loc, LinuxStatus: status})
	}
	f.responses[code] = &source.Availability{
		Locations:  locs,
		Raw:        json.RawMessage(`{}`),
		ObservedAt: observedAt,
	}
}

type engineFixture struct {
	store    *fakeStore
	source   *fakeSource
	notifier *fakeNotifier
	engine   *Engine
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	s := newFakeStore()
	src := newFakeSource()
	n := newFakeNotifier()
	d := newTestDispatcher(s, n)

	base := []EngineOption{
		WithLogger(discardLogger()),
		WithThresholdMinutes(60),
		WithSnapshotRetention(0),
	}
	eng := NewEngine(s, src, d, append(base, opts...)...)

	require.NoError(t, s.UpsertItem(context.Background(), &domain.Item{
		Code:        "vps-2023-le-2",
		Region:      "US",
		DisplayName: "VPS LE 2",
		Enabled:     true,
		Currency:    "USD",
	}))

	return &engineFixture{store: s, source: src, notifier: n, engine: eng}
}

func TestRunCycleOpensAndClosesIntervals(t *testing.T) {
	f := newEngineFixture(t, WithDefaultRecipient(defaultRecipient("https://discord.com/api/webhooks/1/a")))
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Cycle 1: bhs out of stock, gra in stock.
	f.source.set("vps-2023-le-2", t0, map[string]string{"bhs": "out-of-stock", "gra": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	open, err := f.store.ListOpenIntervals(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "bhs", open[0].Key.Location)
	assert.Equal(t, 0, f.notifier.sends("default"))

	// Cycle 2, 90 minutes later: bhs restocked.
	f.source.set("vps-2023-le-2", t0.Add(90*time.Minute), map[string]string{"bhs": "available", "gra": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	open, err = f.store.ListOpenIntervals(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, 1, f.notifier.sends("default"))
	assert.True(t, f.store.interval(open0ID(t, f.store)).Notified)
}

func open0ID(t *testing.T, s *fakeStore) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.intervals, 1)
	for id := range s.intervals {
		return id
	}
	return ""
}

func TestRunCycleBelowThresholdSendsNothing(t *testing.T) {
	f := newEngineFixture(t, WithDefaultRecipient(defaultRecipient("https://discord.com/api/webhooks/1/a")))
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	f.source.set("vps-2023-le-2", t0, map[string]string{"bhs": "out-of-stock"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	f.source.set("vps-2023-le-2", t0.Add(10*time.Minute), map[string]string{"bhs": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	assert.Equal(t, 0, f.notifier.sends("default"))
	iv := f.store.interval(open0ID(t, f.store))
	require.NotNil(t, iv.ClosedAt)
	assert.False(t, iv.Eligible)
}

func TestRunCycleFetchFailureCarriesStateForward(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	f.source.set("vps-2023-le-2", t0, map[string]string{"bhs": "out-of-stock"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	// Source outage: cycle completes, interval stays open untouched.
	f.source.errs["vps-2023-le-2"] = source.ErrSourceUnavailable
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	open, err := f.store.ListOpenIntervals(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, t0, open[0].OpenedAt)
}

func TestRunCycleRecordsSnapshots(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	f.source.set("vps-2023-le-2", t0, map[string]string{"bhs": "out-of-stock", "gra": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Len(t, f.store.snapshots, 2)
}

func TestRunCyclePrunesOldSnapshots(t *testing.T) {
	f := newEngineFixture(t, WithSnapshotRetention(24*time.Hour))
	ctx := context.Background()

	require.NoError(t, f.store.InsertSnapshot(ctx, &domain.Snapshot{
		Key:        trackerKey(),
		Raw:        json.RawMessage(`{}`),
		ObservedAt: time.Now().Add(-48 * time.Hour),
	}))

	f.source.set("vps-2023-le-2", time.Now(), map[string]string{"bhs": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.snapshots, 1, "stale snapshot pruned, fresh one kept")
	assert.Equal(t, "bhs", f.store.snapshots[0].Key.Location)
}

func TestRunCyclePicksUpLeftoverClaimables(t *testing.T) {
	f := newEngineFixture(t, WithDefaultRecipient(defaultRecipient("https://discord.com/api/webhooks/1/a")))
	ctx := context.Background()

	// A previous process closed this interval eligible but crashed before
	// dispatch.
	id, _ := seedClaimable(t, f.store)

	f.source.set("vps-2023-le-2", time.Now(), map[string]string{"bhs": "available"})
	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	assert.True(t, f.store.interval(id).Notified)
	assert.Equal(t, 1, f.notifier.sends("default"))
}

func TestEffectiveThreshold(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	t.Run("default without setting", func(t *testing.T) {
		assert.Equal(t, 60, f.engine.effectiveThreshold(ctx))
	})

	t.Run("setting overrides", func(t *testing.T) {
		require.NoError(t, f.store.SetSetting(ctx, store.SettingThresholdMinutes, "90"))
		assert.Equal(t, 90, f.engine.effectiveThreshold(ctx))
	})

	t.Run("out-of-range setting clamps", func(t *testing.T) {
		require.NoError(t, f.store.SetSetting(ctx, store.SettingThresholdMinutes, "0"))
		assert.Equal(t, 1, f.engine.effectiveThreshold(ctx))

		require.NoError(t, f.store.SetSetting(ctx, store.SettingThresholdMinutes, "5000"))
		assert.Equal(t, 1440, f.engine.effectiveThreshold(ctx))
	})

	t.Run("malformed setting falls back", func(t *testing.T) {
		require.NoError(t, f.store.SetSetting(ctx, store.SettingThresholdMinutes, "soon"))
		assert.Equal(t, 60, f.engine.effectiveThreshold(ctx))
	})
}

func TestEffectiveDefaultRecipient(t *testing.T) {
	ctx := context.Background()

	t.Run("nil without config or settings", func(t *testing.T) {
		f := newEngineFixture(t)
		assert.Nil(t, f.engine.effectiveDefaultRecipient(ctx))
	})

	t.Run("config value used as is", func(t *testing.T) {
		f := newEngineFixture(t, WithDefaultRecipient(defaultRecipient("https://discord.com/api/webhooks/1/a")))
		r := f.engine.effectiveDefaultRecipient(ctx)
		require.NotNil(t, r)
		assert.Equal(t, "https://discord.com/api/webhooks/1/a", r.WebhookURL)
	})

	t.Run("settings override URL and backend", func(t *testing.T) {
		f := newEngineFixture(t, WithDefaultRecipient(defaultRecipient("https://discord.com/api/webhooks/1/a")))
		require.NoError(t, f.store.SetSetting(ctx, store.SettingDefaultWebhookURL, "https://hooks.slack.com/services/T/B/x"))
		require.NoError(t, f.store.SetSetting(ctx, store.SettingDefaultBackend, "slack"))

		r := f.engine.effectiveDefaultRecipient(ctx)
		require.NotNil(t, r)
		assert.Equal(t, "https://hooks.slack.com/services/T/B/x", r.WebhookURL)
		assert.Equal(t, domain.BackendSlack, r.Backend)
	})

	t.Run("settings alone create a default", func(t *testing.T) {
		f := newEngineFixture(t)
		require.NoError(t, f.store.SetSetting(ctx, store.SettingDefaultWebhookURL, "https://discord.com/api/webhooks/9/z"))

		r := f.engine.effectiveDefaultRecipient(ctx)
		require.NotNil(t, r)
		assert.Equal(t, domain.RecipientSystemDefault, r.Kind)
		assert.Equal(t, "https://discord.com/api/webhooks/9/z", r.WebhookURL)
	})
}

func TestRunCycleDisabledItemsSkipped(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetItemEnabled(ctx, "vps-2023-le-2", "US", false))
	f.source.set("vps-2023-le-2", time.Now(), map[string]string{"bhs": "out-of-stock"})

	require.NoError(t, f.engine.RunCycle(ctx))
	f.engine.Wait()

	open, err := f.store.ListOpenIntervals(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}
