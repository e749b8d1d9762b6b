package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

func doGET(t *testing.T, h echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	return f.err
}

func TestHealthz(t *testing.T) {
	h := NewHealthHandler(&fakePinger{})
	rec := doGET(t, h.Healthz, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := NewHealthHandler(&fakePinger{})
		rec := doGET(t, h.Readyz, "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(&fakePinger{err: errors.New("connection refused")})
		rec := doGET(t, h.Readyz, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

type fakeAttemptStore struct {
	gotQuery *store.AttemptQuery
	attempts []domain.NotificationAttempt
	err      error
}

func (f *fakeAttemptStore) ListAttempts(_ context.Context, opts *store.AttemptQuery) ([]domain.NotificationAttempt, int, error) {
	f.gotQuery = opts
	return f.attempts, len(f.attempts), f.err
}

func TestAttemptsList(t *testing.T) {
	t.Run("passes filters through", func(t *testing.T) {
		s := &fakeAttemptStore{attempts: []domain.NotificationAttempt{{
			ID:          "a1",
			IntervalID:  "iv1",
			RecipientID: "default",
			Backend:     domain.BackendDiscord,
			Success:     true,
			SentAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}}}
		h := NewAttemptsHandler(s)

		rec := doGET(t, h.List,
			"/api/v1/attempts?interval_id=iv1&backend=discord&success=true&since=2026-03-01T00:00:00Z&limit=10&offset=5")
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, s.gotQuery)
		require.NotNil(t, s.gotQuery.IntervalID)
		assert.Equal(t, "iv1", *s.gotQuery.IntervalID)
		require.NotNil(t, s.gotQuery.Success)
		assert.True(t, *s.gotQuery.Success)
		require.NotNil(t, s.gotQuery.Since)
		assert.Equal(t, 10, s.gotQuery.Limit)
		assert.Equal(t, 5, s.gotQuery.Offset)

		var resp attemptsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
		require.Len(t, resp.Attempts, 1)
		assert.Equal(t, "a1", resp.Attempts[0].ID)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		h := NewAttemptsHandler(&fakeAttemptStore{})
		rec := doGET(t, h.List, "/api/v1/attempts")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"attempts":[]`)
	})

	t.Run("bad boolean rejected", func(t *testing.T) {
		h := NewAttemptsHandler(&fakeAttemptStore{})
		rec := doGET(t, h.List, "/api/v1/attempts?success=maybe")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad timestamp rejected", func(t *testing.T) {
		h := NewAttemptsHandler(&fakeAttemptStore{})
		rec := doGET(t, h.List, "/api/v1/attempts?since=yesterday")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure maps to 500", func(t *testing.T) {
		h := NewAttemptsHandler(&fakeAttemptStore{err: errors.New("boom")})
		rec := doGET(t, h.List, "/api/v1/attempts")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

type fakeIntervalStore struct {
	intervals []domain.StockInterval
	err       error
}

func (f *fakeIntervalStore) ListOpenIntervals(context.Context) ([]domain.StockInterval, error) {
	return f.intervals, f.err
}

func TestIntervalsListOpen(t *testing.T) {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &fakeIntervalStore{intervals: []domain.StockInterval{{
		ID:       "iv1",
		Key:      domain.MonitoredKey{ItemCode: "vps-2023-le-2", Region: "US", Location: "bhs"},
		OpenedAt: opened,
	}}}

	h := NewIntervalsHandler(s)
	h.nowFunc = func() time.Time { return opened.Add(90 * time.Minute) }

	rec := doGET(t, h.ListOpen, "/api/v1/intervals/open")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Intervals []openInterval `json:"intervals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Intervals, 1)
	assert.Equal(t, "bhs", resp.Intervals[0].Location)
	assert.Equal(t, "1h30m0s", resp.Intervals[0].Duration)
}

type fakeItemStore struct {
	gotEnabledOnly bool
	items          []domain.Item
}

func (f *fakeItemStore) ListItems(_ context.Context, enabledOnly bool) ([]domain.Item, error) {
	f.gotEnabledOnly = enabledOnly
	return f.items, nil
}

func TestItemsList(t *testing.T) {
	s := &fakeItemStore{items: []domain.Item{{Code: "vps-2023-le-2", Region: "US", Enabled: true}}}
	h := NewItemsHandler(s)

	rec := doGET(t, h.List, "/api/v1/items?enabled=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.gotEnabledOnly)
	assert.Contains(t, rec.Body.String(), "vps-2023-le-2")
}
