package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// IntervalStore is the store dependency for interval queries.
type IntervalStore interface {
	ListOpenIntervals(ctx context.Context) ([]domain.StockInterval, error)
}

// IntervalsHandler serves the stock interval read model.
type IntervalsHandler struct {
	store   IntervalStore
	nowFunc func() time.Time
}

// NewIntervalsHandler creates a new IntervalsHandler.
func NewIntervalsHandler(s IntervalStore) *IntervalsHandler {
	return &IntervalsHandler{store: s, nowFunc: time.Now}
}

// openInterval is the JSON shape for one ongoing stockout.
type openInterval struct {
	ID       string    `json:"id"`
	ItemCode string    `json:"item_code"`
	Region   string    `json:"region"`
	Location string    `json:"location"`
	OpenedAt time.Time `json:"opened_at"`
	Duration string    `json:"duration"`
}

// ListOpen returns all currently open out-of-stock intervals with their
// running duration.
func (h *IntervalsHandler) ListOpen(c echo.Context) error {
	intervals, err := h.store.ListOpenIntervals(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "interval query failed")
	}

	now := h.nowFunc()
	out := make([]openInterval, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, openInterval{
			ID:       iv.ID,
			ItemCode: iv.Key.ItemCode,
			Region:   iv.Key.Region,
			Location: iv.Key.Location,
			OpenedAt: iv.OpenedAt,
			Duration: iv.Duration(now).Truncate(time.Second).String(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{"intervals": out})
}
