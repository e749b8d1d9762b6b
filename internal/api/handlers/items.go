package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// ItemStore is the store dependency for catalog queries.
type ItemStore interface {
	ListItems(ctx context.Context, enabledOnly bool) ([]domain.Item, error)
}

// ItemsHandler serves the monitored item catalog.
type ItemsHandler struct {
	store ItemStore
}

// NewItemsHandler creates a new ItemsHandler.
func NewItemsHandler(s ItemStore) *ItemsHandler {
	return &ItemsHandler{store: s}
}

// List returns the monitored catalog. Pass enabled=true to restrict to
// items currently being polled.
func (h *ItemsHandler) List(c echo.Context) error {
	enabledOnly := false
	if v := c.QueryParam("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "enabled must be a boolean")
		}
		enabledOnly = b
	}

	items, err := h.store.ListItems(c.Request().Context(), enabledOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "item query failed")
	}

	if items == nil {
		items = []domain.Item{}
	}

	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
