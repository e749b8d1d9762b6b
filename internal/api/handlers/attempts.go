package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// AttemptStore is the store dependency for delivery history queries.
type AttemptStore interface {
	ListAttempts(ctx context.Context, opts *store.AttemptQuery) ([]domain.NotificationAttempt, int, error)
}

// AttemptsHandler serves the delivery history read model.
type AttemptsHandler struct {
	store AttemptStore
}

// NewAttemptsHandler creates a new AttemptsHandler.
func NewAttemptsHandler(s AttemptStore) *AttemptsHandler {
	return &AttemptsHandler{store: s}
}

// attemptsResponse is the JSON envelope for attempt listings.
type attemptsResponse struct {
	Attempts []domain.NotificationAttempt `json:"attempts"`
	Total    int                          `json:"total"`
	Limit    int                          `json:"limit"`
	Offset   int                          `json:"offset"`
}

// List returns notification attempts, newest first, with optional filters:
// interval_id, recipient_id, backend, success, since (RFC 3339), limit,
// offset.
func (h *AttemptsHandler) List(c echo.Context) error {
	q := &store.AttemptQuery{}

	if v := c.QueryParam("interval_id"); v != "" {
		q.IntervalID = &v
	}
	if v := c.QueryParam("recipient_id"); v != "" {
		q.RecipientID = &v
	}
	if v := c.QueryParam("backend"); v != "" {
		q.Backend = &v
	}
	if v := c.QueryParam("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "success must be a boolean")
		}
		q.Success = &ok
	}
	if v := c.QueryParam("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		q.Since = &ts
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		q.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be an integer")
		}
		q.Offset = n
	}

	attempts, total, err := h.store.ListAttempts(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "attempt query failed")
	}

	if attempts == nil {
		attempts = []domain.NotificationAttempt{}
	}

	return c.JSON(http.StatusOK, attemptsResponse{
		Attempts: attempts,
		Total:    total,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
}
