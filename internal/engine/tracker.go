package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Threshold bounds for the out-of-stock duration gate, in minutes.
const (
	minThresholdMinutes = 1
	maxThresholdMinutes = 1440
)

// Eligible reports whether an out-of-stock duration meets the notification
// threshold. Durations exactly at the threshold qualify.
func Eligible(d time.Duration, thresholdMinutes int) bool {
	return d >= time.Duration(thresholdMinutes)*time.Minute
}

// ClampThreshold forces a threshold into the supported range.
func ClampThreshold(minutes int) int {
	if minutes < minThresholdMinutes {
		return minThresholdMinutes
	}
	if minutes > maxThresholdMinutes {
		return maxThresholdMinutes
	}
	return minutes
}

// Tracker turns per-location availability observations into out-of-stock
// intervals. At most one interval is open per monitored key; the store's
// partial unique index enforces this across processes.
type Tracker struct {
	store store.Store
	log   *slog.Logger
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(s store.Store, log *slog.Logger) *Tracker {
	return &Tracker{store: s, log: log}
}

// Observe applies one availability observation to interval state.
//
// An unavailable observation with no open interval opens one. An available
// observation with an open interval closes it, evaluating eligibility at
// close time. All other combinations leave state unchanged. The returned
// event is non-nil only for an eligible restock transition.
func (t *Tracker) Observe(
	ctx context.Context,
	key domain.MonitoredKey,
	available bool,
	observedAt time.Time,
	thresholdMinutes int,
) (*domain.TransitionEvent, error) {
	open, err := t.store.GetOpenInterval(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting open interval for %s: %w", key, err)
	}

	switch {
	case !available && open == nil:
		iv, err := t.store.OpenInterval(ctx, key, observedAt)
		if err != nil {
			return nil, err
		}
		metrics.IntervalsOpenedTotal.Inc()
		t.log.Info("out-of-stock interval opened",
			"key", key.String(),
			"interval_id", iv.ID,
		)
		return nil, nil

	case available && open != nil:
		duration := observedAt.Sub(open.OpenedAt)
		eligible := Eligible(duration, thresholdMinutes)

		if err := t.store.CloseInterval(ctx, open.ID, observedAt, eligible); err != nil {
			return nil, fmt.Errorf("closing interval %s: %w", open.ID, err)
		}
		metrics.IntervalsClosedTotal.Inc()

		if !eligible {
			metrics.TransitionsIneligibleTotal.Inc()
			t.log.Info("restock below notification threshold",
				"key", key.String(),
				"duration", duration.String(),
				"threshold_minutes", thresholdMinutes,
			)
			return nil, nil
		}

		metrics.TransitionsEligibleTotal.Inc()
		t.log.Info("eligible restock detected",
			"key", key.String(),
			"interval_id", open.ID,
			"duration", duration.String(),
		)
		return &domain.TransitionEvent{
			IntervalID: open.ID,
			Key:        key,
			OpenedAt:   open.OpenedAt,
			ClosedAt:   observedAt,
			Duration:   duration,
		}, nil

	default:
		// Still in stock, or still out of stock.
		return nil, nil
	}
}
