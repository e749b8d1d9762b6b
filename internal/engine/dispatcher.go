package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	"github.com/mgrabowski/restock-sentinel/internal/notify"
	"github.com/mgrabowski/restock-sentinel/internal/store"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// ErrClaimConflict is returned when an interval was claimed by a concurrent
// dispatcher. It signals normal contention, not a failure.
var ErrClaimConflict = errors.New("interval already claimed")

// Dispatcher delivers a restock event to its recipients through a bounded
// worker pool, records every attempt, and claims the interval afterwards.
// An in-process inflight set keeps overlapping cycles from dispatching the
// same interval twice.
type Dispatcher struct {
	store    store.Store
	notifier notify.Notifier
	log      *slog.Logger

	workers     int
	maxAttempts int
	backoffBase time.Duration
	sendTimeout time.Duration
	dryRun      bool
	limiters    map[domain.Backend]*rate.Limiter

	mu       sync.Mutex
	inflight map[string]struct{}
	nowFunc  func() time.Time
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchWorkers sets the delivery worker pool size.
func WithDispatchWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.workers = n
	}
}

// WithMaxAttempts sets how many times a failing delivery is tried.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxAttempts = n
	}
}

// WithBackoffBase sets the first retry delay; each retry doubles it.
func WithBackoffBase(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.backoffBase = base
	}
}

// WithSendTimeout bounds each individual webhook post.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

// WithBackendSpacing sets the minimum gap between posts to one backend.
func WithBackendSpacing(backend domain.Backend, spacing time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiters[backend] = rate.NewLimiter(rate.Every(spacing), 1)
	}
}

// WithDryRun makes the dispatcher hand events to the notifier without
// recording attempts or claiming intervals; state is left for a real run.
func WithDryRun() DispatcherOption {
	return func(d *Dispatcher) {
		d.dryRun = true
	}
}

// WithDispatcherNowFunc overrides the time function for testing.
func WithDispatcherNowFunc(f func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.nowFunc = f
	}
}

// NewDispatcher creates a Dispatcher with injected dependencies.
func NewDispatcher(
	s store.Store,
	n notify.Notifier,
	log *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		store:       s,
		notifier:    n,
		log:         log,
		workers:     8,
		maxAttempts: 3,
		backoffBase: time.Second,
		sendTimeout: 10 * time.Second,
		limiters:    make(map[domain.Backend]*rate.Limiter),
		inflight:    make(map[string]struct{}),
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inflight reports whether an interval is currently being dispatched.
func (d *Dispatcher) Inflight(intervalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[intervalID]
	return ok
}

func (d *Dispatcher) acquire(intervalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[intervalID]; ok {
		return false
	}
	d.inflight[intervalID] = struct{}{}
	return true
}

func (d *Dispatcher) release(intervalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, intervalID)
}

// Dispatch fans a restock event out to all recipients, records each attempt,
// and marks the interval notified once at least one delivery succeeded.
// Returns ErrClaimConflict when the interval is already inflight here or was
// claimed elsewhere.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	id string,
	ev *notify.Event,
	recipients []domain.Recipient,
) error {
	if !d.acquire(id) {
		return fmt.Errorf("%w: %s inflight", ErrClaimConflict, id)
	}
	defer d.release(id)

	delivered := d.fanout(ctx, id, ev, recipients)

	// Only a successful delivery commits the claim; failures retry next cycle.
	if len(recipients) > 0 && delivered == 0 {
		return fmt.Errorf("delivering interval %s: all %d recipients failed", id, len(recipients))
	}

	if d.dryRun {
		d.log.Info("dry run: interval left unclaimed",
			"interval_id", id,
			"key", ev.Key.String(),
			"recipients", len(recipients),
			"delivered", delivered,
		)
		return nil
	}

	// Nothing to deliver still consumes the interval, but the claim must be
	// witnessed in the attempt ledger like any other.
	if len(recipients) == 0 {
		a := &domain.NotificationAttempt{
			IntervalID:    id,
			RecipientID:   "system",
			RecipientKind: domain.RecipientSystemDefault,
			Message:       "no recipients resolved",
			SentAt:        d.nowFunc(),
			Success:       true,
		}
		if err := d.store.InsertAttempt(ctx, a); err != nil {
			return fmt.Errorf("recording empty fanout for interval %s: %w", id, err)
		}
	}

	claimed, err := d.store.MarkIntervalNotified(ctx, id)
	if err != nil {
		return fmt.Errorf("claiming interval %s: %w", id, err)
	}
	if !claimed {
		metrics.ClaimConflictsTotal.Inc()
		return fmt.Errorf("%w: %s", ErrClaimConflict, id)
	}

	d.log.Info("restock notification dispatched",
		"interval_id", id,
		"key", ev.Key.String(),
		"recipients", len(recipients),
		"delivered", delivered,
	)
	return nil
}

// fanout runs deliveries through the worker pool and returns the number of
// recipients that ended up with a successful attempt.
func (d *Dispatcher) fanout(
	ctx context.Context,
	intervalID string,
	ev *notify.Event,
	recipients []domain.Recipient,
) int {
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var delivered int64
	var mu sync.Mutex

	for i := range recipients {
		r := &recipients[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if d.deliver(ctx, intervalID, ev, r) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return int(delivered)
}

// deliver sends to one recipient with retries, recording every attempt.
func (d *Dispatcher) deliver(
	ctx context.Context,
	intervalID string,
	ev *notify.Event,
	r *domain.Recipient,
) bool {
	// A recipient already delivered to in a previous run stays delivered;
	// duplicates are only acceptable across a crash between send and record.
	done, err := d.store.HasSuccessfulAttempt(ctx, intervalID, r.ID)
	if err != nil {
		d.log.Error("checking delivery history", "interval_id", intervalID, "recipient", r.Name, "error", err)
	} else if done {
		return true
	}

	backend := string(r.Backend)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.backoffBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
		}

		if lim := d.limiters[r.Backend]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return false
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		sendErr := d.notifier.Send(sendCtx, r, ev)
		cancel()

		if !d.dryRun {
			a := &domain.NotificationAttempt{
				IntervalID:    intervalID,
				RecipientID:   r.ID,
				RecipientKind: r.Kind,
				Backend:       r.Backend,
				Message:       notify.Summary(ev),
				SentAt:        d.nowFunc(),
				Success:       sendErr == nil,
			}
			if sendErr != nil {
				a.Error = sendErr.Error()
			}
			if err := d.store.InsertAttempt(ctx, a); err != nil {
				d.log.Error("recording delivery attempt",
					"interval_id", intervalID,
					"recipient", r.Name,
					"error", err,
				)
			}
		}

		if sendErr == nil {
			metrics.NotificationsSentTotal.WithLabelValues(backend).Inc()
			return true
		}

		d.log.Warn("delivery attempt failed",
			"interval_id", intervalID,
			"recipient", r.Name,
			"backend", backend,
			"attempt", attempt,
			"error", sendErr,
		)
	}

	metrics.NotificationsFailedTotal.WithLabelValues(backend).Inc()
	return false
}
