package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

const (
	// timeoutCancelReason is stamped on orders swept for non-payment.
	timeoutCancelReason = "timed out, auto-cancelled"

	defaultUnpaidGrace      = 15 * time.Minute
	defaultStuckDeliveryAge = 60 * time.Minute
	defaultSweepBatchSize   = 200

	defaultUnpaidSweepInterval = time.Minute
	defaultStuckSweepInterval  = 24 * time.Hour
)

// ReconcilerDeps bundles collaborators for the order reconciler.
type ReconcilerDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Events OrderEventPublisher
	Logger func(ctx context.Context, event string, fields map[string]any)

	// UnpaidGrace is how long a PENDING_PAYMENT order may sit before the
	// sweep cancels it. StuckDeliveryAge is the same cutoff for
	// DELIVERY_IN_PROGRESS orders that are force-completed.
	UnpaidGrace      time.Duration
	StuckDeliveryAge time.Duration
	BatchSize        int
}

type orderReconciler struct {
	orders    repositories.OrderRepository
	clock     func() time.Time
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
	grace     time.Duration
	stuckAge  time.Duration
	batchSize int

	unpaidInFlight atomic.Bool
	stuckInFlight  atomic.Bool
}

// NewOrderReconciler wires dependencies into a concrete OrderReconciler.
func NewOrderReconciler(deps ReconcilerDeps) (OrderReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("order reconciler: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	grace := deps.UnpaidGrace
	if grace <= 0 {
		grace = defaultUnpaidGrace
	}
	stuckAge := deps.StuckDeliveryAge
	if stuckAge <= 0 {
		stuckAge = defaultStuckDeliveryAge
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}

	return &orderReconciler{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		events:    deps.Events,
		logger:    logger,
		grace:     grace,
		stuckAge:  stuckAge,
		batchSize: batch,
	}, nil
}

// SweepUnpaidOrders cancels PENDING_PAYMENT orders whose grace period
// expired. Each order is its own conditional write: a lost race means a
// payment or cancellation landed first, and the sweep moves on. Only one
// sweep runs at a time; overlapping invocations return immediately.
func (r *orderReconciler) SweepUnpaidOrders(ctx context.Context, now time.Time) (int, error) {
	if !r.unpaidInFlight.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.unpaidInFlight.Store(false)

	cutoff := now.UTC().Add(-r.grace)
	stale, err := r.orders.ListStale(ctx, domain.OrderStatusPendingPayment, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	reason := timeoutCancelReason
	cancelled := 0
	for _, order := range stale {
		cancelTime := now.UTC()
		mutation := repositories.OrderMutation{
			Status:       domain.OrderStatusCancelled,
			CancelReason: &reason,
			CancelTime:   &cancelTime,
		}
		err := r.orders.UpdateConditional(ctx, order.ID, domain.OrderStatusPendingPayment, mutation)
		if err != nil {
			if isConflict(err) || isRepoNotFound(err) {
				// Someone paid or cancelled in the meantime.
				continue
			}
			r.logger(ctx, "reconciler.unpaid.sweep.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		cancelled++
		r.publishEvent(ctx, OrderEvent{
			Type:           orderEventCancelled,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: string(domain.OrderStatusPendingPayment),
			CurrentStatus:  string(domain.OrderStatusCancelled),
			OccurredAt:     cancelTime,
			Metadata: map[string]any{
				"reason": reason,
			},
		})
	}

	if cancelled > 0 {
		r.logger(ctx, "reconciler.unpaid.swept", map[string]any{
			"cancelled": cancelled,
			"scanned":   len(stale),
		})
	}
	return cancelled, nil
}

// SweepStuckDeliveries force-completes DELIVERY_IN_PROGRESS orders older
// than the configured age. Same per-order semantics as the unpaid sweep.
func (r *orderReconciler) SweepStuckDeliveries(ctx context.Context, now time.Time) (int, error) {
	if !r.stuckInFlight.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.stuckInFlight.Store(false)

	cutoff := now.UTC().Add(-r.stuckAge)
	stale, err := r.orders.ListStale(ctx, domain.OrderStatusDeliveryInProgress, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, order := range stale {
		completedAt := now.UTC()
		mutation := repositories.OrderMutation{Status: domain.OrderStatusCompleted}
		err := r.orders.UpdateConditional(ctx, order.ID, domain.OrderStatusDeliveryInProgress, mutation)
		if err != nil {
			if isConflict(err) || isRepoNotFound(err) {
				continue
			}
			r.logger(ctx, "reconciler.stuck.sweep.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		completed++
		r.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: string(domain.OrderStatusDeliveryInProgress),
			CurrentStatus:  string(domain.OrderStatusCompleted),
			OccurredAt:     completedAt,
		})
	}

	if completed > 0 {
		r.logger(ctx, "reconciler.stuck.swept", map[string]any{
			"completed": completed,
			"scanned":   len(stale),
		})
	}
	return completed, nil
}

func (r *orderReconciler) publishEvent(ctx context.Context, event OrderEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishOrderEvent(ctx, event); err != nil {
		r.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// ReconcilerRunner drives the reconciler sweeps on fixed intervals until the
// context is cancelled.
type ReconcilerRunner struct {
	reconciler     OrderReconciler
	clock          func() time.Time
	logger         func(context.Context, string, map[string]any)
	unpaidInterval time.Duration
	stuckInterval  time.Duration
}

// ReconcilerRunnerDeps configures the background runner.
type ReconcilerRunnerDeps struct {
	Reconciler     OrderReconciler
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
	UnpaidInterval time.Duration
	StuckInterval  time.Duration
}

// NewReconcilerRunner constructs the ticker loop around a reconciler.
func NewReconcilerRunner(deps ReconcilerRunnerDeps) (*ReconcilerRunner, error) {
	if deps.Reconciler == nil {
		return nil, errors.New("reconciler runner: reconciler is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	unpaidInterval := deps.UnpaidInterval
	if unpaidInterval <= 0 {
		unpaidInterval = defaultUnpaidSweepInterval
	}
	stuckInterval := deps.StuckInterval
	if stuckInterval <= 0 {
		stuckInterval = defaultStuckSweepInterval
	}

	return &ReconcilerRunner{
		reconciler:     deps.Reconciler,
		clock:          clock,
		logger:         logger,
		unpaidInterval: unpaidInterval,
		stuckInterval:  stuckInterval,
	}, nil
}

// Run blocks until ctx is cancelled. Sweep failures are logged and the next
// tick tries again.
func (r *ReconcilerRunner) Run(ctx context.Context) {
	unpaidTicker := time.NewTicker(r.unpaidInterval)
	defer unpaidTicker.Stop()
	stuckTicker := time.NewTicker(r.stuckInterval)
	defer stuckTicker.Stop()

	r.logger(ctx, "reconciler.runner.started", map[string]any{
		"unpaidInterval": r.unpaidInterval.String(),
		"stuckInterval":  r.stuckInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			r.logger(ctx, "reconciler.runner.stopped", nil)
			return
		case <-unpaidTicker.C:
			if _, err := r.reconciler.SweepUnpaidOrders(ctx, r.clock()); err != nil {
				r.logger(ctx, "reconciler.unpaid.sweep.error", map[string]any{
					"error": err.Error(),
				})
			}
		case <-stuckTicker.C:
			if _, err := r.reconciler.SweepStuckDeliveries(ctx, r.clock()); err != nil {
				r.logger(ctx, "reconciler.stuck.sweep.error", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}
