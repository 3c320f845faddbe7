package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

func TestReconcilerSweepUnpaidOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	var listedStatus domain.OrderStatus
	var listedCutoff time.Time
	var mutations []repositories.OrderMutation
	orderRepo := &stubOrderRepo{
		listStaleFn: func(_ context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]domain.Order, error) {
			listedStatus = status
			listedCutoff = cutoff
			return []domain.Order{
				{ID: "ord_1", Number: "SF-20250510-000001", Status: domain.OrderStatusPendingPayment},
				{ID: "ord_2", Number: "SF-20250510-000002", Status: domain.OrderStatusPendingPayment},
			}, nil
		},
		updateFn: func(_ context.Context, orderID string, expected domain.OrderStatus, mutation repositories.OrderMutation) error {
			if expected != domain.OrderStatusPendingPayment {
				t.Fatalf("conditional write expected PENDING_PAYMENT got %s", expected)
			}
			if orderID == "ord_2" {
				// Paid while the sweep was running.
				return conflictRepoError("status changed concurrently")
			}
			mutations = append(mutations, mutation)
			return nil
		},
	}

	reconciler, err := NewOrderReconciler(ReconcilerDeps{
		Orders:      orderRepo,
		Clock:       func() time.Time { return now },
		Events:      events,
		UnpaidGrace: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	cancelled, err := reconciler.SweepUnpaidOrders(ctx, now)
	if err != nil {
		t.Fatalf("sweep unpaid: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancelled got %d", cancelled)
	}
	if listedStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected listed status %s", listedStatus)
	}
	if !listedCutoff.Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("unexpected cutoff %v", listedCutoff)
	}
	if len(mutations) != 1 {
		t.Fatalf("expected 1 applied mutation got %d", len(mutations))
	}
	mutation := mutations[0]
	if mutation.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", mutation.Status)
	}
	if mutation.CancelReason == nil || *mutation.CancelReason != "timed out, auto-cancelled" {
		t.Fatalf("unexpected cancel reason %v", mutation.CancelReason)
	}
	if mutation.CancelTime == nil || !mutation.CancelTime.Equal(now) {
		t.Fatalf("unexpected cancel time %v", mutation.CancelTime)
	}
	if len(events.events) != 1 || events.events[0].OrderID != "ord_1" {
		t.Fatalf("expected event for ord_1 got %+v", events.events)
	}
}

func TestReconcilerSweepStuckDeliveries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 11, 2, 0, 0, 0, time.UTC)

	var applied repositories.OrderMutation
	orderRepo := &stubOrderRepo{
		listStaleFn: func(_ context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]domain.Order, error) {
			if status != domain.OrderStatusDeliveryInProgress {
				t.Fatalf("unexpected status %s", status)
			}
			if !cutoff.Equal(now.Add(-time.Hour)) {
				t.Fatalf("unexpected cutoff %v", cutoff)
			}
			return []domain.Order{{ID: "ord_9", Number: "SF-20250510-000009", Status: status}}, nil
		},
		updateFn: func(_ context.Context, _ string, _ domain.OrderStatus, mutation repositories.OrderMutation) error {
			applied = mutation
			return nil
		},
	}

	reconciler, err := NewOrderReconciler(ReconcilerDeps{
		Orders:           orderRepo,
		Clock:            func() time.Time { return now },
		StuckDeliveryAge: time.Hour,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	completed, err := reconciler.SweepStuckDeliveries(ctx, now)
	if err != nil {
		t.Fatalf("sweep stuck: %v", err)
	}
	if completed != 1 {
		t.Fatalf("expected 1 completed got %d", completed)
	}
	if applied.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED got %s", applied.Status)
	}
	if applied.DeliveryTime != nil {
		t.Fatalf("forced completion must not touch delivery time, got %v", applied.DeliveryTime)
	}
}

func TestReconcilerSweepContinuesAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 11, 3, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		listStaleFn: func(context.Context, domain.OrderStatus, time.Time, int) ([]domain.Order, error) {
			return []domain.Order{
				{ID: "ord_1", Status: domain.OrderStatusPendingPayment},
				{ID: "ord_2", Status: domain.OrderStatusPendingPayment},
			}, nil
		},
		updateFn: func(_ context.Context, orderID string, _ domain.OrderStatus, _ repositories.OrderMutation) error {
			if orderID == "ord_1" {
				return unavailableRepoError("connection reset")
			}
			return nil
		},
	}

	var logged []string
	reconciler, err := NewOrderReconciler(ReconcilerDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	cancelled, err := reconciler.SweepUnpaidOrders(ctx, now)
	if err != nil {
		t.Fatalf("sweep unpaid: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected sweep to continue past failure, got %d cancelled", cancelled)
	}

	found := false
	for _, event := range logged {
		if event == "reconciler.unpaid.sweep.failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failure log, got %v", logged)
	}
}

func TestReconcilerSweepSingleFlight(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 11, 4, 0, 0, 0, time.UTC)

	entered := make(chan struct{})
	release := make(chan struct{})
	orderRepo := &stubOrderRepo{
		listStaleFn: func(context.Context, domain.OrderStatus, time.Time, int) ([]domain.Order, error) {
			close(entered)
			<-release
			return []domain.Order{{ID: "ord_1", Status: domain.OrderStatusPendingPayment}}, nil
		},
	}

	reconciler, err := NewOrderReconciler(ReconcilerDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstCount int
	go func() {
		defer wg.Done()
		firstCount, _ = reconciler.SweepUnpaidOrders(ctx, now)
	}()

	<-entered
	overlapped, err := reconciler.SweepUnpaidOrders(ctx, now)
	if err != nil {
		t.Fatalf("overlapping sweep: %v", err)
	}
	if overlapped != 0 {
		t.Fatalf("expected overlapping sweep to skip, got %d", overlapped)
	}

	close(release)
	wg.Wait()
	if firstCount != 1 {
		t.Fatalf("expected the first sweep to finish its batch, got %d", firstCount)
	}
}

func TestReconcilerRunnerStopsOnContextCancel(t *testing.T) {
	orderRepo := &stubOrderRepo{}
	reconciler, err := NewOrderReconciler(ReconcilerDeps{Orders: orderRepo})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	stopped := make(chan string, 4)
	runner, err := NewReconcilerRunner(ReconcilerRunnerDeps{
		Reconciler:     reconciler,
		UnpaidInterval: time.Hour,
		StuckInterval:  time.Hour,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			select {
			case stopped <- event:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after context cancellation")
	}
}
