package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string      { return e.msg }
func (e *repoError) IsNotFound() bool   { return e.notFound }
func (e *repoError) IsConflict() bool   { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundRepoError(msg string) error {
	return &repoError{msg: msg, notFound: true}
}

func conflictRepoError(msg string) error {
	return &repoError{msg: msg, conflict: true}
}

func unavailableRepoError(msg string) error {
	return &repoError{msg: msg, unavailable: true}
}

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, string, domain.OrderStatus, repositories.OrderMutation) error
	findByIDFn     func(context.Context, string) (domain.Order, error)
	findByNumberFn func(context.Context, string) (domain.Order, error)
	searchFn       func(context.Context, repositories.OrderSearchFilter) (domain.Page[domain.Order], error)
	listStaleFn    func(context.Context, domain.OrderStatus, time.Time, int) ([]domain.Order, error)
	countFn        func(context.Context, domain.OrderStatus) (int64, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) UpdateConditional(ctx context.Context, orderID string, expected domain.OrderStatus, mutation repositories.OrderMutation) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, orderID, expected, mutation)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	if s.findByNumberFn != nil {
		return s.findByNumberFn(ctx, number)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Search(ctx context.Context, filter repositories.OrderSearchFilter) (domain.Page[domain.Order], error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, filter)
	}
	return domain.Page[domain.Order]{}, nil
}

func (s *stubOrderRepo) ListStale(ctx context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]domain.Order, error) {
	if s.listStaleFn != nil {
		return s.listStaleFn(ctx, status, cutoff, limit)
	}
	return nil, nil
}

func (s *stubOrderRepo) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	if s.countFn != nil {
		return s.countFn(ctx, status)
	}
	return 0, nil
}

type stubDetailRepo struct {
	insertBatchFn func(context.Context, []domain.OrderDetail) error
	listFn        func(context.Context, string) ([]domain.OrderDetail, error)
}

func (s *stubDetailRepo) InsertBatch(ctx context.Context, details []domain.OrderDetail) error {
	if s.insertBatchFn != nil {
		return s.insertBatchFn(ctx, details)
	}
	return nil
}

func (s *stubDetailRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDetail, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

type stubCartRepo struct {
	listFn        func(context.Context, string) ([]domain.ShoppingCartItem, error)
	insertBatchFn func(context.Context, []domain.ShoppingCartItem) error
	clearFn       func(context.Context, string) error
}

func (s *stubCartRepo) ListByUser(ctx context.Context, userID string) ([]domain.ShoppingCartItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubCartRepo) InsertBatch(ctx context.Context, items []domain.ShoppingCartItem) error {
	if s.insertBatchFn != nil {
		return s.insertBatchFn(ctx, items)
	}
	return nil
}

func (s *stubCartRepo) ClearByUser(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type stubAddressRepo struct {
	findFn func(context.Context, string) (domain.AddressBook, error)
}

func (s *stubAddressRepo) FindByID(ctx context.Context, addressID string) (domain.AddressBook, error) {
	if s.findFn != nil {
		return s.findFn(ctx, addressID)
	}
	return domain.AddressBook{}, errors.New("not implemented")
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

func testCartItems() []domain.ShoppingCartItem {
	dishID := "dish-1"
	setmealID := "setmeal-1"
	return []domain.ShoppingCartItem{
		{ID: "sci_1", UserID: "user-1", Name: "Kung Pao Chicken", DishID: &dishID, Quantity: 2, Amount: 2800},
		{ID: "sci_2", UserID: "user-1", Name: "Family Feast", SetmealID: &setmealID, Quantity: 1, Amount: 9900},
	}
}

func testAddress() domain.AddressBook {
	return domain.AddressBook{
		ID:        "addr-1",
		UserID:    "user-1",
		Consignee: "Wei Chen",
		Phone:     "13512345678",
		Province:  "Beijing",
		City:      "Beijing",
		District:  "Haidian",
		Detail:    " No. 5 Qinghua Rd",
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.OrderDetails == nil {
		deps.OrderDetails = &stubDetailRepo{}
	}
	if deps.Carts == nil {
		deps.Carts = &stubCartRepo{}
	}
	if deps.Addresses == nil {
		deps.Addresses = &stubAddressRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestOrderServiceSubmit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

	var inserted []domain.Order
	var insertedDetails []domain.OrderDetail
	var clearedUser string
	events := &captureOrderEvents{}

	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	detailRepo := &stubDetailRepo{
		insertBatchFn: func(_ context.Context, details []domain.OrderDetail) error {
			insertedDetails = details
			return nil
		},
	}
	cartRepo := &stubCartRepo{
		listFn: func(_ context.Context, userID string) ([]domain.ShoppingCartItem, error) {
			return testCartItems(), nil
		},
		clearFn: func(_ context.Context, userID string) error {
			clearedUser = userID
			return nil
		},
	}
	addressRepo := &stubAddressRepo{
		findFn: func(_ context.Context, addressID string) (domain.AddressBook, error) {
			return testAddress(), nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders:20250501" {
				t.Fatalf("unexpected counter id %s", counterID)
			}
			if step != 1 {
				t.Fatalf("unexpected step %d", step)
			}
			return 42, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:         orderRepo,
		OrderDetails:   detailRepo,
		Carts:          cartRepo,
		Addresses:      addressRepo,
		Counters:       counters,
		UnitOfWork:     &stubUnitOfWork{},
		Clock:          func() time.Time { return now },
		IDGenerator:    func() string { return "000TEST" },
		Events:         events,
		DeliveryFee:    600,
		PackFeePerItem: 100,
	})

	order, err := svc.Submit(ctx, SubmitOrderCommand{
		UserID:         "user-1",
		AddressBookID:  "addr-1",
		PayMethod:      domain.PayMethodWechat,
		Remark:         "less spicy",
		TablewareCount: 2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Number != "SF-20250501-000042" {
		t.Fatalf("unexpected order number %s", order.Number)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT got %s", order.Status)
	}
	if order.PayStatus != domain.PayStatusUnpaid {
		t.Fatalf("expected UNPAID got %s", order.PayStatus)
	}
	// subtotal 2*2800 + 1*9900 = 15500, pack 3*100, delivery 600
	if order.Amount != 16400 {
		t.Fatalf("unexpected amount %d", order.Amount)
	}
	if order.PackAmount != 300 {
		t.Fatalf("unexpected pack amount %d", order.PackAmount)
	}
	if order.Phone != "13512345678" || order.Consignee != "Wei Chen" {
		t.Fatalf("address snapshot not applied: %+v", order)
	}
	if !strings.Contains(order.Address, "Haidian") {
		t.Fatalf("unexpected address snapshot %q", order.Address)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order got %d", len(inserted))
	}
	if len(insertedDetails) != 2 {
		t.Fatalf("expected 2 inserted details got %d", len(insertedDetails))
	}
	for _, detail := range insertedDetails {
		if detail.OrderID != order.ID {
			t.Fatalf("detail not linked to order: %+v", detail)
		}
	}
	if clearedUser != "user-1" {
		t.Fatalf("expected cart cleared for user-1 got %q", clearedUser)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.submitted" {
		t.Fatalf("expected submitted event got %+v", events.events)
	}
}

func TestOrderServiceSubmitEmptyCart(t *testing.T) {
	ctx := context.Background()
	svc := newTestOrderService(t, OrderServiceDeps{
		Addresses: &stubAddressRepo{
			findFn: func(context.Context, string) (domain.AddressBook, error) {
				return testAddress(), nil
			},
		},
		Carts: &stubCartRepo{
			listFn: func(context.Context, string) ([]domain.ShoppingCartItem, error) {
				return nil, nil
			},
		},
	})

	_, err := svc.Submit(ctx, SubmitOrderCommand{UserID: "user-1", AddressBookID: "addr-1"})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty got %v", err)
	}
}

func TestOrderServiceSubmitAddressVisibility(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Addresses: &stubAddressRepo{
			findFn: func(context.Context, string) (domain.AddressBook, error) {
				address := testAddress()
				address.UserID = "someone-else"
				return address, nil
			},
		},
	})

	_, err := svc.Submit(ctx, SubmitOrderCommand{UserID: "user-1", AddressBookID: "addr-1"})
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound for foreign address got %v", err)
	}

	svc = newTestOrderService(t, OrderServiceDeps{
		Addresses: &stubAddressRepo{
			findFn: func(context.Context, string) (domain.AddressBook, error) {
				return domain.AddressBook{}, notFoundRepoError("address missing")
			},
		},
	})

	_, err = svc.Submit(ctx, SubmitOrderCommand{UserID: "user-1", AddressBookID: "addr-1"})
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound for missing address got %v", err)
	}
}

func TestOrderServiceSubmitRetriesOnNumberConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	sequence := int64(0)
	counters := &stubCounterRepo{
		nextFn: func(context.Context, string, int64) (int64, error) {
			sequence++
			return sequence, nil
		},
	}

	attempts := 0
	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			attempts++
			if attempts < 3 {
				return conflictRepoError("duplicate number")
			}
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Addresses: &stubAddressRepo{
			findFn: func(context.Context, string) (domain.AddressBook, error) {
				return testAddress(), nil
			},
		},
		Carts: &stubCartRepo{
			listFn: func(context.Context, string) ([]domain.ShoppingCartItem, error) {
				return testCartItems(), nil
			},
		},
		Counters: counters,
		Clock:    func() time.Time { return now },
	})

	order, err := svc.Submit(ctx, SubmitOrderCommand{UserID: "user-1", AddressBookID: "addr-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 insert attempts got %d", attempts)
	}
	if order.Number != "SF-20250501-000003" {
		t.Fatalf("expected fresh number on retry got %s", order.Number)
	}
}

func TestOrderServiceConfirmPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 2, 18, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		findByNumberFn: func(_ context.Context, number string) (domain.Order, error) {
			return domain.Order{
				ID:        "ord_1",
				Number:    number,
				UserID:    "user-1",
				Status:    domain.OrderStatusPendingPayment,
				PayStatus: domain.PayStatusUnpaid,
				PayMethod: domain.PayMethodWechat,
				Amount:    16400,
			}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	ticket, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		UserID: "user-1",
		Number: "SF-20250502-000001",
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if ticket.Amount != 16400 {
		t.Fatalf("unexpected ticket amount %d", ticket.Amount)
	}
	if ticket.PayMethod != domain.PayMethodWechat {
		t.Fatalf("unexpected pay method %s", ticket.PayMethod)
	}
	if !ticket.IssuedAt.Equal(now) {
		t.Fatalf("unexpected issued at %v", ticket.IssuedAt)
	}

	if _, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		UserID: "user-2",
		Number: "SF-20250502-000001",
	}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order got %v", err)
	}

	orderRepo.findByNumberFn = func(_ context.Context, number string) (domain.Order, error) {
		return domain.Order{
			ID:        "ord_1",
			Number:    number,
			UserID:    "user-1",
			Status:    domain.OrderStatusToBeConfirmed,
			PayStatus: domain.PayStatusPaid,
		}, nil
	}
	if _, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		UserID: "user-1",
		Number: "SF-20250502-000001",
	}); !errors.Is(err, ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid got %v", err)
	}
}

func TestOrderServiceMarkPaidAndAdvance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 2, 18, 5, 0, 0, time.UTC)

	var applied repositories.OrderMutation
	var expectedStatus domain.OrderStatus
	orderRepo := &stubOrderRepo{
		findByNumberFn: func(_ context.Context, number string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Number: number, UserID: "user-1", Status: domain.OrderStatusPendingPayment, PayStatus: domain.PayStatusUnpaid}, nil
		},
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Number: "SF-20250502-000001", UserID: "user-1", Status: domain.OrderStatusPendingPayment, PayStatus: domain.PayStatusUnpaid}, nil
		},
		updateFn: func(_ context.Context, _ string, expected domain.OrderStatus, mutation repositories.OrderMutation) error {
			expectedStatus = expected
			applied = mutation
			return nil
		},
	}
	clearedUser := ""
	cartRepo := &stubCartRepo{
		clearFn: func(_ context.Context, userID string) error {
			clearedUser = userID
			return nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Carts:  cartRepo,
		Clock:  func() time.Time { return now },
		Events: events,
	})

	order, err := svc.MarkPaidAndAdvance(ctx, MarkPaidCommand{Number: "SF-20250502-000001"})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if order.Status != domain.OrderStatusToBeConfirmed {
		t.Fatalf("expected TO_BE_CONFIRMED got %s", order.Status)
	}
	if order.PayStatus != domain.PayStatusPaid {
		t.Fatalf("expected PAID got %s", order.PayStatus)
	}
	if expectedStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("conditional write expected PENDING_PAYMENT got %s", expectedStatus)
	}
	if applied.CheckoutTime == nil || !applied.CheckoutTime.Equal(now) {
		t.Fatalf("expected checkout time %v got %v", now, applied.CheckoutTime)
	}
	if applied.EstimatedAt == nil || !applied.EstimatedAt.Equal(now.Add(50*time.Minute)) {
		t.Fatalf("unexpected estimated delivery %v", applied.EstimatedAt)
	}
	if clearedUser != "user-1" {
		t.Fatalf("expected cart cleared for user-1, got %q", clearedUser)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("expected paid event got %+v", events.events)
	}
}

func TestOrderServiceUserCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 11, 0, 0, 0, time.UTC)

	var applied repositories.OrderMutation
	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Number: "SF-20250503-000001", UserID: "user-1", Status: domain.OrderStatusToBeConfirmed, PayStatus: domain.PayStatusPaid}, nil
		},
		updateFn: func(_ context.Context, _ string, _ domain.OrderStatus, mutation repositories.OrderMutation) error {
			applied = mutation
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	order, err := svc.UserCancel(ctx, UserCancelCommand{UserID: "user-1", OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("user cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", order.Status)
	}
	if applied.CancelReason == nil || *applied.CancelReason != "cancelled by user" {
		t.Fatalf("expected default cancel reason got %v", applied.CancelReason)
	}
	if applied.PayStatus == nil || *applied.PayStatus != domain.PayStatusRefunded {
		t.Fatalf("expected paid order flagged REFUNDED got %v", applied.PayStatus)
	}
	if applied.CancelTime == nil || !applied.CancelTime.Equal(now) {
		t.Fatalf("expected cancel time %v got %v", now, applied.CancelTime)
	}

	orderRepo.findByIDFn = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusDeliveryInProgress}, nil
	}
	if _, err := svc.UserCancel(ctx, UserCancelCommand{UserID: "user-1", OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}

	orderRepo.findByIDFn = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, UserID: "someone-else", Status: domain.OrderStatusPendingPayment}, nil
	}
	if _, err := svc.UserCancel(ctx, UserCancelCommand{UserID: "user-1", OrderID: "ord_1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order got %v", err)
	}
}

func TestOrderServiceTransitionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 12, 0, 0, 0, time.UTC)

	finds := 0
	updates := 0
	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			finds++
			return domain.Order{ID: orderID, Number: "SF-20250503-000002", Status: domain.OrderStatusToBeConfirmed}, nil
		},
		updateFn: func(context.Context, string, domain.OrderStatus, repositories.OrderMutation) error {
			updates++
			if updates == 1 {
				return conflictRepoError("status changed concurrently")
			}
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	order, err := svc.OperatorConfirm(ctx, OperatorConfirmCommand{OrderID: "ord_1", ActorID: "op-1"})
	if err != nil {
		t.Fatalf("operator confirm: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED got %s", order.Status)
	}
	if finds != 2 || updates != 2 {
		t.Fatalf("expected re-read on conflict, finds=%d updates=%d", finds, updates)
	}
}

func TestOrderServiceTransitionGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()

	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusToBeConfirmed}, nil
		},
		updateFn: func(context.Context, string, domain.OrderStatus, repositories.OrderMutation) error {
			return conflictRepoError("status changed concurrently")
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo})

	if _, err := svc.OperatorConfirm(ctx, OperatorConfirmCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict after exhausting retries got %v", err)
	}
}

func TestOrderServiceOperatorReject(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)

	var applied repositories.OrderMutation
	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Number: "SF-20250504-000001", Status: domain.OrderStatusToBeConfirmed, PayStatus: domain.PayStatusPaid}, nil
		},
		updateFn: func(_ context.Context, _ string, _ domain.OrderStatus, mutation repositories.OrderMutation) error {
			applied = mutation
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	if _, err := svc.OperatorReject(ctx, OperatorRejectCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput without reason got %v", err)
	}

	order, err := svc.OperatorReject(ctx, OperatorRejectCommand{OrderID: "ord_1", Reason: "out of stock", ActorID: "op-1"})
	if err != nil {
		t.Fatalf("operator reject: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", order.Status)
	}
	if applied.RejectionReason == nil || *applied.RejectionReason != "out of stock" {
		t.Fatalf("expected rejection reason got %v", applied.RejectionReason)
	}
	if applied.CancelReason != nil {
		t.Fatalf("rejection must not set cancel reason, got %v", applied.CancelReason)
	}
	if applied.PayStatus == nil || *applied.PayStatus != domain.PayStatusRefunded {
		t.Fatalf("expected REFUNDED on paid rejection got %v", applied.PayStatus)
	}
}

func TestOrderServiceDispatchAndComplete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 4, 12, 0, 0, 0, time.UTC)

	status := domain.OrderStatusConfirmed
	var applied repositories.OrderMutation
	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Number: "SF-20250504-000002", Status: status}, nil
		},
		updateFn: func(_ context.Context, _ string, _ domain.OrderStatus, mutation repositories.OrderMutation) error {
			applied = mutation
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	order, err := svc.Dispatch(ctx, DispatchOrderCommand{OrderID: "ord_1", ActorID: "op-1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if order.Status != domain.OrderStatusDeliveryInProgress {
		t.Fatalf("expected DELIVERY_IN_PROGRESS got %s", order.Status)
	}
	if applied.DeliveryTime == nil || !applied.DeliveryTime.Equal(now) {
		t.Fatalf("dispatch must stamp delivery time %v, got %v", now, applied.DeliveryTime)
	}

	status = domain.OrderStatusDeliveryInProgress
	order, err = svc.Complete(ctx, CompleteOrderCommand{OrderID: "ord_1", ActorID: "op-1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED got %s", order.Status)
	}
	if applied.DeliveryTime != nil {
		t.Fatalf("complete must not touch delivery time, got %v", applied.DeliveryTime)
	}

	status = domain.OrderStatusPendingPayment
	if _, err := svc.Dispatch(ctx, DispatchOrderCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestOrderServiceStatusCounts(t *testing.T) {
	ctx := context.Background()

	orderRepo := &stubOrderRepo{
		countFn: func(_ context.Context, status domain.OrderStatus) (int64, error) {
			switch status {
			case domain.OrderStatusToBeConfirmed:
				return 3, nil
			case domain.OrderStatusConfirmed:
				return 2, nil
			case domain.OrderStatusDeliveryInProgress:
				return 1, nil
			}
			return 0, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo})

	counts, err := svc.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts.ToBeConfirmed != 3 || counts.Confirmed != 2 || counts.DeliveryInProgress != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestOrderServiceDetails(t *testing.T) {
	ctx := context.Background()

	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Number: "SF-20250505-000001"}, nil
		},
	}
	detailRepo := &stubDetailRepo{
		listFn: func(context.Context, string) ([]domain.OrderDetail, error) {
			return []domain.OrderDetail{
				{Name: "Kung Pao Chicken", Quantity: 2},
				{Name: "Rice", Quantity: 1},
			}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo, OrderDetails: detailRepo})

	view, err := svc.Details(ctx, OrderDetailsQuery{OrderID: "ord_1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if view.DishSummary != "Kung Pao Chicken*2;Rice*1;" {
		t.Fatalf("unexpected dish summary %q", view.DishSummary)
	}
	if len(view.Details) != 2 {
		t.Fatalf("expected 2 details got %d", len(view.Details))
	}

	if _, err := svc.Details(ctx, OrderDetailsQuery{OrderID: "ord_1", UserID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order got %v", err)
	}

	// Operator reads skip the ownership check.
	if _, err := svc.Details(ctx, OrderDetailsQuery{OrderID: "ord_1"}); err != nil {
		t.Fatalf("operator details: %v", err)
	}
}

func TestOrderServiceRepeat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)

	dishID := "dish-1"
	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}
	detailRepo := &stubDetailRepo{
		listFn: func(context.Context, string) ([]domain.OrderDetail, error) {
			return []domain.OrderDetail{
				{Name: "Kung Pao Chicken", DishID: &dishID, Quantity: 2, Amount: 2800, DishFlavor: "spicy"},
			}, nil
		},
	}
	var insertedItems []domain.ShoppingCartItem
	cartRepo := &stubCartRepo{
		insertBatchFn: func(_ context.Context, items []domain.ShoppingCartItem) error {
			insertedItems = items
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:       orderRepo,
		OrderDetails: detailRepo,
		Carts:        cartRepo,
		Clock:        func() time.Time { return now },
		IDGenerator:  func() string { return "000TEST" },
	})

	if err := svc.Repeat(ctx, RepeatOrderCommand{UserID: "user-1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if len(insertedItems) != 1 {
		t.Fatalf("expected 1 cart item got %d", len(insertedItems))
	}
	item := insertedItems[0]
	if item.UserID != "user-1" || item.Name != "Kung Pao Chicken" || item.Quantity != 2 {
		t.Fatalf("unexpected cart item %+v", item)
	}
	if item.DishID == nil || *item.DishID != "dish-1" {
		t.Fatalf("expected dish reference carried over, got %v", item.DishID)
	}
	if !item.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created at %v", item.CreatedAt)
	}
}

func TestOrderServiceRemind(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}

	orderRepo := &stubOrderRepo{
		findByIDFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Number: "SF-20250506-000002", Status: domain.OrderStatusToBeConfirmed}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo, Events: events})

	if err := svc.Remind(ctx, RemindOrderCommand{UserID: "user-1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("remind: %v", err)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.reminder" {
		t.Fatalf("expected reminder event got %+v", events.events)
	}

	orderRepo.findByIDFn = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusConfirmed}, nil
	}
	if err := svc.Remind(ctx, RemindOrderCommand{UserID: "user-1", OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestOrderServiceMapsStoreErrors(t *testing.T) {
	ctx := context.Background()

	orderRepo := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, unavailableRepoError("connection refused")
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo})

	if _, err := svc.Details(ctx, OrderDetailsQuery{OrderID: "ord_1"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable got %v", err)
	}

	orderRepo.findByIDFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{}, notFoundRepoError("no such order")
	}
	if _, err := svc.Details(ctx, OrderDetailsQuery{OrderID: "ord_1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}
