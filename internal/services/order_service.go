package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

const (
	orderEventSubmitted     = "order.submitted"
	orderEventPaid          = "order.paid"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
	orderEventReminder      = "order.reminder"

	orderIDPrefix    = "ord_"
	detailIDPrefix   = "odl_"
	cartItemIDPrefix = "sci_"

	orderNumberCounterPrefix = "orders:"

	// conflictRetryLimit bounds how often foreground writes retry after
	// losing an optimistic concurrency race. Background sweeps never retry.
	conflictRetryLimit = 3

	defaultEstimatedDelivery = 50 * time.Minute
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation does not apply to the order's current status.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates an optimistic concurrency conflict or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderAlreadyPaid indicates a payment operation on an order that already settled.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
	// ErrCartEmpty indicates submission was attempted with no cart lines.
	ErrCartEmpty = errors.New("order: shopping cart is empty")
	// ErrAddressNotFound indicates the referenced address book entry is missing.
	ErrAddressNotFound = errors.New("order: address not found")
	// ErrStoreUnavailable indicates the persistence layer could not be reached.
	ErrStoreUnavailable = errors.New("order: store unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment:     {domain.OrderStatusToBeConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusToBeConfirmed:      {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:          {domain.OrderStatusDeliveryInProgress, domain.OrderStatusCancelled},
	domain.OrderStatusDeliveryInProgress: {domain.OrderStatusCompleted},
}

var userCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusToBeConfirmed,
}

var operatorCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusToBeConfirmed,
	domain.OrderStatusConfirmed,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderDetails repositories.OrderDetailRepository
	Carts        repositories.ShoppingCartRepository
	Addresses    repositories.AddressBookRepository
	Counters     repositories.CounterRepository
	UnitOfWork   repositories.UnitOfWork
	Clock        func() time.Time
	IDGenerator  func() string
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)

	// DeliveryFee and PackFeePerItem are added on top of the cart subtotal
	// when computing the order amount, in minor units.
	DeliveryFee    int64
	PackFeePerItem int64
}

type orderService struct {
	orders         repositories.OrderRepository
	details        repositories.OrderDetailRepository
	carts          repositories.ShoppingCartRepository
	addresses      repositories.AddressBookRepository
	counters       repositories.CounterRepository
	unitOfWork     repositories.UnitOfWork
	clock          func() time.Time
	newID          func() string
	events         OrderEventPublisher
	logger         func(context.Context, string, map[string]any)
	deliveryFee    int64
	packFeePerItem int64
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.OrderDetails == nil {
		return nil, errors.New("order service: order detail repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: shopping cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address book repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		details:    deps.OrderDetails,
		carts:      deps.Carts,
		addresses:  deps.Addresses,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		events:         deps.Events,
		logger:         logger,
		deliveryFee:    deps.DeliveryFee,
		packFeePerItem: deps.PackFeePerItem,
	}, nil
}

func (s *orderService) Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	addressID := strings.TrimSpace(cmd.AddressBookID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: address book id is required", ErrOrderInvalidInput)
	}

	address, err := s.addresses.FindByID(ctx, addressID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: address %s", ErrAddressNotFound, addressID)
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if address.UserID != userID {
		return Order{}, fmt.Errorf("%w: address %s", ErrAddressNotFound, addressID)
	}

	items, err := s.carts.ListByUser(ctx, userID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: user %s", ErrCartEmpty, userID)
	}

	now := s.now()
	order := Order{
		ID:             s.nextOrderID(),
		UserID:         userID,
		AddressBookID:  addressID,
		Status:         domain.OrderStatusPendingPayment,
		PayStatus:      domain.PayStatusUnpaid,
		PayMethod:      cmd.PayMethod,
		Amount:         s.computeAmount(items),
		PackAmount:     s.computePackAmount(items),
		DeliveryFee:    s.deliveryFee,
		Remark:         strings.TrimSpace(cmd.Remark),
		Phone:          address.Phone,
		Address:        address.FullAddress(),
		Consignee:      address.Consignee,
		TablewareCount: cmd.TablewareCount,
		OrderTime:      now,
	}

	details := s.buildOrderDetails(order.ID, items)

	// A lost race on the number's unique index surfaces as a conflict;
	// retry with a fresh sequence value.
	var lastErr error
	for attempt := 0; attempt < conflictRetryLimit; attempt++ {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order.Number = number

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			if err := s.details.InsertBatch(txCtx, details); err != nil {
				return s.mapRepositoryError(err)
			}
			if err := s.carts.ClearByUser(txCtx, userID); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if err == nil {
			s.publishEvent(ctx, OrderEvent{
				Type:          orderEventSubmitted,
				OrderID:       order.ID,
				OrderNumber:   order.Number,
				CurrentStatus: string(order.Status),
				ActorID:       userID,
				OccurredAt:    now,
				Metadata: map[string]any{
					"amount": order.Amount,
				},
			})
			return order, nil
		}
		if !errors.Is(err, ErrOrderConflict) {
			return Order{}, err
		}
		lastErr = err
	}
	return Order{}, lastErr
}

func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentTicket, error) {
	number := strings.TrimSpace(cmd.Number)
	if number == "" {
		return PaymentTicket{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return PaymentTicket{}, s.mapRepositoryError(err)
	}
	if order.UserID != strings.TrimSpace(cmd.UserID) {
		return PaymentTicket{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, number)
	}
	if order.PayStatus == domain.PayStatusPaid {
		return PaymentTicket{}, fmt.Errorf("%w: order %s", ErrOrderAlreadyPaid, number)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return PaymentTicket{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, number, order.Status)
	}

	method := order.PayMethod
	if cmd.PayMethod != "" {
		method = cmd.PayMethod
	}

	return PaymentTicket{
		OrderID:   order.ID,
		Number:    order.Number,
		Amount:    order.Amount,
		PayMethod: method,
		IssuedAt:  s.now(),
	}, nil
}

func (s *orderService) MarkPaidAndAdvance(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	number := strings.TrimSpace(cmd.Number)
	if number == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	settled, err := s.transitionWithRetry(ctx, order.ID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.PayStatus == domain.PayStatusPaid {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s", ErrOrderAlreadyPaid, order.Number)
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		estimated := now.Add(defaultEstimatedDelivery)
		return repositories.OrderMutation{
			Status:       domain.OrderStatusToBeConfirmed,
			PayStatus:    payStatusPtr(domain.PayStatusPaid),
			CheckoutTime: &now,
			EstimatedAt:  &estimated,
		}, nil
	}, orderEventPaid, "")
	if err != nil {
		return Order{}, err
	}

	// Cleared once at submission; clearing an empty cart is a no-op.
	if err := s.carts.ClearByUser(ctx, settled.UserID); err != nil {
		s.logger(ctx, "order.paid.cart_clear.failed", map[string]any{
			"order": settled.ID,
			"user":  settled.UserID,
			"error": err.Error(),
		})
	}

	return settled, nil
}

func (s *orderService) UserCancel(ctx context.Context, cmd UserCancelCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	return s.transitionWithRetry(ctx, orderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.UserID != userID {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		if !slices.Contains(userCancellableStatuses, order.Status) {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		return cancelMutation(order, reason, false, now), nil
	}, orderEventCancelled, userID)
}

func (s *orderService) Details(ctx context.Context, query OrderDetailsQuery) (OrderView, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return OrderView{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	return s.buildView(ctx, order)
}

func (s *orderService) HistoryPage(ctx context.Context, filter OrderHistoryFilter) (domain.Page[OrderView], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.Page[OrderView]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.Search(ctx, repositories.OrderSearchFilter{
		UserID:     userID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.Page[OrderView]{}, s.mapRepositoryError(err)
	}

	return s.buildViewPage(ctx, page)
}

func (s *orderService) Repeat(ctx context.Context, cmd RepeatOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	details, err := s.details.ListByOrder(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	now := s.now()
	items := make([]ShoppingCartItem, 0, len(details))
	for _, detail := range details {
		items = append(items, ShoppingCartItem{
			ID:         cartItemIDPrefix + s.newID(),
			UserID:     userID,
			Name:       detail.Name,
			Image:      detail.Image,
			DishID:     detail.DishID,
			SetmealID:  detail.SetmealID,
			DishFlavor: detail.DishFlavor,
			Quantity:   detail.Quantity,
			Amount:     detail.Amount,
			CreatedAt:  now,
		})
	}

	if err := s.carts.InsertBatch(ctx, items); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) Remind(ctx context.Context, cmd RemindOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusToBeConfirmed {
		return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventReminder,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.UserID,
		OccurredAt:    s.now(),
	})
	return nil
}

func (s *orderService) Search(ctx context.Context, filter OrderSearchFilter) (domain.Page[OrderView], error) {
	page, err := s.orders.Search(ctx, filter)
	if err != nil {
		return domain.Page[OrderView]{}, s.mapRepositoryError(err)
	}
	return s.buildViewPage(ctx, page)
}

func (s *orderService) StatusCounts(ctx context.Context) (StatusCounts, error) {
	var counts StatusCounts

	toBeConfirmed, err := s.orders.CountByStatus(ctx, domain.OrderStatusToBeConfirmed)
	if err != nil {
		return StatusCounts{}, s.mapRepositoryError(err)
	}
	confirmed, err := s.orders.CountByStatus(ctx, domain.OrderStatusConfirmed)
	if err != nil {
		return StatusCounts{}, s.mapRepositoryError(err)
	}
	delivering, err := s.orders.CountByStatus(ctx, domain.OrderStatusDeliveryInProgress)
	if err != nil {
		return StatusCounts{}, s.mapRepositoryError(err)
	}

	counts.ToBeConfirmed = toBeConfirmed
	counts.Confirmed = confirmed
	counts.DeliveryInProgress = delivering
	return counts, nil
}

func (s *orderService) OperatorConfirm(ctx context.Context, cmd OperatorConfirmCommand) (Order, error) {
	return s.transitionWithRetry(ctx, cmd.OrderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.Status != domain.OrderStatusToBeConfirmed {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		return repositories.OrderMutation{Status: domain.OrderStatusConfirmed}, nil
	}, orderEventStatusChanged, cmd.ActorID)
}

func (s *orderService) OperatorReject(ctx context.Context, cmd OperatorRejectCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: rejection reason is required", ErrOrderInvalidInput)
	}

	return s.transitionWithRetry(ctx, cmd.OrderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.Status != domain.OrderStatusToBeConfirmed {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		mutation := cancelMutation(order, reason, true, now)
		return mutation, nil
	}, orderEventCancelled, cmd.ActorID)
}

func (s *orderService) OperatorCancel(ctx context.Context, cmd OperatorCancelCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "cancelled by store"
	}

	return s.transitionWithRetry(ctx, cmd.OrderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if !slices.Contains(operatorCancellableStatuses, order.Status) {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		return cancelMutation(order, reason, false, now), nil
	}, orderEventCancelled, cmd.ActorID)
}

func (s *orderService) Dispatch(ctx context.Context, cmd DispatchOrderCommand) (Order, error) {
	return s.transitionWithRetry(ctx, cmd.OrderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.Status != domain.OrderStatusConfirmed {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		return repositories.OrderMutation{
			Status:       domain.OrderStatusDeliveryInProgress,
			DeliveryTime: &now,
		}, nil
	}, orderEventStatusChanged, cmd.ActorID)
}

func (s *orderService) Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	return s.transitionWithRetry(ctx, cmd.OrderID, func(order Order, now time.Time) (repositories.OrderMutation, error) {
		if order.Status != domain.OrderStatusDeliveryInProgress {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.Number, order.Status)
		}
		return repositories.OrderMutation{Status: domain.OrderStatusCompleted}, nil
	}, orderEventStatusChanged, cmd.ActorID)
}

// transitionWithRetry re-reads the order, lets validate derive the mutation
// from the fresh state, and applies it as a conditional write. A lost race
// triggers a bounded retry against the re-read state; validation failures on
// the new state surface as-is.
func (s *orderService) transitionWithRetry(ctx context.Context, orderID string, validate func(Order, time.Time) (repositories.OrderMutation, error), eventType string, actorID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < conflictRetryLimit; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}

		now := s.now()
		mutation, err := validate(order, now)
		if err != nil {
			return Order{}, err
		}
		if !canTransition(order.Status, mutation.Status) {
			return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, mutation.Status)
		}

		prevStatus := order.Status
		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.UpdateConditional(txCtx, orderID, prevStatus, mutation); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if err == nil {
			applyMutation(&order, mutation)
			s.publishEvent(ctx, OrderEvent{
				Type:           eventType,
				OrderID:        order.ID,
				OrderNumber:    order.Number,
				PreviousStatus: string(prevStatus),
				CurrentStatus:  string(order.Status),
				ActorID:        actorID,
				OccurredAt:     now,
			})
			return order, nil
		}
		if !errors.Is(err, ErrOrderConflict) {
			return Order{}, err
		}
		s.logger(ctx, "order.transition.retry", map[string]any{
			"order":   orderID,
			"attempt": attempt + 1,
		})
		lastErr = err
	}
	return Order{}, lastErr
}

// cancelMutation builds the shared cancellation update. A paid order gets
// its payment flagged for refund; no gateway call happens here.
func cancelMutation(order Order, reason string, rejection bool, now time.Time) repositories.OrderMutation {
	mutation := repositories.OrderMutation{
		Status:     domain.OrderStatusCancelled,
		CancelTime: &now,
	}
	if rejection {
		mutation.RejectionReason = &reason
	} else {
		mutation.CancelReason = &reason
	}
	if order.PayStatus == domain.PayStatusPaid {
		mutation.PayStatus = payStatusPtr(domain.PayStatusRefunded)
	}
	return mutation
}

func applyMutation(order *Order, mutation repositories.OrderMutation) {
	order.Status = mutation.Status
	if mutation.PayStatus != nil {
		order.PayStatus = *mutation.PayStatus
	}
	if mutation.PayMethod != nil {
		order.PayMethod = *mutation.PayMethod
	}
	if mutation.CancelReason != nil {
		order.CancelReason = mutation.CancelReason
	}
	if mutation.RejectionReason != nil {
		order.RejectionReason = mutation.RejectionReason
	}
	if mutation.CheckoutTime != nil {
		order.CheckoutTime = mutation.CheckoutTime
	}
	if mutation.CancelTime != nil {
		order.CancelTime = mutation.CancelTime
	}
	if mutation.DeliveryTime != nil {
		order.DeliveryTime = mutation.DeliveryTime
	}
	if mutation.EstimatedAt != nil {
		order.EstimatedDeliveryAt = mutation.EstimatedAt
	}
}

func (s *orderService) buildView(ctx context.Context, order Order) (OrderView, error) {
	details, err := s.details.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}
	return OrderView{
		Order:       order,
		Details:     details,
		DishSummary: buildDishSummary(details),
	}, nil
}

func (s *orderService) buildViewPage(ctx context.Context, page domain.Page[domain.Order]) (domain.Page[OrderView], error) {
	views := make([]OrderView, 0, len(page.Items))
	for _, order := range page.Items {
		view, err := s.buildView(ctx, order)
		if err != nil {
			return domain.Page[OrderView]{}, err
		}
		views = append(views, view)
	}
	return domain.Page[OrderView]{Items: views, Total: page.Total}, nil
}

// buildDishSummary flattens order lines into the operator list column,
// e.g. "Kung Pao Chicken*2;Rice*1;".
func buildDishSummary(details []OrderDetail) string {
	var b strings.Builder
	for _, detail := range details {
		fmt.Fprintf(&b, "%s*%d;", detail.Name, detail.Quantity)
	}
	return b.String()
}

func (s *orderService) computeAmount(items []ShoppingCartItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Amount * int64(item.Quantity)
	}
	return subtotal + s.computePackAmount(items) + s.deliveryFee
}

func (s *orderService) computePackAmount(items []ShoppingCartItem) int64 {
	var count int64
	for _, item := range items {
		count += int64(item.Quantity)
	}
	return count * s.packFeePerItem
}

func (s *orderService) buildOrderDetails(orderID string, items []ShoppingCartItem) []OrderDetail {
	details := make([]OrderDetail, 0, len(items))
	for _, item := range items {
		details = append(details, OrderDetail{
			ID:         detailIDPrefix + s.newID(),
			OrderID:    orderID,
			Name:       item.Name,
			Image:      item.Image,
			DishID:     item.DishID,
			SetmealID:  item.SetmealID,
			DishFlavor: item.DishFlavor,
			Quantity:   item.Quantity,
			Amount:     item.Amount,
		})
	}
	return details
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// generateOrderNumber draws the next value from a per-day sequence. Wall
// clock time never feeds the sequence itself, so two submissions in the
// same millisecond still get distinct numbers.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, orderNumberCounterPrefix+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SF-%s-%06d", day, seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func payStatusPtr(status PayStatus) *PayStatus {
	return &status
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
