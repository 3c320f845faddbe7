package services

import (
	"context"
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Order            = domain.Order
	OrderDetail      = domain.OrderDetail
	OrderStatus      = domain.OrderStatus
	PayStatus        = domain.PayStatus
	PayMethod        = domain.PayMethod
	ShoppingCartItem = domain.ShoppingCartItem
	AddressBook      = domain.AddressBook
	StatusCounts     = domain.StatusCounts
)

// OrderService owns the order lifecycle from submission through completion,
// including the operator workflow and user self-service operations.
type OrderService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentTicket, error)
	MarkPaidAndAdvance(ctx context.Context, cmd MarkPaidCommand) (Order, error)
	UserCancel(ctx context.Context, cmd UserCancelCommand) (Order, error)
	Details(ctx context.Context, query OrderDetailsQuery) (OrderView, error)
	HistoryPage(ctx context.Context, filter OrderHistoryFilter) (domain.Page[OrderView], error)
	Repeat(ctx context.Context, cmd RepeatOrderCommand) error
	Remind(ctx context.Context, cmd RemindOrderCommand) error

	Search(ctx context.Context, filter OrderSearchFilter) (domain.Page[OrderView], error)
	StatusCounts(ctx context.Context) (StatusCounts, error)
	OperatorConfirm(ctx context.Context, cmd OperatorConfirmCommand) (Order, error)
	OperatorReject(ctx context.Context, cmd OperatorRejectCommand) (Order, error)
	OperatorCancel(ctx context.Context, cmd OperatorCancelCommand) (Order, error)
	Dispatch(ctx context.Context, cmd DispatchOrderCommand) (Order, error)
	Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
}

// OrderReconciler sweeps orders that missed their expected lifecycle
// progression. Both sweeps are idempotent and safe to run concurrently with
// foreground traffic.
type OrderReconciler interface {
	SweepUnpaidOrders(ctx context.Context, now time.Time) (int, error)
	SweepStuckDeliveries(ctx context.Context, now time.Time) (int, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	Healthy(ctx context.Context) error
}

// OrderView pairs an order header with its line snapshots for read surfaces.
type OrderView struct {
	Order       Order
	Details     []OrderDetail
	DishSummary string
}

// PaymentTicket is handed to the client to drive the payment flow. No
// gateway is wired here; the ticket carries what the client needs to settle
// through whichever channel settles the order.
type PaymentTicket struct {
	OrderID   string
	Number    string
	Amount    int64
	PayMethod PayMethod
	IssuedAt  time.Time
}

// Command and DTO definitions ------------------------------------------------

type OrderSearchFilter = repositories.OrderSearchFilter

type SubmitOrderCommand struct {
	UserID         string
	AddressBookID  string
	PayMethod      PayMethod
	Remark         string
	TablewareCount int
}

type ConfirmPaymentCommand struct {
	UserID    string
	Number    string
	PayMethod PayMethod
}

type MarkPaidCommand struct {
	Number string
}

type UserCancelCommand struct {
	UserID  string
	OrderID string
	Reason  string
}

type OrderDetailsQuery struct {
	OrderID string
	// UserID scopes visibility for user-facing reads; empty means operator.
	UserID string
}

type OrderHistoryFilter struct {
	UserID     string
	Status     []OrderStatus
	Pagination Pagination
}

type RepeatOrderCommand struct {
	UserID  string
	OrderID string
}

type RemindOrderCommand struct {
	UserID  string
	OrderID string
}

type OperatorConfirmCommand struct {
	OrderID string
	ActorID string
}

type OperatorRejectCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

type OperatorCancelCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

type DispatchOrderCommand struct {
	OrderID string
	ActorID string
}

type CompleteOrderCommand struct {
	OrderID string
	ActorID string
}
