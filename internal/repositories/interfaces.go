package repositories

import (
	"context"
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderDetails() OrderDetailRepository
	ShoppingCarts() ShoppingCartRepository
	AddressBooks() AddressBookRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and provides query helpers for users and operators.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// UpdateConditional applies the mutation only when the stored status still
	// matches expected. It reports a conflict RepositoryError when another
	// writer got there first.
	UpdateConditional(ctx context.Context, orderID string, expected domain.OrderStatus, mutation OrderMutation) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, number string) (domain.Order, error)
	Search(ctx context.Context, filter OrderSearchFilter) (domain.Page[domain.Order], error)
	// ListStale returns orders stuck in status with OrderTime strictly before
	// cutoff. An order placed exactly at the cutoff is not yet stale.
	ListStale(ctx context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]domain.Order, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error)
}

// OrderMutation carries the field updates applied alongside a status change.
// Nil pointers leave the stored value untouched.
type OrderMutation struct {
	Status          domain.OrderStatus
	PayStatus       *domain.PayStatus
	PayMethod       *domain.PayMethod
	CancelReason    *string
	RejectionReason *string
	CheckoutTime    *time.Time
	CancelTime      *time.Time
	DeliveryTime    *time.Time
	EstimatedAt     *time.Time
}

// OrderDetailRepository persists order line snapshots underneath an order.
type OrderDetailRepository interface {
	InsertBatch(ctx context.Context, details []domain.OrderDetail) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDetail, error)
}

// ShoppingCartRepository owns the pending cart lines for each user.
type ShoppingCartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.ShoppingCartItem, error)
	InsertBatch(ctx context.Context, items []domain.ShoppingCartItem) error
	ClearByUser(ctx context.Context, userID string) error
}

// AddressBookRepository stores delivery addresses per user.
type AddressBookRepository interface {
	FindByID(ctx context.Context, addressID string) (domain.AddressBook, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}

// OrderSearchFilter narrows operator and user order listings. All fields are
// optional; zero values are ignored.
type OrderSearchFilter struct {
	UserID     string
	Number     string
	Phone      string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
