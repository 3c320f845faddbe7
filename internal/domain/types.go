package domain

import (
	"time"
)

// Pagination defines standard page-based paging inputs for list operations.
type Pagination struct {
	Page     int
	PageSize int
}

// Page is a paginated result set carrying the total match count.
type Page[T any] struct {
	Items []T
	Total int64
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates the lifecycle states an order moves through.
type OrderStatus string

const (
	// OrderStatusPendingPayment means the order was submitted but not yet paid.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusToBeConfirmed means payment cleared and the store has not accepted yet.
	OrderStatusToBeConfirmed OrderStatus = "TO_BE_CONFIRMED"
	// OrderStatusConfirmed means the store accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusDeliveryInProgress means the order is out for delivery.
	OrderStatusDeliveryInProgress OrderStatus = "DELIVERY_IN_PROGRESS"
	// OrderStatusCompleted means the order was delivered.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled is terminal for any order that did not complete.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PayStatus enumerates payment settlement states, tracked independently of
// the order status.
type PayStatus string

const (
	// PayStatusUnpaid means no payment has been captured.
	PayStatusUnpaid PayStatus = "UNPAID"
	// PayStatusPaid means payment was captured.
	PayStatusPaid PayStatus = "PAID"
	// PayStatusRefunded means a captured payment was flagged for refund.
	PayStatusRefunded PayStatus = "REFUNDED"
)

// PayMethod enumerates accepted payment channels.
type PayMethod string

const (
	// PayMethodWechat is the in-app wallet channel.
	PayMethodWechat PayMethod = "WECHAT"
	// PayMethodBalance is the stored-balance channel.
	PayMethodBalance PayMethod = "BALANCE"
)

// Order is the order header shared across layers. Monetary amounts are in
// minor currency units. Phone, Address and Consignee are snapshots copied
// from the address book at submission time and never change afterwards.
type Order struct {
	ID                   string
	Number               string
	UserID               string
	AddressBookID        string
	Status               OrderStatus
	PayStatus            PayStatus
	PayMethod            PayMethod
	Amount               int64
	PackAmount           int64
	DeliveryFee          int64
	Remark               string
	Phone                string
	Address              string
	Consignee            string
	CancelReason         *string
	RejectionReason      *string
	TablewareCount       int
	OrderTime            time.Time
	CheckoutTime         *time.Time
	CancelTime           *time.Time
	DeliveryTime         *time.Time
	EstimatedDeliveryAt  *time.Time
}

// OrderDetail is one line of an order, snapshotted from the cart at
// submission time. Exactly one of DishID/SetmealID is set.
type OrderDetail struct {
	ID         string
	OrderID    string
	Name       string
	Image      string
	DishID     *string
	SetmealID  *string
	DishFlavor string
	Quantity   int
	Amount     int64
}

// ShoppingCartItem is a pending cart line owned by a user prior to submission.
type ShoppingCartItem struct {
	ID         string
	UserID     string
	Name       string
	Image      string
	DishID     *string
	SetmealID  *string
	DishFlavor string
	Quantity   int
	Amount     int64
	CreatedAt  time.Time
}

// AddressBook is a saved delivery address owned by a user.
type AddressBook struct {
	ID        string
	UserID    string
	Consignee string
	Phone     string
	Province  string
	City      string
	District  string
	Detail    string
	Label     string
	IsDefault bool
}

// FullAddress joins the address components into the single-line snapshot
// persisted on orders.
func (a AddressBook) FullAddress() string {
	return a.Province + a.City + a.District + a.Detail
}

// StatusCounts reports how many open orders sit in each operator-facing state.
type StatusCounts struct {
	ToBeConfirmed      int64
	Confirmed          int64
	DeliveryInProgress int64
}
