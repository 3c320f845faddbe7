package gormstore

import (
	"time"

	domain "github.com/skyfield-eats/api/internal/domain"
)

// orderRow is the persisted shape of an order header. Number carries a
// unique index; (status, order_time) backs the reconciler sweeps and the
// operator search.
type orderRow struct {
	ID                  string     `gorm:"primaryKey;size:40"`
	Number              string     `gorm:"size:32;uniqueIndex;not null"`
	UserID              string     `gorm:"size:40;index;not null"`
	AddressBookID       string     `gorm:"size:40;not null"`
	Status              string     `gorm:"size:24;index:idx_status_order_time,priority:1;not null"`
	PayStatus           string     `gorm:"size:16;not null"`
	PayMethod           string     `gorm:"size:16"`
	Amount              int64      `gorm:"not null"`
	PackAmount          int64      `gorm:"not null;default:0"`
	DeliveryFee         int64      `gorm:"not null;default:0"`
	Remark              string     `gorm:"size:255"`
	Phone               string     `gorm:"size:32;index;not null"`
	Address             string     `gorm:"size:255;not null"`
	Consignee           string     `gorm:"size:64;not null"`
	CancelReason        *string    `gorm:"size:255"`
	RejectionReason     *string    `gorm:"size:255"`
	TablewareCount      int        `gorm:"not null;default:0"`
	OrderTime           time.Time  `gorm:"index:idx_status_order_time,priority:2;not null"`
	CheckoutTime        *time.Time
	CancelTime          *time.Time
	DeliveryTime        *time.Time
	EstimatedDeliveryAt *time.Time
}

func (orderRow) TableName() string { return "orders" }

type orderDetailRow struct {
	ID         string  `gorm:"primaryKey;size:40"`
	OrderID    string  `gorm:"size:40;index;not null"`
	Name       string  `gorm:"size:64;not null"`
	Image      string  `gorm:"size:255"`
	DishID     *string `gorm:"size:40"`
	SetmealID  *string `gorm:"size:40"`
	DishFlavor string  `gorm:"size:128"`
	Quantity   int     `gorm:"not null"`
	Amount     int64   `gorm:"not null"`
}

func (orderDetailRow) TableName() string { return "order_details" }

type shoppingCartRow struct {
	ID         string    `gorm:"primaryKey;size:40"`
	UserID     string    `gorm:"size:40;index;not null"`
	Name       string    `gorm:"size:64;not null"`
	Image      string    `gorm:"size:255"`
	DishID     *string   `gorm:"size:40"`
	SetmealID  *string   `gorm:"size:40"`
	DishFlavor string    `gorm:"size:128"`
	Quantity   int       `gorm:"not null"`
	Amount     int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (shoppingCartRow) TableName() string { return "shopping_cart" }

type addressBookRow struct {
	ID        string `gorm:"primaryKey;size:40"`
	UserID    string `gorm:"size:40;index;not null"`
	Consignee string `gorm:"size:64;not null"`
	Phone     string `gorm:"size:32;not null"`
	Province  string `gorm:"size:32"`
	City      string `gorm:"size:32"`
	District  string `gorm:"size:32"`
	Detail    string `gorm:"size:255;not null"`
	Label     string `gorm:"size:32"`
	IsDefault bool   `gorm:"not null;default:false"`
}

func (addressBookRow) TableName() string { return "address_book" }

type counterRow struct {
	ID    string `gorm:"primaryKey;size:64"`
	Value int64  `gorm:"not null"`
}

func (counterRow) TableName() string { return "counters" }

func orderRowFromDomain(order domain.Order) orderRow {
	return orderRow{
		ID:                  order.ID,
		Number:              order.Number,
		UserID:              order.UserID,
		AddressBookID:       order.AddressBookID,
		Status:              string(order.Status),
		PayStatus:           string(order.PayStatus),
		PayMethod:           string(order.PayMethod),
		Amount:              order.Amount,
		PackAmount:          order.PackAmount,
		DeliveryFee:         order.DeliveryFee,
		Remark:              order.Remark,
		Phone:               order.Phone,
		Address:             order.Address,
		Consignee:           order.Consignee,
		CancelReason:        order.CancelReason,
		RejectionReason:     order.RejectionReason,
		TablewareCount:      order.TablewareCount,
		OrderTime:           order.OrderTime,
		CheckoutTime:        order.CheckoutTime,
		CancelTime:          order.CancelTime,
		DeliveryTime:        order.DeliveryTime,
		EstimatedDeliveryAt: order.EstimatedDeliveryAt,
	}
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:                  r.ID,
		Number:              r.Number,
		UserID:              r.UserID,
		AddressBookID:       r.AddressBookID,
		Status:              domain.OrderStatus(r.Status),
		PayStatus:           domain.PayStatus(r.PayStatus),
		PayMethod:           domain.PayMethod(r.PayMethod),
		Amount:              r.Amount,
		PackAmount:          r.PackAmount,
		DeliveryFee:         r.DeliveryFee,
		Remark:              r.Remark,
		Phone:               r.Phone,
		Address:             r.Address,
		Consignee:           r.Consignee,
		CancelReason:        r.CancelReason,
		RejectionReason:     r.RejectionReason,
		TablewareCount:      r.TablewareCount,
		OrderTime:           r.OrderTime,
		CheckoutTime:        r.CheckoutTime,
		CancelTime:          r.CancelTime,
		DeliveryTime:        r.DeliveryTime,
		EstimatedDeliveryAt: r.EstimatedDeliveryAt,
	}
}

func detailRowFromDomain(detail domain.OrderDetail) orderDetailRow {
	return orderDetailRow{
		ID:         detail.ID,
		OrderID:    detail.OrderID,
		Name:       detail.Name,
		Image:      detail.Image,
		DishID:     detail.DishID,
		SetmealID:  detail.SetmealID,
		DishFlavor: detail.DishFlavor,
		Quantity:   detail.Quantity,
		Amount:     detail.Amount,
	}
}

func (r orderDetailRow) toDomain() domain.OrderDetail {
	return domain.OrderDetail{
		ID:         r.ID,
		OrderID:    r.OrderID,
		Name:       r.Name,
		Image:      r.Image,
		DishID:     r.DishID,
		SetmealID:  r.SetmealID,
		DishFlavor: r.DishFlavor,
		Quantity:   r.Quantity,
		Amount:     r.Amount,
	}
}

func cartRowFromDomain(item domain.ShoppingCartItem) shoppingCartRow {
	return shoppingCartRow{
		ID:         item.ID,
		UserID:     item.UserID,
		Name:       item.Name,
		Image:      item.Image,
		DishID:     item.DishID,
		SetmealID:  item.SetmealID,
		DishFlavor: item.DishFlavor,
		Quantity:   item.Quantity,
		Amount:     item.Amount,
		CreatedAt:  item.CreatedAt,
	}
}

func (r shoppingCartRow) toDomain() domain.ShoppingCartItem {
	return domain.ShoppingCartItem{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Image:      r.Image,
		DishID:     r.DishID,
		SetmealID:  r.SetmealID,
		DishFlavor: r.DishFlavor,
		Quantity:   r.Quantity,
		Amount:     r.Amount,
		CreatedAt:  r.CreatedAt,
	}
}

func (r addressBookRow) toDomain() domain.AddressBook {
	return domain.AddressBook{
		ID:        r.ID,
		UserID:    r.UserID,
		Consignee: r.Consignee,
		Phone:     r.Phone,
		Province:  r.Province,
		City:      r.City,
		District:  r.District,
		Detail:    r.Detail,
		Label:     r.Label,
		IsDefault: r.IsDefault,
	}
}
