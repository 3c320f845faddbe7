package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

const defaultSearchPageSize = 10

type orderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	row := orderRowFromDomain(order)
	if err := handle(ctx, r.db).Create(&row).Error; err != nil {
		return wrapError("orders: insert", err)
	}
	return nil
}

// UpdateConditional is the single write path for status transitions. The
// status guard in the WHERE clause makes concurrent transitions race-safe:
// whoever matches first wins, everyone else sees zero rows and gets a
// conflict back.
func (r *orderRepository) UpdateConditional(ctx context.Context, orderID string, expected domain.OrderStatus, mutation repositories.OrderMutation) error {
	updates := map[string]any{
		"status": string(mutation.Status),
	}
	if mutation.PayStatus != nil {
		updates["pay_status"] = string(*mutation.PayStatus)
	}
	if mutation.PayMethod != nil {
		updates["pay_method"] = string(*mutation.PayMethod)
	}
	if mutation.CancelReason != nil {
		updates["cancel_reason"] = *mutation.CancelReason
	}
	if mutation.RejectionReason != nil {
		updates["rejection_reason"] = *mutation.RejectionReason
	}
	if mutation.CheckoutTime != nil {
		updates["checkout_time"] = *mutation.CheckoutTime
	}
	if mutation.CancelTime != nil {
		updates["cancel_time"] = *mutation.CancelTime
	}
	if mutation.DeliveryTime != nil {
		updates["delivery_time"] = *mutation.DeliveryTime
	}
	if mutation.EstimatedAt != nil {
		updates["estimated_delivery_at"] = *mutation.EstimatedAt
	}

	result := handle(ctx, r.db).
		Model(&orderRow{}).
		Where("id = ? AND status = ?", orderID, string(expected)).
		Updates(updates)
	if result.Error != nil {
		return wrapError("orders: update", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing row from a lost race.
		var count int64
		if err := handle(ctx, r.db).Model(&orderRow{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
			return wrapError("orders: update", err)
		}
		if count == 0 {
			return notFoundError("orders: update", gorm.ErrRecordNotFound)
		}
		return conflictError("orders: update", errors.New("status changed concurrently"))
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderRow
	if err := handle(ctx, r.db).Where("id = ?", orderID).First(&row).Error; err != nil {
		return domain.Order{}, wrapError("orders: find", err)
	}
	return row.toDomain(), nil
}

func (r *orderRepository) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	var row orderRow
	if err := handle(ctx, r.db).Where("number = ?", number).First(&row).Error; err != nil {
		return domain.Order{}, wrapError("orders: find by number", err)
	}
	return row.toDomain(), nil
}

func (r *orderRepository) Search(ctx context.Context, filter repositories.OrderSearchFilter) (domain.Page[domain.Order], error) {
	query := handle(ctx, r.db).Model(&orderRow{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Number != "" {
		query = query.Where("number LIKE ?", "%"+filter.Number+"%")
	}
	if filter.Phone != "" {
		query = query.Where("phone LIKE ?", "%"+filter.Phone+"%")
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("order_time >= ?", *filter.DateRange.From)
	}
	if filter.DateRange.To != nil {
		query = query.Where("order_time <= ?", *filter.DateRange.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders: search count", err)
	}

	page := filter.Pagination.Page
	if page < 1 {
		page = 1
	}
	size := filter.Pagination.PageSize
	if size < 1 {
		size = defaultSearchPageSize
	}

	var rows []orderRow
	err := query.
		Order("order_time DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&rows).Error
	if err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders: search", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain())
	}
	return domain.Page[domain.Order]{Items: orders, Total: total}, nil
}

func (r *orderRepository) ListStale(ctx context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := handle(ctx, r.db).
		Where("status = ? AND order_time < ?", string(status), cutoff).
		Order("order_time ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []orderRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapError("orders: list stale", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain())
	}
	return orders, nil
}

func (r *orderRepository) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var count int64
	err := handle(ctx, r.db).
		Model(&orderRow{}).
		Where("status = ?", string(status)).
		Count(&count).Error
	if err != nil {
		return 0, wrapError("orders: count", err)
	}
	return count, nil
}

type orderDetailRepository struct {
	db *gorm.DB
}

var _ repositories.OrderDetailRepository = (*orderDetailRepository)(nil)

func (r *orderDetailRepository) InsertBatch(ctx context.Context, details []domain.OrderDetail) error {
	if len(details) == 0 {
		return nil
	}
	rows := make([]orderDetailRow, 0, len(details))
	for _, detail := range details {
		rows = append(rows, detailRowFromDomain(detail))
	}
	if err := handle(ctx, r.db).Create(&rows).Error; err != nil {
		return wrapError("order details: insert", err)
	}
	return nil
}

func (r *orderDetailRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDetail, error) {
	var rows []orderDetailRow
	err := handle(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapError("order details: list", err)
	}

	details := make([]domain.OrderDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.toDomain())
	}
	return details, nil
}
