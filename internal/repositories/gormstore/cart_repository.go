package gormstore

import (
	"context"

	"gorm.io/gorm"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/repositories"
)

type shoppingCartRepository struct {
	db *gorm.DB
}

var _ repositories.ShoppingCartRepository = (*shoppingCartRepository)(nil)

func (r *shoppingCartRepository) ListByUser(ctx context.Context, userID string) ([]domain.ShoppingCartItem, error) {
	var rows []shoppingCartRow
	err := handle(ctx, r.db).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapError("cart: list", err)
	}

	items := make([]domain.ShoppingCartItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (r *shoppingCartRepository) InsertBatch(ctx context.Context, items []domain.ShoppingCartItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]shoppingCartRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, cartRowFromDomain(item))
	}
	if err := handle(ctx, r.db).Create(&rows).Error; err != nil {
		return wrapError("cart: insert", err)
	}
	return nil
}

func (r *shoppingCartRepository) ClearByUser(ctx context.Context, userID string) error {
	err := handle(ctx, r.db).
		Where("user_id = ?", userID).
		Delete(&shoppingCartRow{}).Error
	if err != nil {
		return wrapError("cart: clear", err)
	}
	return nil
}

type addressBookRepository struct {
	db *gorm.DB
}

var _ repositories.AddressBookRepository = (*addressBookRepository)(nil)

func (r *addressBookRepository) FindByID(ctx context.Context, addressID string) (domain.AddressBook, error) {
	var row addressBookRow
	if err := handle(ctx, r.db).Where("id = ?", addressID).First(&row).Error; err != nil {
		return domain.AddressBook{}, wrapError("address book: find", err)
	}
	return row.toDomain(), nil
}
