package gormstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/skyfield-eats/api/internal/repositories"
)

type counterRepository struct {
	db *gorm.DB
}

var _ repositories.CounterRepository = (*counterRepository)(nil)

// Next increments the named counter and returns the new value. The increment
// runs as a single atomic UPDATE so concurrent callers always observe
// distinct values. A missing counter is created on first use; if two callers
// race on the create, the loser sees a conflict and can retry.
func (r *counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}

	var next int64
	err := handle(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&counterRow{}).
			Where("id = ?", counterID).
			Update("value", gorm.Expr("value + ?", step))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			row := counterRow{ID: counterID, Value: step}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			next = row.Value
			return nil
		}

		var row counterRow
		if err := tx.Where("id = ?", counterID).First(&row).Error; err != nil {
			return err
		}
		next = row.Value
		return nil
	})
	if err != nil {
		return 0, wrapError("counters: next", err)
	}
	return next, nil
}
