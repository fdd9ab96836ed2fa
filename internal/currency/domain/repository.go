package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Currency, error)
	FindByCodes(ctx context.Context, db *gorm.DB, codes []string) ([]*Currency, error)
	List(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]*Currency, error)
}
