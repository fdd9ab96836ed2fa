package domain

import (
	"context"

	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, rate *Rate) error
	FindLatest(ctx context.Context, db *gorm.DB, base, target string) (*Rate, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Rate, error)
}
