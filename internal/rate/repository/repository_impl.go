package repository

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/pkg/db/option"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert replaces the latest observation for the pair, keyed on
// (base_currency, target_currency).
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rate *domain.Rate) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "base_currency"},
				{Name: "target_currency"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "observed_at", "updated_at"}),
		}).
		Create(rate).Error
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, base, target string) (*domain.Rate, error) {
	var rate domain.Rate
	err := db.WithContext(ctx).
		Where("base_currency = ? AND target_currency = ?", base, target).
		Order("observed_at desc").
		Limit(1).
		Find(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Rate, error) {
	var rates []*domain.Rate
	stmt := db.WithContext(ctx).Model(&domain.Rate{})
	if filter.BaseCurrency != "" {
		stmt = stmt.Where("base_currency = ?", filter.BaseCurrency)
	}
	if filter.TargetCurrency != "" {
		stmt = stmt.Where("target_currency = ?", filter.TargetCurrency)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	if err := stmt.Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}
