package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db/option"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{})
	if filter.QuoteID != 0 {
		stmt = stmt.Where("quote_id = ?", filter.QuoteID)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	if err := stmt.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
