package repository

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, scope, key string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ?", scope, key).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}
