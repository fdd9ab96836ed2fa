package repository

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/currency/domain"
	"github.com/smallbiznis/fxquote/pkg/db/option"
	"github.com/smallbiznis/fxquote/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) repository.Repository[domain.Currency] {
	return repository.ProvideStore[domain.Currency](db)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Currency, error) {
	return r.store(db).FindOne(ctx, &domain.Currency{Code: code})
}

func (r *repo) FindByCodes(ctx context.Context, db *gorm.DB, codes []string) ([]*domain.Currency, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return r.store(db).Find(ctx, nil, option.WithWhere("code IN ?", codes))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]*domain.Currency, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "code", Allow: map[string]bool{"code": true}}),
	}
	if enabledOnly {
		opts = append(opts, option.WithWhere("enabled = ?", true))
	}
	return r.store(db).Find(ctx, nil, opts...)
}
