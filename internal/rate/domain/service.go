package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	BaseCurrency   string
	TargetCurrency string
	PageToken      string
	PageSize       int
}

type ListFilter struct {
	BaseCurrency   string
	TargetCurrency string
}

type ListResponse struct {
	pagination.PageInfo
	Rates []Rate `json:"rates"`
}

type Service interface {
	// Latest returns the stored observation for base→target or ErrNotFound.
	Latest(ctx context.Context, base, target string) (Rate, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// Store upserts observations on tx, or in its own transaction when tx is nil.
	Store(ctx context.Context, tx *gorm.DB, observations []Observation) ([]Rate, error)
}

var (
	ErrNotFound        = errors.New("rate_not_found")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidRate     = errors.New("invalid_rate")
)
