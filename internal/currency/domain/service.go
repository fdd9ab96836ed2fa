package domain

import (
	"context"
	"errors"
)

type ListRequest struct {
	EnabledOnly bool
}

type Service interface {
	List(ctx context.Context, req ListRequest) ([]Currency, error)
	Get(ctx context.Context, code string) (Currency, error)
	// EnsureSupported fails unless every code exists and is enabled.
	EnsureSupported(ctx context.Context, codes ...string) error
}

var (
	ErrInvalidCode         = errors.New("invalid_currency")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
	ErrNotFound            = errors.New("currency_not_found")
)
