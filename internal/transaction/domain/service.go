package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
)

type CreateRequest struct {
	IdempotencyKey string
	QuoteID        string
	Amount         string
}

type CreateResult struct {
	Transaction Transaction
	Replayed    bool
}

type ListRequest struct {
	QuoteID   string
	PageToken string
	PageSize  int
}

type ListFilter struct {
	QuoteID snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Transactions []Transaction
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Get(ctx context.Context, id string) (Transaction, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidQuote         = errors.New("invalid_quote")
	ErrNotFound             = errors.New("transaction_not_found")
	ErrQuoteNotFound        = errors.New("quote_not_found")
	ErrAmountMismatch       = errors.New("amount_mismatch")
	ErrQuoteExpired         = errors.New("quote_expired")
	ErrQuoteAlreadyConsumed = errors.New("quote_already_consumed")
	ErrCommitFailed         = errors.New("transaction_commit_failed")
)
