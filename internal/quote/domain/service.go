package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateRequest struct {
	IdempotencyKey string
	FromCurrency   string
	ToCurrency     string
	Amount         string
}

type CreateResult struct {
	Quote Quote
	// Replayed is set when the key was seen before and the stored quote is returned.
	Replayed bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Get(ctx context.Context, id string) (Quote, error)
	// Consume marks the quote consumed on tx. ErrAlreadyConsumed means another
	// settlement got there first.
	Consume(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error
}

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrSameCurrency    = errors.New("same_currency")
	ErrNotFound        = errors.New("quote_not_found")
	ErrAlreadyConsumed = errors.New("quote_already_consumed")
	ErrCommitFailed    = errors.New("quote_commit_failed")
)
