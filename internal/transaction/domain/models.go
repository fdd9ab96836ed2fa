package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/pkg/money"
)

// Transaction settles exactly one quote and is immutable once written.
type Transaction struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	QuoteID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_transactions_quote_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

type Response struct {
	ID        string    `json:"id"`
	Quote     string    `json:"quote"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func NewResponse(t Transaction) Response {
	return Response{
		ID:        t.ID.String(),
		Quote:     t.QuoteID.String(),
		Amount:    money.Format(t.Amount, money.AmountScale),
		Timestamp: t.CreatedAt.UTC(),
	}
}
