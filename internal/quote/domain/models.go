package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/pkg/money"
)

// Quote locks a rate for a conversion until ExpiryAt. LockedRate and
// ConvertedAmount never change after insert; Consumed flips once.
type Quote struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	FromCurrency    string          `gorm:"size:3;not null"`
	ToCurrency      string          `gorm:"size:3;not null"`
	RequestedAmount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	LockedRate      decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ConvertedAmount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	RateDerived     bool            `gorm:"not null"`
	CreatedAt       time.Time       `gorm:"not null"`
	ExpiryAt        time.Time       `gorm:"not null;index"`
	Consumed        bool            `gorm:"not null"`
	ConsumedAt      *time.Time
}

func (Quote) TableName() string { return "quotes" }

// Expired reports whether the quote can no longer be settled at now.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiryAt)
}

// Response is the public representation of a quote. Values are rendered
// with fixed scales so a replayed response is byte-identical to the first.
type Response struct {
	ID              string    `json:"id"`
	FromCurrency    string    `json:"from_currency"`
	ToCurrency      string    `json:"to_currency"`
	Amount          string    `json:"amount"`
	ConvertedAmount string    `json:"converted_amount"`
	Rate            string    `json:"rate"`
	Timestamp       time.Time `json:"timestamp"`
	ExpiryTimestamp time.Time `json:"expiry_timestamp"`
}

func NewResponse(q Quote) Response {
	return Response{
		ID:              q.ID.String(),
		FromCurrency:    q.FromCurrency,
		ToCurrency:      q.ToCurrency,
		Amount:          money.Format(q.RequestedAmount, money.AmountScale),
		ConvertedAmount: money.Format(q.ConvertedAmount, money.AmountScale),
		Rate:            money.Format(q.LockedRate, money.RateScale),
		Timestamp:       q.CreatedAt.UTC(),
		ExpiryTimestamp: q.ExpiryAt.UTC(),
	}
}
