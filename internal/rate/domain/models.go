package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Rate is the latest observation for an ordered currency pair.
type Rate struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	BaseCurrency   string          `gorm:"size:3;not null;uniqueIndex:ux_rates_pair,priority:1" json:"base_currency"`
	TargetCurrency string          `gorm:"size:3;not null;uniqueIndex:ux_rates_pair,priority:2" json:"target_currency"`
	Value          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"rate"`
	ObservedAt     time.Time       `gorm:"not null" json:"timestamp"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Rate) TableName() string { return "rates" }

// Observation is a single provider quote prior to persistence.
type Observation struct {
	BaseCurrency   string
	TargetCurrency string
	Value          decimal.Decimal
	ObservedAt     time.Time
}
