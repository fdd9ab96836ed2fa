package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Currency struct {
	Code          string            `gorm:"primaryKey;size:3" json:"code"`
	Name          string            `gorm:"not null" json:"name"`
	DecimalPlaces int32             `gorm:"not null" json:"decimal_places"`
	Enabled       bool              `gorm:"not null" json:"enabled"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Currency) TableName() string { return "currencies" }

// NormalizeCode trims and upper-cases an ISO 4217 code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is three ASCII letters after normalization.
func ValidCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
