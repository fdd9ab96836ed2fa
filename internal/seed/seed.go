package seed

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureCurrencies inserts the configured currencies that do not exist yet.
// Existing rows are left untouched so operators can disable a currency
// without the next boot re-enabling it.
func EnsureCurrencies(ctx context.Context, db *gorm.DB, seeds []config.CurrencySeed) (int64, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}
	if len(seeds) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]currencydomain.Currency, 0, len(seeds))
	for _, s := range seeds {
		code := currencydomain.NormalizeCode(s.Code)
		if !currencydomain.ValidCode(code) {
			continue
		}
		name := s.Name
		if name == "" {
			name = code
		}
		places := int32(s.DecimalPlaces)
		if places <= 0 {
			places = 4
		}
		rows = append(rows, currencydomain.Currency{
			Code:          code,
			Name:          name,
			DecimalPlaces: places,
			Enabled:       s.IsEnabled(),
			Metadata:      datatypes.JSONMap{},
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoNothing: true,
			}).Create(&rows[i])
			if res.Error != nil {
				return res.Error
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
