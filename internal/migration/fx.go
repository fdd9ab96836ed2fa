package migration

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/smallbiznis/fxquote/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, exchange *config.ExchangeConfigHolder, log *zap.Logger) error {
		ctx := context.Background()
		if err := Run(ctx, conn); err != nil {
			return err
		}
		inserted, err := seed.EnsureCurrencies(ctx, conn, exchange.Get().Currencies)
		if err != nil {
			return err
		}
		if inserted > 0 {
			log.Info("seeded currencies", zap.Int64("inserted", inserted))
		}
		return nil
	}),
)
