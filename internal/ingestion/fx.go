package ingestion

import (
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ingestion",
	fx.Provide(NewProvider),
	fx.Provide(NewJob),
)

func NewProvider(cfg config.Config, log *zap.Logger, clk clock.Clock) Provider {
	return NewClient(cfg.Provider, log, clk)
}
