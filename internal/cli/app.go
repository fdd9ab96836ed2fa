package cli

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/internal/cache"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/smallbiznis/fxquote/internal/currency"
	"github.com/smallbiznis/fxquote/internal/events"
	"github.com/smallbiznis/fxquote/internal/idempotency"
	"github.com/smallbiznis/fxquote/internal/ingestion"
	"github.com/smallbiznis/fxquote/internal/migration"
	"github.com/smallbiznis/fxquote/internal/observability"
	"github.com/smallbiznis/fxquote/internal/quote"
	"github.com/smallbiznis/fxquote/internal/rate"
	"github.com/smallbiznis/fxquote/internal/ratelimit"
	"github.com/smallbiznis/fxquote/internal/resolver"
	"github.com/smallbiznis/fxquote/internal/scheduler"
	"github.com/smallbiznis/fxquote/internal/server"
	"github.com/smallbiznis/fxquote/internal/transaction"
	"github.com/smallbiznis/fxquote/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// fxLogger routes fx lifecycle events through zap at debug level.
func fxLogger(log *zap.Logger) fxevent.Logger {
	if log == nil {
		return fxevent.NopLogger
	}
	l := &fxevent.ZapLogger{Logger: log.Named("fx")}
	l.UseLogLevel(zapcore.DebugLevel)
	return l
}

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		ratelimit.Module,
		cache.Module,
		events.Module,
		currency.Module,
		rate.Module,
		resolver.Module,
		idempotency.Module,
		quote.Module,
		transaction.Module,
		ingestion.Module,
		scheduler.Module,
	)
}

func serveOptions() []fx.Option {
	return []fx.Option{
		infrastructure(),
		migration.Module,
		domains(),
		server.Module,
		scheduler.Lifecycle,
	}
}

func workerOptions() []fx.Option {
	return []fx.Option{
		infrastructure(),
		migration.Module,
		domains(),
		fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
			cfg.Enabled = true
			return cfg
		}),
		scheduler.Lifecycle,
	}
}
