package events

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if !cfg.Kafka.Enabled() {
		return NewLogPublisher(log), nil
	}

	pub, err := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	log.Info("kafka event publisher enabled",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return pub, nil
}
