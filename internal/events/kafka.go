package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const kafkaWriteTimeout = 10 * time.Second

type kafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher writes envelopes to a single topic; the event type travels
// in the envelope and a message header.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		log: log.Named("events.kafka"),
	}, nil
}

func (k *kafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	env, err := newEnvelope(topic, payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    env.OccurredAt,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(topic)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	k.log.Debug("event published", zap.String("type", topic), zap.String("event_id", env.ID))
	return nil
}

func (k *kafkaPublisher) Close() error {
	return k.writer.Close()
}
