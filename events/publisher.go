package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher sends domain events to interested services.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// New builds an envelope stamped with at.
func New(eventType, key string, payload any, at time.Time) Event {
	return Event{
		Type:      eventType,
		Key:       key,
		Payload:   payload,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Encode returns the wire form of evt.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}
	return data, nil
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	logger.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka publisher configured")

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "kafka-publisher").Logger(),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := Encode(evt)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(evt.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("type", evt.Type).Str("key", evt.Key).Msg("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}

	p.logger.Debug().Str("type", evt.Type).Str("key", evt.Key).Msg("Event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
