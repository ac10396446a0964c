package communicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bilal/dashline-agent/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes each line as one message keyed by correlation id.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaProducer initializes the Kafka writer
func NewKafkaProducer(cfg *config.Config) (*KafkaProducer, error) {
	if len(cfg.Output.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Output.Brokers...),
		Topic:        cfg.Output.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.Agent.Timeout(),
	}

	log.Info().Strs("brokers", cfg.Output.Brokers).Str("topic", cfg.Output.Topic).Msg("kafka producer initialized")

	return &KafkaProducer{writer: w, topic: cfg.Output.Topic}, nil
}

func (p *KafkaProducer) Name() string { return "kafka" }

// WriteBatch publishes the batch. The message value is the JSON line
// envelope; consumers read the raw text from its "line" field.
func (p *KafkaProducer) WriteBatch(ctx context.Context, items []Line) error {
	msgs := make([]kafka.Message, 0, len(items))
	for _, l := range items {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("marshal line: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(l.CorrelationID),
			Value: data,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close shuts down the Kafka writer gracefully
func (p *KafkaProducer) Close() error {
	log.Info().Msg("closing kafka producer")
	return p.writer.Close()
}
