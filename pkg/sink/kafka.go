package sink

import (
	"context"
	"encoding/json"
	"fmt"

	ckafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lockmint-bridge/pkg/builder"
)

// KafkaSink publishes prepared transactions to a topic consumed by a
// downstream signing/broadcasting service.
type KafkaSink struct {
	producer *ckafka.Producer
	topic    string
	logger   zerolog.Logger
}

func NewKafkaSink(broker, topic string) (*KafkaSink, error) {
	producer, err := ckafka.NewProducer(&ckafka.ConfigMap{
		"bootstrap.servers": broker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer for %s: %w", broker, err)
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   log.With().Str("sink", "kafka").Str("topic", topic).Logger(),
	}, nil
}

func (s *KafkaSink) Emit(_ context.Context, tx *builder.PreparedTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal prepared transaction: %w", err)
	}
	// The source nonce keys the message so downstream consumers can
	// dedupe on redelivery.
	err = s.producer.Produce(&ckafka.Message{
		TopicPartition: ckafka.TopicPartition{Topic: &s.topic, Partition: ckafka.PartitionAny},
		Key:            tx.SourceNonce.Bytes(),
		Value:          payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to publish prepared transaction: %w", err)
	}
	if remaining := s.producer.Flush(5000); remaining > 0 {
		return fmt.Errorf("%d prepared transactions still unflushed", remaining)
	}
	s.logger.Info().Str("source_nonce", tx.SourceNonce.Hex()).Msg("prepared transaction published")
	return nil
}

func (s *KafkaSink) Close() error {
	s.producer.Close()
	return nil
}
