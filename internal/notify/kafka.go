package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
)

// Kafka publishes notifications to a topic, keyed by registry so each
// registry's notifications keep their order within a partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer creates a synchronous producer for the configured brokers
func NewKafkaProducer(cfg configs.KafkaConfig) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (k *Kafka) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.Registry),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(n.Kind)},
			{Key: []byte("id"), Value: []byte(n.ID.String())},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	log.Debug().
		Str("topic", k.topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("kind", string(n.Kind)).
		Msg("Notification sent to Kafka")
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
