package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/risk-registry/internal/notify"
)

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	return config
}

func TestKafkaPublishesKeyedMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	n := newNotification(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "registry-notifications" {
			return fmt.Errorf("topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "risk" {
			return fmt.Errorf("key %q", key)
		}
		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers["kind"] != string(notify.KindRiskScoreUpdated) || headers["id"] != n.ID.String() {
			return fmt.Errorf("headers %v", headers)
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var back notify.Notification
		if err := json.Unmarshal(raw, &back); err != nil {
			return err
		}
		if back.ID != n.ID {
			return fmt.Errorf("id %s", back.ID)
		}
		return nil
	})

	sink := notify.NewKafka(producer, "registry-notifications")
	require.NoError(t, sink.Notify(context.Background(), n))
	require.NoError(t, sink.Close())
}

func TestKafkaSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := notify.NewKafka(producer, "registry-notifications")
	err := sink.Notify(context.Background(), newNotification(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sarama.ErrOutOfBrokers))
	require.NoError(t, sink.Close())
}
