package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
)

// RedisStream publishes notifications to a Redis stream and reads them back
// through a consumer group.
type RedisStream struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	minIdle          time.Duration
}

// NewRedisStream wraps client for the configured notification stream
func NewRedisStream(client *redis.Client, cfg configs.RedisConfig) *RedisStream {
	return &RedisStream{
		client:           client,
		streamName:       cfg.NotificationStream,
		consumerGroup:    cfg.ConsumerGroup,
		deadLetterStream: cfg.NotificationStream + "-dlq",
		minIdle:          30 * time.Second,
	}
}

// EnsureGroup creates the consumer group, and the stream with it, if missing
func (r *RedisStream) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.streamName, r.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Notify publishes n to the stream
func (r *RedisStream) Notify(ctx context.Context, n Notification) error {
	_, err := r.Publish(ctx, n)
	return err
}

// Publish appends n to the stream and returns the stream message id
func (r *RedisStream) Publish(ctx context.Context, n Notification) (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}

	msgID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		Values: map[string]interface{}{
			"kind": string(n.Kind),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish notification: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("kind", string(n.Kind)).
		Msg("Notification published to stream")

	return msgID, nil
}

// Consume reads up to count messages for consumerName, preferring messages
// abandoned by other consumers.
func (r *RedisStream) Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]StreamMessage, error) {
	pending, err := r.claimPending(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim pending messages")
	}
	if len(pending) > 0 {
		return pending, nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{r.streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []StreamMessage
	for _, stream := range streams {
		messages = append(messages, r.parseAll(stream.Messages)...)
	}
	return messages, nil
}

func (r *RedisStream) claimPending(ctx context.Context, consumerName string, count int64) ([]StreamMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.streamName,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= r.minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.streamName,
		Group:    r.consumerGroup,
		Consumer: consumerName,
		MinIdle:  r.minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	return r.parseAll(claimed), nil
}

// parseAll decodes messages; malformed ones are dead-lettered and acknowledged
// so they are not redelivered forever.
func (r *RedisStream) parseAll(msgs []redis.XMessage) []StreamMessage {
	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		n, err := parseMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse message")
			r.discard(msg, err)
			continue
		}
		out = append(out, StreamMessage{ID: msg.ID, Notification: n})
	}
	return out
}

func (r *RedisStream) discard(msg redis.XMessage, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, _ := msg.Values["data"].(string)
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deadLetterStream,
		Values: map[string]interface{}{"data": raw, "error": cause.Error()},
	}).Err(); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter message")
		return
	}
	_ = r.Acknowledge(ctx, msg.ID)
}

func parseMessage(msg redis.XMessage) (Notification, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return Notification{}, fmt.Errorf("invalid message format")
	}
	var n Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return Notification{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return n, nil
}

// Acknowledge marks a message as processed
func (r *RedisStream) Acknowledge(ctx context.Context, messageID string) error {
	if err := r.client.XAck(ctx, r.streamName, r.consumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	log.Debug().Str("message_id", messageID).Msg("Message acknowledged")
	return nil
}

// SendToDeadLetter parks a notification that could not be handled
func (r *RedisStream) SendToDeadLetter(ctx context.Context, n Notification, cause error) error {
	data, _ := json.Marshal(n)

	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(data),
			"error": cause.Error(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to send to dead letter: %w", err)
	}

	log.Warn().
		Str("notification_id", n.ID.String()).
		Err(cause).
		Msg("Notification sent to dead letter stream")
	return nil
}

// Info returns stream statistics for the consumer group
func (r *RedisStream) Info(ctx context.Context) (*StreamInfo, error) {
	info, err := r.client.XInfoStream(ctx, r.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	groups, err := r.client.XInfoGroups(ctx, r.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get groups info: %w", err)
	}

	var pendingCount int64
	for _, g := range groups {
		if g.Name == r.consumerGroup {
			pendingCount = g.Pending
			break
		}
	}

	return &StreamInfo{
		Length:       info.Length,
		PendingCount: pendingCount,
		Groups:       len(groups),
	}, nil
}

// StreamMessage is a notification read from the stream
type StreamMessage struct {
	ID           string
	Notification Notification
}

// StreamInfo contains stream statistics
type StreamInfo struct {
	Length       int64 `json:"length"`
	PendingCount int64 `json:"pending_count"`
	Groups       int   `json:"groups"`
}
