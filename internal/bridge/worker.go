package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
	"github.com/enterprise/risk-registry/internal/notify"
)

// Source is a consumer-group view of the notification stream.
type Source interface {
	Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]notify.StreamMessage, error)
	Acknowledge(ctx context.Context, messageID string) error
	SendToDeadLetter(ctx context.Context, n notify.Notification, cause error) error
}

// Worker feeds stream messages to the bridge
type Worker struct {
	id     string
	bridge *Bridge
	source Source
	config configs.WorkerConfig
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats WorkerStats
}

// WorkerStats tracks worker progress
type WorkerStats struct {
	ProcessedCount  int64     `json:"processed_count"`
	FailedCount     int64     `json:"failed_count"`
	AlertsCreated   int64     `json:"alerts_created"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// NewWorker creates a new bridge worker
func NewWorker(id string, b *Bridge, source Source, config configs.WorkerConfig) *Worker {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	return &Worker{
		id:     id,
		bridge: b,
		source: source,
		config: config,
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight batches.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting alert bridge worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	<-ctx.Done()
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

// processBatch handles one batch from the stream
func (w *Worker) processBatch(ctx context.Context, consumerName string) int {
	messages, err := w.source.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		sleep(ctx, time.Second)
		return 0
	}

	for _, msg := range messages {
		if !w.processMessage(ctx, msg) {
			continue
		}
		if err := w.source.Acknowledge(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
		}
	}
	return len(messages)
}

// processMessage retries the bridge up to RetryAttempts times and parks the
// notification in the dead letter stream when it keeps failing. It reports
// whether the message may be acknowledged; a message that could be neither
// bridged nor dead-lettered stays pending so another consumer reclaims it.
func (w *Worker) processMessage(ctx context.Context, msg notify.StreamMessage) bool {
	var (
		created []uint64
		err     error
	)
	for attempt := 0; attempt <= w.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			sleep(ctx, time.Duration(attempt)*100*time.Millisecond)
		}
		created, err = w.bridge.Handle(ctx, msg.Notification)
		// never retry once any alert was created
		if err == nil || len(created) > 0 || ctx.Err() != nil {
			break
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("message_id", msg.ID).
			Msg("Failed to bridge notification")
	}

	w.mu.Lock()
	w.stats.ProcessedCount++
	w.stats.AlertsCreated += int64(len(created))
	w.stats.LastProcessedAt = time.Now()
	if err != nil {
		w.stats.FailedCount++
	}
	w.mu.Unlock()

	if err != nil {
		if dlqErr := w.source.SendToDeadLetter(ctx, msg.Notification, err); dlqErr != nil {
			log.Error().Err(dlqErr).Str("message_id", msg.ID).Msg("Failed to send to dead letter stream, leaving message pending")
			return false
		}
	}
	return true
}

// Stats returns a snapshot of the worker counters
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
