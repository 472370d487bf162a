package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enterprise/risk-registry/configs"
	"github.com/enterprise/risk-registry/internal/notify"
	"github.com/enterprise/risk-registry/internal/risk"
)

// fakeSource hands out queued messages and records acks and dead letters.
type fakeSource struct {
	mu      sync.Mutex
	queue   []notify.StreamMessage
	acked   []string
	dead    []notify.Notification
	deadErr error
	total   int
	drained chan struct{}
}

func newFakeSource(msgs ...notify.StreamMessage) *fakeSource {
	return &fakeSource{queue: msgs, total: len(msgs), drained: make(chan struct{})}
}

func (f *fakeSource) Consume(ctx context.Context, _ string, count int64, block time.Duration) ([]notify.StreamMessage, error) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		sleep(ctx, block)
		return nil, nil
	}
	n := int(count)
	if n > len(f.queue) {
		n = len(f.queue)
	}
	out := f.queue[:n]
	f.queue = f.queue[n:]
	f.mu.Unlock()
	return out, nil
}

func (f *fakeSource) Acknowledge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	if len(f.acked) == f.total {
		close(f.drained)
	}
	return nil
}

func (f *fakeSource) SendToDeadLetter(_ context.Context, n notify.Notification, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadErr != nil {
		return f.deadErr
	}
	f.dead = append(f.dead, n)
	return nil
}

func (s *BridgeSuite) thresholdMessage(id string, overall uint8) notify.StreamMessage {
	n, err := notify.New(risk.Namespace, notify.KindThresholdExceeded, analyst, time.Now().UTC(),
		risk.ThresholdExceeded{Target: pool, Overall: overall, Threshold: 70})
	s.Require().NoError(err)
	return notify.StreamMessage{ID: id, Notification: n}
}

func (s *BridgeSuite) TestWorkerBatch() {
	s.watch(alice, 0, true, 0)

	broken := notify.Notification{
		ID:       uuid.New(),
		Registry: risk.Namespace,
		Kind:     notify.KindThresholdExceeded,
		Actor:    analyst,
		Payload:  json.RawMessage(`"not an object"`),
	}
	source := newFakeSource(
		s.thresholdMessage("1-0", 80),
		notify.StreamMessage{ID: "2-0", Notification: broken},
		s.thresholdMessage("3-0", 50),
	)
	w := NewWorker("test", s.bridge, source, configs.WorkerConfig{BatchSize: 10, RetryAttempts: 1})

	s.Equal(3, w.processBatch(s.ctx, "test-0"))

	s.Equal([]string{"1-0", "2-0", "3-0"}, source.acked)
	s.Require().Len(source.dead, 1)
	s.Equal(broken.ID, source.dead[0].ID)

	stats := w.Stats()
	s.Equal(int64(3), stats.ProcessedCount)
	s.Equal(int64(1), stats.FailedCount)
	s.Equal(int64(1), stats.AlertsCreated)
	s.Equal(1, s.unread(alice))
}

func (s *BridgeSuite) TestWorkerLeavesMessagePendingWhenDeadLetterFails() {
	broken := notify.Notification{
		ID:       uuid.New(),
		Registry: risk.Namespace,
		Kind:     notify.KindThresholdExceeded,
		Actor:    analyst,
		Payload:  json.RawMessage(`"not an object"`),
	}
	source := newFakeSource(
		notify.StreamMessage{ID: "1-0", Notification: broken},
		s.thresholdMessage("2-0", 50),
	)
	source.deadErr = errors.New("dead letter stream unavailable")
	w := NewWorker("test", s.bridge, source, configs.WorkerConfig{BatchSize: 10})

	s.Equal(2, w.processBatch(s.ctx, "test-0"))

	s.Equal([]string{"2-0"}, source.acked)
	s.Empty(source.dead)
	s.Equal(int64(1), w.Stats().FailedCount)
}

func (s *BridgeSuite) TestWorkerRetriesTransientFailure() {
	s.watch(alice, 0, true, 0)
	source := newFakeSource(s.thresholdMessage("1-0", 90))
	w := NewWorker("test", s.bridge, source, configs.WorkerConfig{BatchSize: 1, RetryAttempts: 2})

	s.store.failUpdate(1)
	s.Equal(1, w.processBatch(s.ctx, "test-0"))

	s.Empty(source.dead)
	s.Zero(w.Stats().FailedCount)
	s.Equal(1, s.unread(alice))
}

func (s *BridgeSuite) TestWorkerDoesNotRetryAfterPartialSuccess() {
	s.watch(alice, 0, true, 0)
	s.watch(bob, 0, true, 0)
	source := newFakeSource(s.thresholdMessage("1-0", 90))
	w := NewWorker("test", s.bridge, source, configs.WorkerConfig{BatchSize: 1, RetryAttempts: 2})

	// alice's alert commits, bob's fails
	s.store.failUpdate(2)
	s.Equal(1, w.processBatch(s.ctx, "test-0"))

	stats := w.Stats()
	s.Equal(int64(1), stats.FailedCount)
	s.Equal(int64(1), stats.AlertsCreated)
	s.Len(source.dead, 1)
	s.Equal(1, s.unread(alice))
	s.Zero(s.unread(bob))
}

func (s *BridgeSuite) TestWorkerRunStopsOnCancel() {
	s.watch(alice, 0, true, 0)
	source := newFakeSource(s.thresholdMessage("1-0", 75), s.thresholdMessage("2-0", 76))
	w := NewWorker("test", s.bridge, source, configs.WorkerConfig{
		Concurrency:  2,
		BatchSize:    1,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-source.drained:
	case <-time.After(5 * time.Second):
		s.FailNow("worker did not drain the source")
	}
	cancel()

	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("worker did not stop")
	}
	s.Equal(int64(2), w.Stats().ProcessedCount)
	s.Equal(2, s.unread(alice))
}

var _ Source = (*fakeSource)(nil)
