// Package notify carries registry notifications to external observers.
//
// Registries emit notifications only after a mutation has committed. Sinks are
// best effort: a failing sink never undoes or fails the mutation.
package notify

//go:generate mockgen -source=notify.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/internal/metrics"
	"github.com/enterprise/risk-registry/internal/models"
)

// Kind names what happened.
type Kind string

// Notification kinds
const (
	KindRoleGranted      Kind = "access.role_granted"
	KindRoleRevoked      Kind = "access.role_revoked"
	KindRoleAdminChanged Kind = "access.role_admin_changed"
	KindPaused           Kind = "access.paused"
	KindUnpaused         Kind = "access.unpaused"
	KindInitialized      Kind = "access.initialized"

	KindUserRegistered      Kind = "platform.user_registered"
	KindSubscriptionCreated Kind = "platform.subscription_created"
	KindRiskEventCreated    Kind = "platform.risk_event_created"
	KindRevenueCollected    Kind = "platform.revenue_collected"
	KindPriceUpdated        Kind = "platform.price_updated"

	KindRiskScoreUpdated     Kind = "risk.score_updated"
	KindThresholdExceeded    Kind = "risk.threshold_exceeded"
	KindWatchlistAdded       Kind = "risk.watchlist_added"
	KindWatchlistRemoved     Kind = "risk.watchlist_removed"
	KindThresholdsUpdated    Kind = "risk.thresholds_updated"
	KindUserWatchlistAdded   Kind = "watchlist.item_added"
	KindUserWatchlistRemoved Kind = "watchlist.item_removed"
	KindAlertCreated         Kind = "watchlist.alert_created"
	KindAlertRead            Kind = "watchlist.alert_read"
	KindSettingsUpdated      Kind = "watchlist.settings_updated"
)

// Notification is one emitted registry event.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	Registry  string          `json:"registry"`
	Kind      Kind            `json:"kind"`
	Actor     models.Address  `json:"actor"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds a notification with a fresh id and payload encoded as JSON.
func New(registry string, kind Kind, actor models.Address, at time.Time, payload any) (Notification, error) {
	n := Notification{
		ID:        uuid.New(),
		Registry:  registry,
		Kind:      kind,
		Actor:     actor,
		EmittedAt: at,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Notification{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		n.Payload = raw
	}
	return n, nil
}

// Decode unmarshals the payload into dst.
func (n Notification) Decode(dst any) error {
	if len(n.Payload) == 0 {
		return fmt.Errorf("notification %s has no payload", n.ID)
	}
	return json.Unmarshal(n.Payload, dst)
}

// Notifier delivers notifications to an observer.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Log writes each notification to the global logger.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) error {
	log.Info().
		Str("id", n.ID.String()).
		Str("registry", n.Registry).
		Str("kind", string(n.Kind)).
		Str("actor", n.Actor.Hex()).
		RawJSON("payload", payloadOrNull(n.Payload)).
		Msg("Registry notification")
	return nil
}

func payloadOrNull(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("null")
	}
	return p
}

// Fanout delivers to every sink and records the outcome per sink.
type Fanout struct {
	sinks   []namedSink
	metrics *metrics.Metrics
}

type namedSink struct {
	name string
	sink Notifier
}

func NewFanout(m *metrics.Metrics) *Fanout {
	return &Fanout{metrics: m}
}

// Add appends a sink.
func (f *Fanout) Add(name string, sink Notifier) *Fanout {
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Notify tries every sink even if earlier ones fail.
func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.sink.Notify(ctx, n)
		f.metrics.ObserveNotification(s.name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

// All returns a copy of what was recorded, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Kinds lists the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.items))
	for i, n := range r.items {
		out[i] = n.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
