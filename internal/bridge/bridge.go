// Package bridge turns risk threshold notifications into alerts for the users
// watching the affected target.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/internal/metrics"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
	"github.com/enterprise/risk-registry/internal/risk"
	"github.com/enterprise/risk-registry/internal/watchlist"
)

// AlertRiskType tags alerts raised by the bridge.
const AlertRiskType = "threshold_exceeded"

// Bridge creates alerts as operator, which must hold the watchlist admin role.
type Bridge struct {
	watchlist *watchlist.Registry
	operator  models.Address
	metrics   *metrics.Metrics
}

func New(w *watchlist.Registry, operator models.Address, m *metrics.Metrics) *Bridge {
	return &Bridge{watchlist: w, operator: operator, metrics: m}
}

// Notify lets the bridge sit directly on a registry's notifier chain.
func (b *Bridge) Notify(ctx context.Context, n notify.Notification) error {
	_, err := b.Handle(ctx, n)
	return err
}

// Handle creates an alert for every watcher of the scored target whose
// notifications are on and whose effective threshold the score reaches. The
// effective threshold is the item's custom threshold, else the user's default,
// else the registry's high threshold. Other notifications are ignored.
func (b *Bridge) Handle(ctx context.Context, n notify.Notification) ([]uint64, error) {
	if n.Registry != risk.Namespace || n.Kind != notify.KindThresholdExceeded {
		return nil, nil
	}

	var ev risk.ThresholdExceeded
	if err := n.Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", n.Kind, err)
	}

	watchers, err := b.watchlist.GetWatchers(ctx, ev.Target)
	if err != nil {
		return nil, err
	}

	var (
		created []uint64
		errs    []error
	)
	for _, user := range watchers {
		settings, err := b.watchlist.GetUserSettings(ctx, user)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !settings.NotificationsEnabled {
			continue
		}
		item, ok, err := b.watchlist.GetWatchedItem(ctx, user, ev.Target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || !item.Active {
			continue
		}
		threshold := effectiveThreshold(item, settings, ev.Threshold)
		if ev.Overall < threshold {
			continue
		}

		msg := fmt.Sprintf("%s (%s) scored %d, threshold %d", item.Label, ev.Target.Hex(), ev.Overall, threshold)
		id, err := b.watchlist.CreateAlert(ctx, b.operator, user, ev.Target, ev.Overall, AlertRiskType, msg)
		b.metrics.ObserveBridgedAlert(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert for %s: %w", user.Hex(), err))
			continue
		}
		created = append(created, id)

		log.Info().
			Uint64("alert_id", id).
			Str("recipient", user.Hex()).
			Str("target", ev.Target.Hex()).
			Uint8("risk_level", ev.Overall).
			Msg("Alert created")
	}
	return created, errors.Join(errs...)
}

func effectiveThreshold(item models.WatchlistItem, settings models.UserSettings, high uint8) uint8 {
	if item.CustomThreshold > 0 {
		return item.CustomThreshold
	}
	if settings.DefaultThreshold > 0 {
		return settings.DefaultThreshold
	}
	return high
}
