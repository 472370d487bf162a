// Package watchlist implements per-user watchlists, alert inboxes and alert
// settings.
//
// A user's list keeps targets unique and is scanned linearly. Removal swaps the
// last item into the freed slot, so item order is not stable across removals.
package watchlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
)

// Namespace is the key prefix owned by the user watchlist registry.
const Namespace = "watchlist"

type Registry struct {
	*access.Guard
}

func New(store kv.Store, opts ...access.Option) *Registry {
	return &Registry{Guard: access.NewGuard(Namespace, store, opts...)}
}

var alertSeqKey = kv.Key(Namespace, "alert-seq")

func itemsKey(user models.Address) string {
	return kv.Key(Namespace, "items", user.Key())
}

func settingsKey(user models.Address) string {
	return kv.Key(Namespace, "settings", user.Key())
}

func alertsKey(user models.Address) string {
	return kv.Key(Namespace, "alerts", user.Key())
}

func watchersKey(target models.Address) string {
	return kv.Key(Namespace, "watchers", target.Key())
}

// Notification payloads
type (
	ItemChanged struct {
		User   models.Address `json:"user"`
		Target models.Address `json:"target"`
		Label  string         `json:"label,omitempty"`
	}
	AlertCreated struct {
		AlertID   uint64         `json:"alert_id"`
		Recipient models.Address `json:"recipient"`
		Target    models.Address `json:"target"`
		RiskLevel uint8          `json:"risk_level"`
		RiskType  string         `json:"risk_type"`
	}
	AlertsRead struct {
		User     models.Address `json:"user"`
		AlertIDs []uint64       `json:"alert_ids"`
	}
	SettingsUpdated struct {
		User     models.Address      `json:"user"`
		Settings models.UserSettings `json:"settings"`
	}
)

func loadItems(r kv.Reader, user models.Address) ([]models.WatchlistItem, error) {
	items := []models.WatchlistItem{}
	_, err := kv.GetJSON(r, itemsKey(user), &items)
	return items, err
}

func loadAlerts(r kv.Reader, user models.Address) ([]models.Alert, error) {
	alerts := []models.Alert{}
	_, err := kv.GetJSON(r, alertsKey(user), &alerts)
	return alerts, err
}

func loadWatchers(r kv.Reader, target models.Address) ([]models.Address, error) {
	watchers := []models.Address{}
	_, err := kv.GetJSON(r, watchersKey(target), &watchers)
	return watchers, err
}

func indexOf(items []models.WatchlistItem, target models.Address) int {
	for i, item := range items {
		if item.Target == target {
			return i
		}
	}
	return -1
}

func checkThreshold(name string, v uint8) error {
	if v > models.MaxScore {
		return fmt.Errorf("%w: %s %d exceeds %d", models.ErrInvalidInput, name, v, models.MaxScore)
	}
	return nil
}

// Initialize makes admin the registry administrator.
func (r *Registry) Initialize(ctx context.Context, admin models.Address) error {
	return r.Bootstrap(ctx, admin, nil)
}

// AddToWatchlist appends target to caller's list.
func (r *Registry) AddToWatchlist(ctx context.Context, caller, target models.Address, label string, customThreshold uint8, notes string) error {
	return r.Mutate(ctx, "add_to_watchlist", "", caller, func(op *access.Op) error {
		if target.IsZero() {
			return fmt.Errorf("%w: target is the null address", models.ErrInvalidInput)
		}
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: label is required", models.ErrInvalidInput)
		}
		if err := checkThreshold("custom threshold", customThreshold); err != nil {
			return err
		}

		items, err := loadItems(op.Tx, caller)
		if err != nil {
			return err
		}
		if indexOf(items, target) >= 0 {
			return fmt.Errorf("%w: %s is already on the list", models.ErrDuplicateEntry, target.Hex())
		}
		items = append(items, models.WatchlistItem{
			Target:          target,
			Label:           label,
			AddedAt:         op.Now,
			Active:          true,
			CustomThreshold: customThreshold,
			Notes:           notes,
		})
		if err := kv.PutJSON(op.Tx, itemsKey(caller), items); err != nil {
			return err
		}

		watchers, err := loadWatchers(op.Tx, target)
		if err != nil {
			return err
		}
		if err := kv.PutJSON(op.Tx, watchersKey(target), append(watchers, caller)); err != nil {
			return err
		}

		op.Emit(notify.KindUserWatchlistAdded, ItemChanged{User: caller, Target: target, Label: label})
		return nil
	})
}

// RemoveFromWatchlist drops target from caller's list.
func (r *Registry) RemoveFromWatchlist(ctx context.Context, caller, target models.Address) error {
	return r.Mutate(ctx, "remove_from_watchlist", "", caller, func(op *access.Op) error {
		items, err := loadItems(op.Tx, caller)
		if err != nil {
			return err
		}
		i := indexOf(items, target)
		if i < 0 {
			return fmt.Errorf("%w: %s is not on the list", models.ErrNotFound, target.Hex())
		}
		last := len(items) - 1
		items[i] = items[last]
		if err := kv.PutJSON(op.Tx, itemsKey(caller), items[:last]); err != nil {
			return err
		}

		watchers, err := loadWatchers(op.Tx, target)
		if err != nil {
			return err
		}
		for j, w := range watchers {
			if w == caller {
				watchers[j] = watchers[len(watchers)-1]
				watchers = watchers[:len(watchers)-1]
				break
			}
		}
		if len(watchers) == 0 {
			err = op.Tx.Delete(watchersKey(target))
		} else {
			err = kv.PutJSON(op.Tx, watchersKey(target), watchers)
		}
		if err != nil {
			return err
		}

		op.Emit(notify.KindUserWatchlistRemoved, ItemChanged{User: caller, Target: target})
		return nil
	})
}

// UpdateWatchlistItem overwrites the editable fields of an item in place. It
// emits no notification.
func (r *Registry) UpdateWatchlistItem(ctx context.Context, caller, target models.Address, label string, customThreshold uint8, notes string) error {
	return r.Mutate(ctx, "update_watchlist_item", "", caller, func(op *access.Op) error {
		items, err := loadItems(op.Tx, caller)
		if err != nil {
			return err
		}
		i := indexOf(items, target)
		if i < 0 {
			return fmt.Errorf("%w: %s is not on the list", models.ErrNotFound, target.Hex())
		}
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: label is required", models.ErrInvalidInput)
		}
		if err := checkThreshold("custom threshold", customThreshold); err != nil {
			return err
		}
		items[i].Label = label
		items[i].CustomThreshold = customThreshold
		items[i].Notes = notes
		return kv.PutJSON(op.Tx, itemsKey(caller), items)
	})
}

// CreateAlert appends an alert to recipient's inbox and returns its global id.
func (r *Registry) CreateAlert(ctx context.Context, caller, recipient, target models.Address, riskLevel uint8, riskType, message string) (uint64, error) {
	var id uint64
	err := r.Mutate(ctx, "create_alert", access.AdminRole, caller, func(op *access.Op) error {
		if recipient.IsZero() || target.IsZero() {
			return fmt.Errorf("%w: recipient and target are required", models.ErrInvalidInput)
		}
		if err := checkThreshold("risk level", riskLevel); err != nil {
			return err
		}

		var seq uint64
		if _, err := kv.GetJSON(op.Tx, alertSeqKey, &seq); err != nil {
			return err
		}
		seq++
		id = seq
		if err := kv.PutJSON(op.Tx, alertSeqKey, seq); err != nil {
			return err
		}

		alerts, err := loadAlerts(op.Tx, recipient)
		if err != nil {
			return err
		}
		alerts = append(alerts, models.Alert{
			ID:        id,
			Recipient: recipient,
			Target:    target,
			RiskLevel: riskLevel,
			RiskType:  riskType,
			Timestamp: op.Now,
			Message:   message,
		})
		if err := kv.PutJSON(op.Tx, alertsKey(recipient), alerts); err != nil {
			return err
		}

		op.Emit(notify.KindAlertCreated, AlertCreated{
			AlertID:   id,
			Recipient: recipient,
			Target:    target,
			RiskLevel: riskLevel,
			RiskType:  riskType,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MarkAlertAsRead flags one of the caller's own alerts as read. An id that is
// not in the caller's inbox fails with ErrNotFound whoever it belongs to.
func (r *Registry) MarkAlertAsRead(ctx context.Context, caller models.Address, alertID uint64) error {
	return r.Mutate(ctx, "mark_alert_as_read", "", caller, func(op *access.Op) error {
		alerts, err := loadAlerts(op.Tx, caller)
		if err != nil {
			return err
		}
		for i := range alerts {
			if alerts[i].ID != alertID {
				continue
			}
			alerts[i].IsRead = true
			if err := kv.PutJSON(op.Tx, alertsKey(caller), alerts); err != nil {
				return err
			}
			op.Emit(notify.KindAlertRead, AlertsRead{User: caller, AlertIDs: []uint64{alertID}})
			return nil
		}
		return fmt.Errorf("%w: alert %d", models.ErrNotFound, alertID)
	})
}

// MarkAllAlertsAsRead flags every unread alert of the caller and returns how many changed.
func (r *Registry) MarkAllAlertsAsRead(ctx context.Context, caller models.Address) (int, error) {
	var changed []uint64
	err := r.Mutate(ctx, "mark_all_alerts_as_read", "", caller, func(op *access.Op) error {
		changed = changed[:0]
		alerts, err := loadAlerts(op.Tx, caller)
		if err != nil {
			return err
		}
		for i := range alerts {
			if !alerts[i].IsRead {
				alerts[i].IsRead = true
				changed = append(changed, alerts[i].ID)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := kv.PutJSON(op.Tx, alertsKey(caller), alerts); err != nil {
			return err
		}
		op.Emit(notify.KindAlertRead, AlertsRead{User: caller, AlertIDs: changed})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

// UpdateUserSettings overwrites both of caller's settings.
func (r *Registry) UpdateUserSettings(ctx context.Context, caller models.Address, defaultThreshold uint8, notificationsEnabled bool) error {
	return r.Mutate(ctx, "update_user_settings", "", caller, func(op *access.Op) error {
		if err := checkThreshold("default threshold", defaultThreshold); err != nil {
			return err
		}
		settings := models.UserSettings{
			DefaultThreshold:     defaultThreshold,
			NotificationsEnabled: notificationsEnabled,
		}
		if err := kv.PutJSON(op.Tx, settingsKey(caller), settings); err != nil {
			return err
		}
		op.Emit(notify.KindSettingsUpdated, SettingsUpdated{User: caller, Settings: settings})
		return nil
	})
}

// GetUserWatchlist returns user's items in list order.
func (r *Registry) GetUserWatchlist(ctx context.Context, user models.Address) ([]models.WatchlistItem, error) {
	var items []models.WatchlistItem
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		items, err = loadItems(rd, user)
		return err
	})
	return items, err
}

// GetUserAlerts returns user's inbox, oldest first.
func (r *Registry) GetUserAlerts(ctx context.Context, user models.Address) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		alerts, err = loadAlerts(rd, user)
		return err
	})
	return alerts, err
}

// GetUserSettings returns user's settings; zero until the user sets them.
func (r *Registry) GetUserSettings(ctx context.Context, user models.Address) (models.UserSettings, error) {
	var s models.UserSettings
	err := r.View(ctx, func(rd kv.Reader) error {
		_, err := kv.GetJSON(rd, settingsKey(user), &s)
		return err
	})
	return s, err
}

func (r *Registry) IsInUserWatchlist(ctx context.Context, user, target models.Address) (bool, error) {
	items, err := r.GetUserWatchlist(ctx, user)
	if err != nil {
		return false, err
	}
	return indexOf(items, target) >= 0, nil
}

func (r *Registry) GetUnreadAlertCount(ctx context.Context, user models.Address) (int, error) {
	alerts, err := r.GetUserAlerts(ctx, user)
	if err != nil {
		return 0, err
	}
	unread := 0
	for _, a := range alerts {
		if !a.IsRead {
			unread++
		}
	}
	return unread, nil
}

// GetWatchers returns the users whose list contains target, in no particular order.
func (r *Registry) GetWatchers(ctx context.Context, target models.Address) ([]models.Address, error) {
	var watchers []models.Address
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		watchers, err = loadWatchers(rd, target)
		return err
	})
	return watchers, err
}

// GetWatchedItem returns user's item for target.
func (r *Registry) GetWatchedItem(ctx context.Context, user, target models.Address) (models.WatchlistItem, bool, error) {
	items, err := r.GetUserWatchlist(ctx, user)
	if err != nil {
		return models.WatchlistItem{}, false, err
	}
	i := indexOf(items, target)
	if i < 0 {
		return models.WatchlistItem{}, false, nil
	}
	return items[i], true, nil
}
