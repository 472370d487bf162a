// Package risk holds analyst-supplied risk scores, their factors, the global
// watchlist and the severity thresholds.
//
// The global watchlist is backed by an unordered sequence. Removal swaps the
// last entry into the freed slot, so enumeration order changes across removals.
package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
)

// Namespace is the key prefix owned by the risk registry.
const Namespace = "risk"

const DefaultTopLimit = 10

// DefaultThresholds are installed by Initialize.
var DefaultThresholds = models.Thresholds{High: 70, Medium: 40, Low: 20}

type Registry struct {
	*access.Guard
}

func New(store kv.Store, opts ...access.Option) *Registry {
	return &Registry{Guard: access.NewGuard(Namespace, store, opts...)}
}

var (
	thresholdsKey = kv.Key(Namespace, "thresholds")
	watchlistKey  = kv.Key(Namespace, "watchlist")
)

func scoreKey(target models.Address) string {
	return kv.Key(Namespace, "score", target.Key())
}

func factorsKey(target models.Address) string {
	return kv.Key(Namespace, "factors", target.Key())
}

func entryKey(target models.Address) string {
	return kv.Key(Namespace, "watch", target.Key())
}

// Notification payloads
type (
	ScoreUpdated struct {
		Target  models.Address `json:"target"`
		Overall uint8          `json:"overall"`
		Factors int            `json:"factors"`
	}
	ThresholdExceeded struct {
		Target    models.Address `json:"target"`
		Overall   uint8          `json:"overall"`
		Threshold uint8          `json:"threshold"`
	}
	WatchlistChanged struct {
		Target models.Address `json:"target"`
		Label  string         `json:"label,omitempty"`
	}
	ThresholdsUpdated struct {
		Thresholds models.Thresholds `json:"thresholds"`
	}
)

func loadThresholds(r kv.Reader) (models.Thresholds, error) {
	var t models.Thresholds
	_, err := kv.GetJSON(r, thresholdsKey, &t)
	return t, err
}

func loadSequence(r kv.Reader) ([]models.Address, error) {
	var seq []models.Address
	_, err := kv.GetJSON(r, watchlistKey, &seq)
	return seq, err
}

func loadEntry(r kv.Reader, target models.Address) (models.WatchlistEntry, bool, error) {
	var e models.WatchlistEntry
	ok, err := kv.GetJSON(r, entryKey(target), &e)
	return e, ok, err
}

func validThresholds(t models.Thresholds) error {
	// low >= 0 always holds for an unsigned scale
	if t.High > models.MaxScore || t.High <= t.Medium || t.Medium <= t.Low {
		return fmt.Errorf("%w: want %d >= high > medium > low >= 0, got %d/%d/%d",
			models.ErrInvalidThresholds, models.MaxScore, t.High, t.Medium, t.Low)
	}
	return nil
}

// Initialize makes admin the registry administrator and installs the default thresholds.
func (r *Registry) Initialize(ctx context.Context, admin models.Address) error {
	return r.Bootstrap(ctx, admin, func(op *access.Op) error {
		return kv.PutJSON(op.Tx, thresholdsKey, DefaultThresholds)
	})
}

// UpdateRiskScore replaces target's score and factor list. Scores at or above
// the high threshold also emit KindThresholdExceeded.
func (r *Registry) UpdateRiskScore(ctx context.Context, caller, target models.Address, score models.RiskScore, factors []models.RiskFactor) error {
	return r.Mutate(ctx, "update_risk_score", access.AnalystRole, caller, func(op *access.Op) error {
		if target.IsZero() {
			return fmt.Errorf("%w: target is the null address", models.ErrInvalidInput)
		}
		for _, sub := range []struct {
			name  string
			value uint8
		}{
			{"overall", score.Overall},
			{"liquidity", score.LiquidityRisk},
			{"volatility", score.VolatilityRisk},
			{"smart contract", score.SmartContractRisk},
			{"concentration", score.ConcentrationRisk},
		} {
			if sub.value > models.MaxScore {
				return fmt.Errorf("%w: %s score %d exceeds %d", models.ErrInvalidInput, sub.name, sub.value, models.MaxScore)
			}
		}

		score.LastUpdated = op.Now
		if err := kv.PutJSON(op.Tx, scoreKey(target), score); err != nil {
			return err
		}
		if factors == nil {
			factors = []models.RiskFactor{}
		}
		if err := kv.PutJSON(op.Tx, factorsKey(target), factors); err != nil {
			return err
		}

		t, err := loadThresholds(op.Tx)
		if err != nil {
			return err
		}

		op.Emit(notify.KindRiskScoreUpdated, ScoreUpdated{Target: target, Overall: score.Overall, Factors: len(factors)})
		if score.Overall >= t.High {
			op.Emit(notify.KindThresholdExceeded, ThresholdExceeded{Target: target, Overall: score.Overall, Threshold: t.High})
		}
		return nil
	})
}

// AddToWatchlist puts target on the global watchlist.
func (r *Registry) AddToWatchlist(ctx context.Context, caller, target models.Address, label string) error {
	return r.Mutate(ctx, "add_to_watchlist", access.AnalystRole, caller, func(op *access.Op) error {
		if target.IsZero() {
			return fmt.Errorf("%w: target is the null address", models.ErrInvalidInput)
		}
		if _, exists, err := loadEntry(op.Tx, target); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s is already watched", models.ErrDuplicateEntry, target.Hex())
		}

		seq, err := loadSequence(op.Tx)
		if err != nil {
			return err
		}
		entry := models.WatchlistEntry{
			Target:  target,
			Active:  true,
			Label:   strings.TrimSpace(label),
			AddedAt: op.Now,
			AddedBy: caller,
			Index:   len(seq),
		}
		if err := kv.PutJSON(op.Tx, entryKey(target), entry); err != nil {
			return err
		}
		if err := kv.PutJSON(op.Tx, watchlistKey, append(seq, target)); err != nil {
			return err
		}

		op.Emit(notify.KindWatchlistAdded, WatchlistChanged{Target: target, Label: entry.Label})
		return nil
	})
}

// RemoveFromWatchlist takes target off the global watchlist by moving the last
// entry into its slot.
func (r *Registry) RemoveFromWatchlist(ctx context.Context, caller, target models.Address) error {
	return r.Mutate(ctx, "remove_from_watchlist", access.AnalystRole, caller, func(op *access.Op) error {
		entry, exists, err := loadEntry(op.Tx, target)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s is not watched", models.ErrNotFound, target.Hex())
		}

		seq, err := loadSequence(op.Tx)
		if err != nil {
			return err
		}
		if entry.Index < 0 || entry.Index >= len(seq) || seq[entry.Index] != target {
			return fmt.Errorf("watchlist index for %s is inconsistent", target.Hex())
		}

		last := len(seq) - 1
		if entry.Index != last {
			moved := seq[last]
			seq[entry.Index] = moved
			movedEntry, ok, err := loadEntry(op.Tx, moved)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("watchlist entry for %s is missing", moved.Hex())
			}
			movedEntry.Index = entry.Index
			if err := kv.PutJSON(op.Tx, entryKey(moved), movedEntry); err != nil {
				return err
			}
		}
		if err := kv.PutJSON(op.Tx, watchlistKey, seq[:last]); err != nil {
			return err
		}
		if err := op.Tx.Delete(entryKey(target)); err != nil {
			return err
		}

		op.Emit(notify.KindWatchlistRemoved, WatchlistChanged{Target: target})
		return nil
	})
}

// UpdateRiskThresholds replaces the severity thresholds.
func (r *Registry) UpdateRiskThresholds(ctx context.Context, caller models.Address, high, medium, low uint8) error {
	return r.Mutate(ctx, "update_risk_thresholds", access.AdminRole, caller, func(op *access.Op) error {
		t := models.Thresholds{High: high, Medium: medium, Low: low}
		if err := validThresholds(t); err != nil {
			return err
		}
		if err := kv.PutJSON(op.Tx, thresholdsKey, t); err != nil {
			return err
		}
		op.Emit(notify.KindThresholdsUpdated, ThresholdsUpdated{Thresholds: t})
		return nil
	})
}

// GetRiskScore returns target's current score, or the zero score.
func (r *Registry) GetRiskScore(ctx context.Context, target models.Address) (models.RiskScore, error) {
	var s models.RiskScore
	err := r.View(ctx, func(rd kv.Reader) error {
		_, err := kv.GetJSON(rd, scoreKey(target), &s)
		return err
	})
	return s, err
}

// GetRiskFactors returns target's current factor list, possibly empty.
func (r *Registry) GetRiskFactors(ctx context.Context, target models.Address) ([]models.RiskFactor, error) {
	factors := []models.RiskFactor{}
	err := r.View(ctx, func(rd kv.Reader) error {
		_, err := kv.GetJSON(rd, factorsKey(target), &factors)
		return err
	})
	return factors, err
}

func (r *Registry) GetRiskThresholds(ctx context.Context) (models.Thresholds, error) {
	var t models.Thresholds
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		t, err = loadThresholds(rd)
		return err
	})
	return t, err
}

// IsWatched reports whether target is on the global watchlist.
func (r *Registry) IsWatched(ctx context.Context, target models.Address) (bool, error) {
	var watched bool
	err := r.View(ctx, func(rd kv.Reader) error {
		e, ok, err := loadEntry(rd, target)
		watched = ok && e.Active
		return err
	})
	return watched, err
}

// GetWatchlist returns the global watchlist in backing-sequence order.
func (r *Registry) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	entries := []models.WatchlistEntry{}
	err := r.View(ctx, func(rd kv.Reader) error {
		seq, err := loadSequence(rd)
		if err != nil {
			return err
		}
		for _, target := range seq {
			e, ok, err := loadEntry(rd, target)
			if err != nil {
				return err
			}
			if ok {
				entries = append(entries, e)
			}
		}
		return nil
	})
	return entries, err
}

// GetTopRiskyAddresses returns watched targets with a nonzero score, in
// backing-sequence order (not sorted by score), up to limit. A zero limit
// means DefaultTopLimit.
func (r *Registry) GetTopRiskyAddresses(ctx context.Context, limit int) ([]models.Address, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	out := []models.Address{}
	err := r.View(ctx, func(rd kv.Reader) error {
		seq, err := loadSequence(rd)
		if err != nil {
			return err
		}
		for _, target := range seq {
			if len(out) == limit {
				break
			}
			var s models.RiskScore
			if _, err := kv.GetJSON(rd, scoreKey(target), &s); err != nil {
				return err
			}
			if s.Overall > 0 {
				out = append(out, target)
			}
		}
		return nil
	})
	return out, err
}

// ClassifyRisk maps target's current overall score onto the thresholds.
func (r *Registry) ClassifyRisk(ctx context.Context, target models.Address) (string, error) {
	severity := models.SeverityNone
	err := r.View(ctx, func(rd kv.Reader) error {
		var s models.RiskScore
		ok, err := kv.GetJSON(rd, scoreKey(target), &s)
		if err != nil || !ok {
			return err
		}
		t, err := loadThresholds(rd)
		if err != nil {
			return err
		}
		severity = t.Classify(s.Overall)
		return nil
	})
	return severity, err
}
