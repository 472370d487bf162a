// Package platform implements user registration, subscription billing, risk
// event reporting and revenue collection.
package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
	"github.com/enterprise/risk-registry/internal/payout"
)

// Namespace is the key prefix owned by the platform registry.
const Namespace = "platform"

const (
	// SubscriptionPeriod is the length of one billed month.
	SubscriptionPeriod = 30 * 24 * time.Hour
	MinMonths          = 1
	MaxMonths          = 12

	DefaultEventLimit = 50
)

// Registry is the platform registry.
type Registry struct {
	*access.Guard
	transferer payout.Transferer
}

// New creates the platform registry over store. Revenue is paid out through t.
func New(store kv.Store, t payout.Transferer, opts ...access.Option) *Registry {
	return &Registry{
		Guard:      access.NewGuard(Namespace, store, opts...),
		transferer: t,
	}
}

type state struct {
	TotalUsers      uint64          `json:"total_users"`
	TotalRiskEvents uint64          `json:"total_risk_events"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	Balance         decimal.Decimal `json:"balance"`
	PricePerMonth   decimal.Decimal `json:"price_per_month"`
}

var stateKey = kv.Key(Namespace, "state")

func profileKey(who models.Address) string {
	return kv.Key(Namespace, "profile", who.Key())
}

func eventKey(id uint64) string {
	return kv.Key(Namespace, "event", strconv.FormatUint(id, 10))
}

func targetEventsKey(target models.Address) string {
	return kv.Key(Namespace, "target-events", target.Key())
}

func loadState(r kv.Reader) (state, error) {
	var s state
	_, err := kv.GetJSON(r, stateKey, &s)
	return s, err
}

func loadProfile(r kv.Reader, who models.Address) (models.UserProfile, bool, error) {
	var p models.UserProfile
	ok, err := kv.GetJSON(r, profileKey(who), &p)
	return p, ok, err
}

// Notification payloads
type (
	UserRegistered struct {
		User models.Address `json:"user"`
	}
	SubscriptionCreated struct {
		User    models.Address  `json:"user"`
		Months  uint            `json:"months"`
		Payment decimal.Decimal `json:"payment"`
		Expiry  time.Time       `json:"expiry"`
	}
	RiskEventCreated struct {
		EventID   uint64         `json:"event_id"`
		Target    models.Address `json:"target"`
		RiskLevel uint8          `json:"risk_level"`
		RiskType  string         `json:"risk_type"`
		Reporter  models.Address `json:"reporter"`
	}
	RevenueCollected struct {
		Recipient models.Address  `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	PriceUpdated struct {
		Previous decimal.Decimal `json:"previous"`
		Price    decimal.Decimal `json:"price"`
	}
)

// Initialize makes admin the registry administrator and sets the monthly price.
func (r *Registry) Initialize(ctx context.Context, admin models.Address, pricePerMonth decimal.Decimal) error {
	return r.Bootstrap(ctx, admin, func(op *access.Op) error {
		if !pricePerMonth.IsPositive() {
			return fmt.Errorf("%w: price per month must be positive", models.ErrInvalidInput)
		}
		return kv.PutJSON(op.Tx, stateKey, state{PricePerMonth: pricePerMonth})
	})
}

// Register creates caller's profile. Registering twice fails with ErrAlreadyRegistered.
func (r *Registry) Register(ctx context.Context, caller models.Address) error {
	return r.Mutate(ctx, "register", "", caller, func(op *access.Op) error {
		if caller.IsZero() {
			return fmt.Errorf("%w: caller is the null address", models.ErrInvalidInput)
		}
		_, exists, err := loadProfile(op.Tx, caller)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", models.ErrAlreadyRegistered, caller.Hex())
		}

		profile := models.UserProfile{
			Address:      caller,
			IsRegistered: true,
			RegisteredAt: op.Now,
			LastActiveAt: op.Now,
		}
		if err := kv.PutJSON(op.Tx, profileKey(caller), profile); err != nil {
			return err
		}

		s, err := loadState(op.Tx)
		if err != nil {
			return err
		}
		s.TotalUsers++
		if err := kv.PutJSON(op.Tx, stateKey, s); err != nil {
			return err
		}

		op.Emit(notify.KindUserRegistered, UserRegistered{User: caller})
		return nil
	})
}

// Subscribe buys months of service for caller. The whole payment is kept as
// revenue; overpayment is not refunded. An unexpired subscription is extended
// from its current expiry.
func (r *Registry) Subscribe(ctx context.Context, caller models.Address, months uint, payment decimal.Decimal) error {
	return r.Mutate(ctx, "subscribe", "", caller, func(op *access.Op) error {
		if months < MinMonths || months > MaxMonths {
			return fmt.Errorf("%w: %d months, want %d-%d", models.ErrInvalidPeriod, months, MinMonths, MaxMonths)
		}

		s, err := loadState(op.Tx)
		if err != nil {
			return err
		}
		due := s.PricePerMonth.Mul(decimal.NewFromInt(int64(months)))
		if payment.LessThan(due) {
			return fmt.Errorf("%w: paid %s, due %s", models.ErrInsufficientPayment, payment, due)
		}

		profile, registered, err := loadProfile(op.Tx, caller)
		if err != nil {
			return err
		}
		if !registered {
			return fmt.Errorf("%w: %s", models.ErrNotRegistered, caller.Hex())
		}

		extension := time.Duration(months) * SubscriptionPeriod
		if profile.SubscriptionExpiry.After(op.Now) {
			profile.SubscriptionExpiry = profile.SubscriptionExpiry.Add(extension)
		} else {
			profile.SubscriptionExpiry = op.Now.Add(extension)
		}
		profile.IsSubscribed = true
		profile.LastActiveAt = op.Now
		if err := kv.PutJSON(op.Tx, profileKey(caller), profile); err != nil {
			return err
		}

		s.TotalRevenue = s.TotalRevenue.Add(payment)
		s.Balance = s.Balance.Add(payment)
		if err := kv.PutJSON(op.Tx, stateKey, s); err != nil {
			return err
		}

		op.Emit(notify.KindSubscriptionCreated, SubscriptionCreated{
			User:    caller,
			Months:  months,
			Payment: payment,
			Expiry:  profile.SubscriptionExpiry,
		})
		return nil
	})
}

// ReportRiskEvent records an analyst's report about target and returns its id.
// Registered reporters get their report count bumped; unregistered analysts
// may still report.
func (r *Registry) ReportRiskEvent(ctx context.Context, caller, target models.Address, riskLevel uint8, riskType, description, evidence string) (uint64, error) {
	var id uint64
	err := r.Mutate(ctx, "report_risk_event", access.AnalystRole, caller, func(op *access.Op) error {
		if target.IsZero() {
			return fmt.Errorf("%w: target is the null address", models.ErrInvalidInput)
		}
		if riskLevel > models.MaxScore {
			return fmt.Errorf("%w: risk level %d exceeds %d", models.ErrInvalidInput, riskLevel, models.MaxScore)
		}
		if strings.TrimSpace(description) == "" {
			return fmt.Errorf("%w: description is required", models.ErrInvalidInput)
		}

		s, err := loadState(op.Tx)
		if err != nil {
			return err
		}
		s.TotalRiskEvents++
		id = s.TotalRiskEvents

		event := models.RiskEvent{
			ID:          id,
			Target:      target,
			RiskLevel:   riskLevel,
			RiskType:    riskType,
			Description: description,
			Evidence:    evidence,
			Reporter:    caller,
			CreatedAt:   op.Now,
		}
		if err := kv.PutJSON(op.Tx, eventKey(id), event); err != nil {
			return err
		}

		var ids []uint64
		if _, err := kv.GetJSON(op.Tx, targetEventsKey(target), &ids); err != nil {
			return err
		}
		if err := kv.PutJSON(op.Tx, targetEventsKey(target), append(ids, id)); err != nil {
			return err
		}
		if err := kv.PutJSON(op.Tx, stateKey, s); err != nil {
			return err
		}

		profile, registered, err := loadProfile(op.Tx, caller)
		if err != nil {
			return err
		}
		if registered {
			profile.RiskEventsReported++
			profile.LastActiveAt = op.Now
			if err := kv.PutJSON(op.Tx, profileKey(caller), profile); err != nil {
				return err
			}
		}

		op.Emit(notify.KindRiskEventCreated, RiskEventCreated{
			EventID:   id,
			Target:    target,
			RiskLevel: riskLevel,
			RiskType:  riskType,
			Reporter:  caller,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CollectRevenue pays the whole balance to the caller. The transfer is the
// last step of the transaction, so a rejected transfer leaves state untouched.
func (r *Registry) CollectRevenue(ctx context.Context, caller models.Address) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.Mutate(ctx, "collect_revenue", access.AdminRole, caller, func(op *access.Op) error {
		s, err := loadState(op.Tx)
		if err != nil {
			return err
		}
		if !s.Balance.IsPositive() {
			return models.ErrNothingToCollect
		}
		amount = s.Balance
		s.Balance = decimal.Zero
		if err := kv.PutJSON(op.Tx, stateKey, s); err != nil {
			return err
		}

		if err := r.transferer.Transfer(ctx, caller, amount); err != nil {
			return fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
		}

		op.Emit(notify.KindRevenueCollected, RevenueCollected{Recipient: caller, Amount: amount})
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// UpdateSubscriptionPrice changes the monthly price for future subscriptions.
func (r *Registry) UpdateSubscriptionPrice(ctx context.Context, caller models.Address, price decimal.Decimal) error {
	return r.Mutate(ctx, "update_subscription_price", access.AdminRole, caller, func(op *access.Op) error {
		if !price.IsPositive() {
			return fmt.Errorf("%w: price per month must be positive", models.ErrInvalidInput)
		}
		s, err := loadState(op.Tx)
		if err != nil {
			return err
		}
		previous := s.PricePerMonth
		s.PricePerMonth = price
		if err := kv.PutJSON(op.Tx, stateKey, s); err != nil {
			return err
		}
		op.Emit(notify.KindPriceUpdated, PriceUpdated{Previous: previous, Price: price})
		return nil
	})
}

// GetRiskEventsForTarget returns up to limit events about target in ascending
// id order. A zero limit means DefaultEventLimit.
func (r *Registry) GetRiskEventsForTarget(ctx context.Context, target models.Address, limit int) ([]models.RiskEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	events := []models.RiskEvent{}
	err := r.View(ctx, func(rd kv.Reader) error {
		var ids []uint64
		if _, err := kv.GetJSON(rd, targetEventsKey(target), &ids); err != nil {
			return err
		}
		for _, id := range ids {
			if len(events) == limit {
				break
			}
			var e models.RiskEvent
			ok, err := kv.GetJSON(rd, eventKey(id), &e)
			if err != nil {
				return err
			}
			if ok {
				events = append(events, e)
			}
		}
		return nil
	})
	return events, err
}

// GetRiskEvent returns the event with id, or the zero event if there is none.
func (r *Registry) GetRiskEvent(ctx context.Context, id uint64) (models.RiskEvent, error) {
	var e models.RiskEvent
	err := r.View(ctx, func(rd kv.Reader) error {
		_, err := kv.GetJSON(rd, eventKey(id), &e)
		return err
	})
	return e, err
}

// GetUserProfile returns who's profile, or the zero profile if unregistered.
func (r *Registry) GetUserProfile(ctx context.Context, who models.Address) (models.UserProfile, error) {
	var p models.UserProfile
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		p, _, err = loadProfile(rd, who)
		return err
	})
	return p, err
}

// HasActiveSubscription is true while who's subscription has not expired.
func (r *Registry) HasActiveSubscription(ctx context.Context, who models.Address) (bool, error) {
	p, err := r.GetUserProfile(ctx, who)
	if err != nil {
		return false, err
	}
	return p.IsSubscribed && p.SubscriptionExpiry.After(r.Now()), nil
}

func (r *Registry) Stats(ctx context.Context) (models.PlatformStats, error) {
	var s state
	err := r.View(ctx, func(rd kv.Reader) error {
		var err error
		s, err = loadState(rd)
		return err
	})
	return models.PlatformStats{
		TotalUsers:      s.TotalUsers,
		TotalRiskEvents: s.TotalRiskEvents,
		TotalRevenue:    s.TotalRevenue,
		Balance:         s.Balance,
		PricePerMonth:   s.PricePerMonth,
	}, err
}
