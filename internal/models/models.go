package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxScore is the upper bound of every risk level, score and threshold.
const MaxScore = 100

// UserProfile is a principal's platform account. Created on first registration,
// never deleted.
type UserProfile struct {
	Address            Address   `json:"address"`
	IsRegistered       bool      `json:"is_registered"`
	RegisteredAt       time.Time `json:"registered_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
	RiskEventsReported uint64    `json:"risk_events_reported"`
	IsSubscribed       bool      `json:"is_subscribed"`
	SubscriptionExpiry time.Time `json:"subscription_expiry"`
}

// RiskEvent is an immutable analyst report about a target.
type RiskEvent struct {
	ID          uint64    `json:"id"`
	Target      Address   `json:"target"`
	RiskLevel   uint8     `json:"risk_level"`
	RiskType    string    `json:"risk_type"`
	Description string    `json:"description"`
	Evidence    string    `json:"evidence"`
	Reporter    Address   `json:"reporter"`
	CreatedAt   time.Time `json:"created_at"`
	// No operation sets IsResolved yet.
	IsResolved bool `json:"is_resolved"`
}

// RiskScore is the current score of a target. Updates overwrite it wholesale.
type RiskScore struct {
	Overall           uint8     `json:"overall"`
	LiquidityRisk     uint8     `json:"liquidity_risk"`
	VolatilityRisk    uint8     `json:"volatility_risk"`
	SmartContractRisk uint8     `json:"smart_contract_risk"`
	ConcentrationRisk uint8     `json:"concentration_risk"`
	LastUpdated       time.Time `json:"last_updated"`
	Analysis          string    `json:"analysis"`
}

// RiskFactor is one weighted contribution to a target's score.
type RiskFactor struct {
	Name        string `json:"name"`
	Weight      uint8  `json:"weight"`
	Score       uint8  `json:"score"`
	Description string `json:"description"`
}

// WatchlistEntry is a target on the analyst-curated global watchlist.
type WatchlistEntry struct {
	Target  Address   `json:"target"`
	Active  bool      `json:"active"`
	Label   string    `json:"label"`
	AddedAt time.Time `json:"added_at"`
	AddedBy Address   `json:"added_by"`
	// Index is the entry's position in the backing sequence.
	Index int `json:"index"`
}

// Thresholds classify scores into severities. High > Medium > Low, High <= MaxScore.
type Thresholds struct {
	High   uint8 `json:"high"`
	Medium uint8 `json:"medium"`
	Low    uint8 `json:"low"`
}

// Severity enum values
const (
	SeverityNone   = "none"
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Classify returns the severity of score under t.
func (t Thresholds) Classify(score uint8) string {
	switch {
	case score >= t.High:
		return SeverityHigh
	case score >= t.Medium:
		return SeverityMedium
	case score >= t.Low:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// WatchlistItem is one target on a user's personal watchlist.
type WatchlistItem struct {
	Target          Address   `json:"target"`
	Label           string    `json:"label"`
	AddedAt         time.Time `json:"added_at"`
	Active          bool      `json:"active"`
	CustomThreshold uint8     `json:"custom_threshold"`
	Notes           string    `json:"notes"`
}

// UserSettings holds a user's alerting preferences.
type UserSettings struct {
	DefaultThreshold     uint8 `json:"default_threshold"`
	NotificationsEnabled bool  `json:"notifications_enabled"`
}

// Alert is a message in a user's inbox. IDs are global across all users.
type Alert struct {
	ID        uint64    `json:"id"`
	Recipient Address   `json:"recipient"`
	Target    Address   `json:"target"`
	RiskLevel uint8     `json:"risk_level"`
	RiskType  string    `json:"risk_type"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
	Message   string    `json:"message"`
}

// PlatformStats summarises the platform registry.
type PlatformStats struct {
	TotalUsers      uint64          `json:"total_users"`
	TotalRiskEvents uint64          `json:"total_risk_events"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	Balance         decimal.Decimal `json:"balance"`
	PricePerMonth   decimal.Decimal `json:"price_per_month"`
}
