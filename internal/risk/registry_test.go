package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
)

var (
	admin   = models.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	analyst = models.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	pool    = models.MustParseAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	token   = models.MustParseAddress("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")
	vault   = models.DeriveAddress(admin, 7)
)

type RiskSuite struct {
	suite.Suite
	ctx      context.Context
	store    *kv.MemoryStore
	recorder *notify.Recorder
	now      time.Time
	registry *Registry
}

func TestRiskSuite(t *testing.T) {
	suite.Run(t, new(RiskSuite))
}

func (s *RiskSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = kv.NewMemoryStore()
	s.recorder = &notify.Recorder{}
	s.now = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	s.registry = New(s.store,
		access.WithNotifier(s.recorder),
		access.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(s.registry.Initialize(s.ctx, admin))
	s.Require().NoError(s.registry.GrantRole(s.ctx, admin, access.AnalystRole, analyst))
	s.recorder.Reset()
}

func (s *RiskSuite) score(target models.Address, overall uint8) {
	s.Require().NoError(s.registry.UpdateRiskScore(s.ctx, analyst, target, models.RiskScore{Overall: overall}, nil))
}

func (s *RiskSuite) watch(targets ...models.Address) {
	for _, t := range targets {
		s.Require().NoError(s.registry.AddToWatchlist(s.ctx, analyst, t, "label"))
	}
}

func (s *RiskSuite) watchedTargets() []models.Address {
	entries, err := s.registry.GetWatchlist(s.ctx)
	s.Require().NoError(err)
	out := make([]models.Address, len(entries))
	for i, e := range entries {
		s.Equal(i, e.Index, "index of %s", e.Target)
		out[i] = e.Target
	}
	return out
}

// =============================================================================
// Scores
// =============================================================================

func (s *RiskSuite) TestUpdateRiskScoreReplacesFactors() {
	first := []models.RiskFactor{
		{Name: "tvl", Weight: 50, Score: 40, Description: "shallow liquidity"},
		{Name: "audit", Weight: 50, Score: 60},
	}
	s.Require().NoError(s.registry.UpdateRiskScore(s.ctx, analyst, pool, models.RiskScore{
		Overall:       50,
		LiquidityRisk: 40,
		Analysis:      "initial",
	}, first))

	second := []models.RiskFactor{{Name: "oracle", Weight: 100, Score: 75}}
	s.now = s.now.Add(time.Hour)
	s.Require().NoError(s.registry.UpdateRiskScore(s.ctx, analyst, pool, models.RiskScore{Overall: 75}, second))

	score, err := s.registry.GetRiskScore(s.ctx, pool)
	s.Require().NoError(err)
	s.Equal(models.RiskScore{Overall: 75, LastUpdated: s.now}, score)

	factors, err := s.registry.GetRiskFactors(s.ctx, pool)
	s.Require().NoError(err)
	s.Equal(second, factors)

	s.Run("nil factors clear the list", func() {
		s.score(pool, 10)
		factors, err := s.registry.GetRiskFactors(s.ctx, pool)
		s.Require().NoError(err)
		s.NotNil(factors)
		s.Empty(factors)
	})
}

func (s *RiskSuite) TestUnknownTargetReadsZero() {
	score, err := s.registry.GetRiskScore(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(models.RiskScore{}, score)

	factors, err := s.registry.GetRiskFactors(s.ctx, token)
	s.Require().NoError(err)
	s.Empty(factors)

	severity, err := s.registry.ClassifyRisk(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(models.SeverityNone, severity)
}

func (s *RiskSuite) TestUpdateRiskScoreValidation() {
	s.Run("unauthorized with valid input", func() {
		err := s.registry.UpdateRiskScore(s.ctx, pool, pool, models.RiskScore{Overall: 10}, nil)
		s.Require().ErrorIs(err, models.ErrUnauthorized)
	})

	cases := map[string]struct {
		target models.Address
		score  models.RiskScore
	}{
		"null target":     {models.ZeroAddress, models.RiskScore{Overall: 10}},
		"overall above":   {pool, models.RiskScore{Overall: 101}},
		"sub-score above": {pool, models.RiskScore{Overall: 10, ConcentrationRisk: 200}},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			err := s.registry.UpdateRiskScore(s.ctx, analyst, tc.target, tc.score, nil)
			s.Require().ErrorIs(err, models.ErrInvalidInput)
		})
	}
	s.Empty(s.recorder.Kinds())
}

func (s *RiskSuite) TestThresholdExceededNotification() {
	s.score(pool, 69)
	s.Equal([]notify.Kind{notify.KindRiskScoreUpdated}, s.recorder.Kinds())

	s.recorder.Reset()
	s.score(pool, 70)
	s.Equal([]notify.Kind{notify.KindRiskScoreUpdated, notify.KindThresholdExceeded}, s.recorder.Kinds())

	var ev ThresholdExceeded
	s.Require().NoError(s.recorder.All()[1].Decode(&ev))
	s.Equal(ThresholdExceeded{Target: pool, Overall: 70, Threshold: 70}, ev)
	s.Equal(Namespace, s.recorder.All()[1].Registry)
	s.Equal(analyst, s.recorder.All()[1].Actor)

	s.Run("follows updated thresholds", func() {
		s.Require().NoError(s.registry.UpdateRiskThresholds(s.ctx, admin, 90, 50, 10))
		s.recorder.Reset()
		s.score(pool, 80)
		s.Equal([]notify.Kind{notify.KindRiskScoreUpdated}, s.recorder.Kinds())
	})
}

// =============================================================================
// Global watchlist
// =============================================================================

func (s *RiskSuite) TestWatchlistAddRemove() {
	s.Require().NoError(s.registry.AddToWatchlist(s.ctx, analyst, pool, "  curve pool "))

	watched, err := s.registry.IsWatched(s.ctx, pool)
	s.Require().NoError(err)
	s.True(watched)

	entries, err := s.registry.GetWatchlist(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.WatchlistEntry{
		Target:  pool,
		Active:  true,
		Label:   "curve pool",
		AddedAt: s.now,
		AddedBy: analyst,
		Index:   0,
	}, entries[0])

	s.Require().ErrorIs(s.registry.AddToWatchlist(s.ctx, analyst, pool, "again"), models.ErrDuplicateEntry)
	s.Require().ErrorIs(s.registry.AddToWatchlist(s.ctx, analyst, models.ZeroAddress, "x"), models.ErrInvalidInput)
	s.Require().ErrorIs(s.registry.AddToWatchlist(s.ctx, admin, token, "x"), models.ErrUnauthorized)

	s.Require().NoError(s.registry.RemoveFromWatchlist(s.ctx, analyst, pool))
	watched, err = s.registry.IsWatched(s.ctx, pool)
	s.Require().NoError(err)
	s.False(watched)
	s.Empty(s.watchedTargets())

	s.Require().ErrorIs(s.registry.RemoveFromWatchlist(s.ctx, analyst, pool), models.ErrNotFound)

	s.Equal([]notify.Kind{notify.KindWatchlistAdded, notify.KindWatchlistRemoved}, s.recorder.Kinds())
}

func (s *RiskSuite) TestWatchlistSwapRemoval() {
	s.watch(pool, token, vault)

	s.Require().NoError(s.registry.RemoveFromWatchlist(s.ctx, analyst, pool))
	s.Equal([]models.Address{vault, token}, s.watchedTargets())

	s.Require().NoError(s.registry.RemoveFromWatchlist(s.ctx, analyst, token))
	s.Equal([]models.Address{vault}, s.watchedTargets())

	s.Run("re-adding appends", func() {
		s.watch(pool)
		s.Equal([]models.Address{vault, pool}, s.watchedTargets())
	})
}

func (s *RiskSuite) TestTopRiskyAddresses() {
	s.watch(pool, token, vault)
	s.score(pool, 10)
	s.score(vault, 95)
	// scored but not watched
	s.score(admin, 99)

	top, err := s.registry.GetTopRiskyAddresses(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal([]models.Address{pool, vault}, top)

	top, err = s.registry.GetTopRiskyAddresses(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal([]models.Address{pool}, top)
}

// =============================================================================
// Thresholds
// =============================================================================

func (s *RiskSuite) TestThresholds() {
	t, err := s.registry.GetRiskThresholds(s.ctx)
	s.Require().NoError(err)
	s.Equal(DefaultThresholds, t)

	s.Require().ErrorIs(s.registry.UpdateRiskThresholds(s.ctx, analyst, 80, 50, 20), models.ErrUnauthorized)

	for _, bad := range []models.Thresholds{
		{High: 101, Medium: 50, Low: 20},
		{High: 50, Medium: 50, Low: 20},
		{High: 80, Medium: 20, Low: 20},
		{High: 40, Medium: 60, Low: 20},
	} {
		err := s.registry.UpdateRiskThresholds(s.ctx, admin, bad.High, bad.Medium, bad.Low)
		s.Require().ErrorIs(err, models.ErrInvalidThresholds, "%+v", bad)
	}

	s.Require().NoError(s.registry.UpdateRiskThresholds(s.ctx, admin, 100, 1, 0))
	t, err = s.registry.GetRiskThresholds(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.Thresholds{High: 100, Medium: 1, Low: 0}, t)

	s.score(pool, 1)
	severity, err := s.registry.ClassifyRisk(s.ctx, pool)
	s.Require().NoError(err)
	s.Equal(models.SeverityMedium, severity)
}

// =============================================================================
// Pause
// =============================================================================

func (s *RiskSuite) TestPausedRegistryRejectsMutations() {
	s.watch(pool)
	s.score(pool, 50)
	s.Require().NoError(s.registry.Pause(s.ctx, admin))
	before := s.store.Snapshot()

	s.Require().ErrorIs(s.registry.UpdateRiskScore(s.ctx, analyst, pool, models.RiskScore{Overall: 90}, nil), models.ErrSystemPaused)
	s.Require().ErrorIs(s.registry.AddToWatchlist(s.ctx, analyst, token, "x"), models.ErrSystemPaused)
	s.Require().ErrorIs(s.registry.RemoveFromWatchlist(s.ctx, analyst, pool), models.ErrSystemPaused)
	s.Require().ErrorIs(s.registry.UpdateRiskThresholds(s.ctx, admin, 80, 50, 20), models.ErrSystemPaused)
	s.Equal(before, s.store.Snapshot())

	score, err := s.registry.GetRiskScore(s.ctx, pool)
	s.Require().NoError(err)
	s.Equal(uint8(50), score.Overall)

	s.Require().NoError(s.registry.Unpause(s.ctx, admin))
	s.score(pool, 90)
}
