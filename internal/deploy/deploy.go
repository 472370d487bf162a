// Package deploy stands up the three registries over one store and wires the
// role grants between them.
package deploy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/payout"
	"github.com/enterprise/risk-registry/internal/platform"
	"github.com/enterprise/risk-registry/internal/risk"
	"github.com/enterprise/risk-registry/internal/watchlist"
)

// Deployment nonces of each registry's identity.
const (
	PlatformNonce  uint64 = 0
	RiskNonce      uint64 = 1
	WatchlistNonce uint64 = 2
)

// Options tune a deployment.
type Options struct {
	PricePerMonth decimal.Decimal
	Transferer    payout.Transferer
	// BridgeOperator, when set, receives the watchlist admin role so it can create alerts.
	BridgeOperator models.Address
	Guard          []access.Option
}

// Identities are the addresses the registries act under.
type Identities struct {
	Platform  models.Address `json:"platform"`
	Risk      models.Address `json:"risk"`
	Watchlist models.Address `json:"watchlist"`
}

// IdentitiesFor derives the registry identities of deployer.
func IdentitiesFor(deployer models.Address) Identities {
	return Identities{
		Platform:  models.DeriveAddress(deployer, PlatformNonce),
		Risk:      models.DeriveAddress(deployer, RiskNonce),
		Watchlist: models.DeriveAddress(deployer, WatchlistNonce),
	}
}

// Deployment is a set of wired registries.
type Deployment struct {
	Deployer   models.Address
	Identities Identities
	Platform   *platform.Registry
	Risk       *risk.Registry
	Watchlist  *watchlist.Registry
}

// Open builds the registries over store without touching state.
func Open(store kv.Store, deployer models.Address, opts Options) *Deployment {
	t := opts.Transferer
	if t == nil {
		t = payout.NewLedger()
	}
	return &Deployment{
		Deployer:   deployer,
		Identities: IdentitiesFor(deployer),
		Platform:   platform.New(store, t, opts.Guard...),
		Risk:       risk.New(store, opts.Guard...),
		Watchlist:  watchlist.New(store, opts.Guard...),
	}
}

type grant struct {
	guard *access.Guard
	role  access.Role
	who   models.Address
}

// Deploy initialises each registry once with deployer as administrator and
// performs the cross-registry grants. Running it again is a no-op.
func Deploy(ctx context.Context, store kv.Store, deployer models.Address, opts Options) (*Deployment, error) {
	if deployer.IsZero() {
		return nil, fmt.Errorf("%w: deployer is the null address", models.ErrInvalidInput)
	}
	if opts.PricePerMonth.IsZero() {
		opts.PricePerMonth = decimal.RequireFromString("0.01")
	}

	d := Open(store, deployer, opts)

	steps := []struct {
		name  string
		guard *access.Guard
		init  func() error
	}{
		{platform.Namespace, d.Platform.Guard, func() error { return d.Platform.Initialize(ctx, deployer, opts.PricePerMonth) }},
		{risk.Namespace, d.Risk.Guard, func() error { return d.Risk.Initialize(ctx, deployer) }},
		{watchlist.Namespace, d.Watchlist.Guard, func() error { return d.Watchlist.Initialize(ctx, deployer) }},
	}
	for _, s := range steps {
		done, err := s.guard.Initialized(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s registry: %w", s.name, err)
		}
		if done {
			log.Debug().Str("registry", s.name).Msg("Registry already initialized")
			continue
		}
		if err := s.init(); err != nil {
			return nil, fmt.Errorf("failed to initialize %s registry: %w", s.name, err)
		}
		log.Info().Str("registry", s.name).Str("admin", deployer.Hex()).Msg("Registry initialized")
	}

	grants := []grant{
		{d.Platform.Guard, access.AnalystRole, d.Identities.Risk},
		{d.Platform.Guard, access.UserRole, d.Identities.Watchlist},
	}
	if !opts.BridgeOperator.IsZero() {
		grants = append(grants, grant{d.Watchlist.Guard, access.AdminRole, opts.BridgeOperator})
	}
	for _, g := range grants {
		held, err := g.guard.HasRole(ctx, g.role, g.who)
		if err != nil {
			return nil, err
		}
		if held {
			continue
		}
		if err := g.guard.GrantRole(ctx, deployer, g.role, g.who); err != nil {
			return nil, fmt.Errorf("failed to grant %s on %s to %s: %w", g.role, g.guard.Name(), g.who.Hex(), err)
		}
		log.Info().
			Str("registry", g.guard.Name()).
			Str("role", string(g.role)).
			Str("account", g.who.Hex()).
			Msg("Role granted")
	}

	return d, nil
}
