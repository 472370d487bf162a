package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/enterprise/risk-registry/configs"
	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/app"
	"github.com/enterprise/risk-registry/internal/bridge"
	"github.com/enterprise/risk-registry/internal/deploy"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/ops"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	configs.SetupLogging(cfg.Server.Environment)

	if cfg.Registry.Backend == configs.BackendMemory {
		log.Fatal().Msg("The alert bridge needs a shared state backend (redis or postgres)")
	}

	operator, err := models.ParseAddress(cfg.Registry.BridgeOperator)
	if err != nil {
		log.Fatal().Err(err).Msg("BRIDGE_OPERATOR must be set to the alerting principal")
	}
	deployer, err := app.ParseAddressOr(cfg.Registry.Deployer, models.ZeroAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid REGISTRY_DEPLOYER")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("backend", cfg.Registry.Backend).
		Str("operator", operator.Hex()).
		Msg("Starting Risk Registry Alert Bridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, operator, deployer); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Alert bridge stopped with error")
	}
	log.Info().Msg("Alert bridge shutdown complete")
}

// run owns the infrastructure so it is closed on every return path.
func run(ctx context.Context, cfg *configs.Config, operator, deployer models.Address) error {
	a, err := app.Open(ctx, cfg, app.Options{Stream: true})
	if err != nil {
		return fmt.Errorf("failed to open infrastructure: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close infrastructure")
		}
	}()

	d := deploy.Open(a.Store, deployer, deploy.Options{Guard: a.GuardOptions()})
	isAdmin, err := d.Watchlist.HasRole(ctx, access.AdminRole, operator)
	if err != nil {
		return fmt.Errorf("failed to read watchlist roles: %w", err)
	}
	if !isAdmin {
		log.Warn().Str("operator", operator.Hex()).Msg("Operator lacks the watchlist admin role; alerts will be rejected")
	}

	b := bridge.New(d.Watchlist, operator, a.Metrics)
	worker := bridge.NewWorker("alert-bridge", b, a.Stream, cfg.Worker)

	router := ops.NewRouter(cfg.Server.Environment, a.Gatherer, map[string]ops.Check{"state": a.Ping}, func() any {
		return worker.Stats()
	})
	server := ops.NewServer(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
