// Package app wires configuration to a state store, notification sinks and
// metrics for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/metrics"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
)

// App holds the shared infrastructure of a binary.
type App struct {
	Config   *configs.Config
	Store    kv.Store
	Redis    *redis.Client
	Stream   *notify.RedisStream
	Notifier *notify.Fanout
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	closers []func() error
}

// Options select optional infrastructure.
type Options struct {
	// Stream connects the notification stream even when NotifyRedis is off.
	Stream bool
}

// Open connects everything cfg asks for. Close releases it.
func Open(ctx context.Context, cfg *configs.Config, opts Options) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}
	a.Notifier = notify.NewFanout(a.Metrics)

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.openSinks(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Registry.Backend {
	case configs.BackendMemory:
		log.Warn().Msg("Using in-memory state; nothing survives this process")
		a.Store = kv.NewMemoryStore()
	case configs.BackendRedis:
		client, err := a.redisClient()
		if err != nil {
			return err
		}
		a.Store = kv.NewRedisStore(client, cfg.Redis.KeyPrefix)
	case configs.BackendPostgres:
		store, err := kv.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("%w: unknown state backend %q", models.ErrInvalidInput, cfg.Registry.Backend)
	}
	return nil
}

func (a *App) openSinks(ctx context.Context, opts Options) error {
	cfg := a.Config
	if cfg.Registry.NotifyLogOutput {
		a.Notifier.Add("log", notify.Log{})
	}
	if cfg.Registry.NotifyRedis || opts.Stream {
		client, err := a.redisClient()
		if err != nil {
			return err
		}
		a.Stream = notify.NewRedisStream(client, cfg.Redis)
		if err := a.Stream.EnsureGroup(ctx); err != nil {
			return err
		}
		if cfg.Registry.NotifyRedis {
			a.Notifier.Add("redis", a.Stream)
		}
	}
	if cfg.Registry.NotifyKafka {
		producer, err := notify.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		k := notify.NewKafka(producer, cfg.Kafka.Topic)
		a.closers = append(a.closers, k.Close)
		a.Notifier.Add("kafka", k)
	}
	return nil
}

func (a *App) redisClient() (*redis.Client, error) {
	if a.Redis != nil {
		return a.Redis, nil
	}
	client, err := kv.NewRedisClient(a.Config.Redis)
	if err != nil {
		return nil, err
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// GuardOptions returns the registry options every binary shares.
func (a *App) GuardOptions() []access.Option {
	return []access.Option{
		access.WithNotifier(a.Notifier),
		access.WithMetrics(a.Metrics),
	}
}

// Ping checks the backing services.
func (a *App) Ping(ctx context.Context) error {
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if pg, ok := a.Store.(*kv.PostgresStore); ok {
		if err := pg.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// OnClose registers fn to run when the app is closed, before anything opened
// earlier.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ParseAddressOr parses s, returning fallback when s is empty.
func ParseAddressOr(s string, fallback models.Address) (models.Address, error) {
	if s == "" {
		return fallback, nil
	}
	return models.ParseAddress(s)
}
