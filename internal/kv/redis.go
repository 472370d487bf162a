package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg configs.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxRetries > 0 {
		opt.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Redis connection established")
	return client, nil
}

const (
	lockTTL   = 30 * time.Second
	lockRetry = 10 * time.Millisecond
)

// releaseLock deletes the lease only while it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLeaseLost is returned when the write lease expired before the commit.
var ErrLeaseLost = errors.New("state lock lease lost")

// RedisStore keeps each key as a Redis string under a common prefix. Every
// Update holds a lease on prefix+"lock" so writers in different processes
// never interleave. Staged writes are committed in a single MULTI/EXEC that
// only succeeds while the lease is still ours.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	lockKey string
	// keeps writers in this process off the lease while one of them holds it
	mu sync.Mutex
}

// NewRedisStore wraps an existing client. The store does not own the client
// unless Close is called.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, lockKey: prefix + "lock"}
}

func (s *RedisStore) View(ctx context.Context, fn func(r Reader) error) error {
	return fn(readerFunc(func(key string) ([]byte, bool, error) {
		return s.get(ctx, key)
	}))
}

func (s *RedisStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(token)

	tx := newOverlay(func(key string) ([]byte, bool, error) {
		return s.get(ctx, key)
	})
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 {
		return nil
	}

	// WATCH the lease so an expired and re-taken lock aborts the commit
	// instead of overwriting the other writer. fn is never re-run.
	err = s.client.Watch(ctx, func(rtx *redis.Tx) error {
		owner, err := rtx.Get(ctx, s.lockKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner != token {
			return ErrLeaseLost
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			tx.each(func(key string, p pending) {
				if p.deleted {
					pipe.Del(ctx, s.prefix+key)
					return
				}
				pipe.Set(ctx, s.prefix+key, p.value, 0)
			})
			return nil
		})
		return err
	}, s.lockKey)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	log.Debug().Int("writes", len(tx.order)).Msg("State committed to Redis")
	return nil
}

// acquire spins on SET NX until the lease is free or ctx is done.
func (s *RedisStore) acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	for {
		ok, err := s.client.SetNX(ctx, s.lockKey, token, lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to acquire state lock: %w", err)
		}
		if ok {
			return token, nil
		}

		t := time.NewTimer(lockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (s *RedisStore) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseLock.Run(ctx, s.client, []string{s.lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("lock", s.lockKey).Msg("Failed to release state lock")
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}
