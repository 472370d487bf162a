//go:build integration

package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// startRedis runs a throwaway server and returns its connection options.
func startRedis(t *testing.T) *redis.Options {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	return opts
}

func newClient(t *testing.T, opts *redis.Options) *redis.Client {
	t.Helper()
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := newClient(t, startRedis(t))

	s := &StoreSuite{}
	s.reset = func() {
		// a fresh prefix per test keeps runs isolated without FLUSHALL
		s.store = NewRedisStore(client, "test:"+uuid.NewString()+":")
	}
	suite.Run(t, s)
}

func TestRedisStoresInSeparateProcessesDoNotLoseUpdates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	opts := startRedis(t)
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"

	// one client each, standing in for the alert bridge and the CLI
	stores := []*RedisStore{
		NewRedisStore(newClient(t, opts), prefix),
		NewRedisStore(newClient(t, opts), prefix),
	}

	const perStore = 100
	var wg sync.WaitGroup
	for _, store := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(store *RedisStore) {
				defer wg.Done()
				err := store.Update(ctx, func(tx Tx) error {
					var n int
					if _, err := GetJSON(tx, "watchlist/alert-seq", &n); err != nil {
						return err
					}
					return PutJSON(tx, "watchlist/alert-seq", n+1)
				})
				assert.NoError(t, err)
			}(store)
		}
	}
	wg.Wait()

	var n int
	require.NoError(t, stores[0].View(ctx, func(r Reader) error {
		_, err := GetJSON(r, "watchlist/alert-seq", &n)
		return err
	}))
	assert.Equal(t, len(stores)*perStore, n)

	held, err := stores[0].client.Exists(ctx, prefix+"lock").Result()
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestRedisStoreAbortsCommitWhenLeaseIsLost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := newClient(t, startRedis(t))
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"
	store := NewRedisStore(client, prefix)

	err := store.Update(ctx, func(tx Tx) error {
		// another writer takes over after our lease expired
		if err := client.Set(ctx, prefix+"lock", "someone-else", lockTTL).Err(); err != nil {
			return err
		}
		return tx.Put("k", []byte("v"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLeaseLost))

	_, err = client.Get(ctx, prefix+"k").Result()
	assert.ErrorIs(t, err, redis.Nil)

	owner, err := client.Get(ctx, prefix+"lock").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", owner)
}

func TestRedisStoreUpdateWaitsForLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := newClient(t, startRedis(t))
	prefix := "test:" + uuid.NewString() + ":"
	store := NewRedisStore(client, prefix)

	require.NoError(t, client.Set(context.Background(), prefix+"lock", "held", lockTTL).Err())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := store.Update(ctx, func(tx Tx) error { return tx.Put("k", []byte("v")) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
