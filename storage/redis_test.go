package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Redis tests use database 15 on localhost and are skipped when it is unreachable.
var testRedisOptions = RedisOptions{
	Addr:         "localhost:6379",
	DB:           15,
	PoolSize:     10,
	MinIdleConns: 2,
	IdleTimeout:  5 * time.Minute,
}

func newTestRedis(t *testing.T) *RedisStorage {
	t.Helper()
	store, err := NewRedisStorage(testRedisOptions)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, store.client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return newTestRedis(t)
	})

	t.Run("ConnectionFailure", func(t *testing.T) {
		_, err := NewRedisStorage(RedisOptions{Addr: "localhost:1"})
		assert.Error(t, err)
	})
}
