package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/transition-engine/types"
)

const (
	graphPrefix     = "graph:"
	executionPrefix = "execution:"
	graphIndexKey   = "graphs"
	executionIndex  = "executions"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func graphKey(id string) string           { return graphPrefix + id }
func executionKey(id string) string       { return executionPrefix + id }
func graphExecutionsKey(id string) string { return graphPrefix + id + ":executions" }

// getFromRedis retrieves and unmarshals a value from Redis.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// SaveGraph saves a process graph under an optimistic WATCH on its key.
func (s *RedisStorage) SaveGraph(ctx context.Context, g types.ProcessGraph) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
		}
		key := graphKey(g.ID)

		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to get %s from Redis: %w", key, err)
			}
			if err == nil {
				var stored types.ProcessGraph
				if err := json.Unmarshal(current, &stored); err != nil {
					return fmt.Errorf("failed to unmarshal %s: %w", key, err)
				}
				if err := checkVersion(stored, g); err != nil {
					return fmt.Errorf("%w: id=%s stored=%d incoming=%d", err, g.ID, stored.Version, g.Version)
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, graphIndexKey, g.ID)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: id=%s changed concurrently", ErrVersionConflict, g.ID)
		}
		return err
	})
}

// GetGraph retrieves a process graph from Redis.
func (s *RedisStorage) GetGraph(ctx context.Context, id string) (types.ProcessGraph, error) {
	return getFromRedis[types.ProcessGraph](ctx, s.client, graphKey(id), ErrGraphNotFound)
}

// ListGraphs returns every stored graph ordered by ID.
func (s *RedisStorage) ListGraphs(ctx context.Context) ([]types.ProcessGraph, error) {
	return withContext(ctx, func() ([]types.ProcessGraph, error) {
		ids, err := s.client.SMembers(ctx, graphIndexKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list graphs: %w", err)
		}
		sort.Strings(ids)
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = graphKey(id)
		}
		return mgetJSON[types.ProcessGraph](ctx, s.client, keys)
	})
}

// SaveGraphs saves a batch of graphs in one MULTI under a WATCH on every key.
// Stored versions are read inside the watch, so the batch is all or nothing.
func (s *RedisStorage) SaveGraphs(ctx context.Context, gs []types.ProcessGraph) error {
	return withContextError(ctx, func() error {
		if len(gs) == 0 {
			return nil
		}
		keys := make([]string, len(gs))
		bodies := make([][]byte, len(gs))
		for i, g := range gs {
			data, err := json.Marshal(g)
			if err != nil {
				return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
			}
			keys[i] = graphKey(g.ID)
			bodies[i] = data
		}

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			values, err := tx.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to read graphs from Redis: %w", err)
			}
			stored := make(map[string]int64, len(values))
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var cur types.ProcessGraph
				if err := json.Unmarshal([]byte(raw), &cur); err != nil {
					return fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
				}
				stored[gs[i].ID] = cur.Version
			}
			if err := checkBatch(stored, gs); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, g := range gs {
					pipe.Set(ctx, keys[i], bodies[i], 0)
					pipe.SAdd(ctx, graphIndexKey, g.ID)
				}
				return nil
			})
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: graphs changed concurrently", ErrVersionConflict)
		}
		return err
	})
}

// SaveExecution saves an execution record and indexes it by graph and time.
func (s *RedisStorage) SaveExecution(ctx context.Context, rec types.ExecutionRecord) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal execution %s: %w", rec.ID, err)
		}
		score := float64(rec.CreatedAt.UnixMilli())
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, executionKey(rec.ID), data, 0)
			pipe.ZAdd(ctx, graphExecutionsKey(rec.GraphID), &redis.Z{Score: score, Member: rec.ID})
			pipe.ZAdd(ctx, executionIndex, &redis.Z{Score: score, Member: rec.ID})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to save execution %s: %w", rec.ID, err)
		}
		return nil
	})
}

// GetExecution retrieves an execution record from Redis.
func (s *RedisStorage) GetExecution(ctx context.Context, id string) (types.ExecutionRecord, error) {
	return getFromRedis[types.ExecutionRecord](ctx, s.client, executionKey(id), ErrExecutionNotFound)
}

// ListExecutions returns the executions of a graph, oldest first.
func (s *RedisStorage) ListExecutions(ctx context.Context, graphID string) ([]types.ExecutionRecord, error) {
	return withContext(ctx, func() ([]types.ExecutionRecord, error) {
		ids, err := s.client.ZRange(ctx, graphExecutionsKey(graphID), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list executions of %s: %w", graphID, err)
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = executionKey(id)
		}
		recs, err := mgetJSON[types.ExecutionRecord](ctx, s.client, keys)
		if err != nil {
			return nil, err
		}
		sortExecutions(recs)
		return recs, nil
	})
}

// PruneExecutions removes execution records created before the cutoff.
func (s *RedisStorage) PruneExecutions(ctx context.Context, before time.Time) (int, error) {
	return withContext(ctx, func() (int, error) {
		upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
		ids, err := s.client.ZRangeByScore(ctx, executionIndex, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan executions: %w", err)
		}
		if len(ids) == 0 {
			return 0, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = executionKey(id)
		}
		recs, err := mgetJSON[types.ExecutionRecord](ctx, s.client, keys)
		if err != nil {
			return 0, err
		}

		pipe := s.client.Pipeline()
		for _, rec := range recs {
			pipe.ZRem(ctx, graphExecutionsKey(rec.GraphID), rec.ID)
		}
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, executionIndex, toInterfaces(ids)...)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to execute pipeline for deletion: %w", err)
		}
		return len(recs), nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// mgetJSON loads and unmarshals keys, skipping keys that no longer exist.
func mgetJSON[T any](ctx context.Context, client *redis.Client, keys []string) ([]T, error) {
	out := make([]T, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %d keys: %w", len(keys), err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
