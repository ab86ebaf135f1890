// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrNotFound is returned by RedisClient.Get for a missing key
var ErrNotFound = errors.New("cache: key not found")

// RedisClient is the subset of Redis operations the cache needs
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache shares answers between server replicas
type RedisCache struct {
	client RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to the Redis instance at url (redis://host:port/db)
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := &goRedisClient{client: redis.NewClient(opts)}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl, logger), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client RedisClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get loads the entry stored under key
func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached response: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		r.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set stores entry with the cache TTL
func (r *RedisCache) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return nil
	}
	if entry.StoredAt.IsZero() {
		stored := *entry
		stored.StoredAt = time.Now()
		entry = &stored
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, key, string(data), r.ttl); err != nil {
		return fmt.Errorf("failed to store cached response: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close releases the connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

type goRedisClient struct {
	client *redis.Client
}

func (g *goRedisClient) Get(ctx context.Context, key string) (string, error) {
	value, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

func (g *goRedisClient) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return g.client.Set(ctx, key, value, expiration).Err()
}

func (g *goRedisClient) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *goRedisClient) Close() error {
	return g.client.Close()
}
