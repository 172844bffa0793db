/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps each user's saved combination list in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/models"
	"github.com/friendsincode/notincredibox/internal/telemetry"
)

// DefaultCombinationListTTL bounds staleness if an invalidation is lost.
const DefaultCombinationListTTL = 10 * time.Minute

// KeyCombinationList is the per-user list key prefix.
const KeyCombinationList = "notincredibox:cache:combinations:" // + user_id

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CombinationListTTL time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:          "localhost:6379",
		CombinationListTTL: DefaultCombinationListTTL,
		DisableOnError:     true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache is valid
// and caches nothing.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New connects to Redis. An unreachable server yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.CombinationListTTL <= 0 {
		cfg.CombinationListTTL = DefaultCombinationListTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	c := NewWithClient(client, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		c.disabled = true
		return c
	}

	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return c
}

// NewWithClient wraps an existing client without probing it.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.CombinationListTTL <= 0 {
		cfg.CombinationListTTL = DefaultCombinationListTTL
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// GetCombinations returns the cached list for userID.
func (c *Cache) GetCombinations(ctx context.Context, userID string) ([]models.Combination, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, KeyCombinationList+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOpsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		telemetry.CacheOpsTotal.WithLabelValues("error").Inc()
		c.handleError(err, "get")
		return nil, false
	}

	var list []models.Combination
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.Debug().Err(err).Str("user_id", userID).Msg("failed to unmarshal cached combinations")
		telemetry.CacheOpsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	telemetry.CacheOpsTotal.WithLabelValues("hit").Inc()
	return list, true
}

// SetCombinations caches list for userID.
func (c *Cache) SetCombinations(ctx context.Context, userID string, list []models.Combination) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, KeyCombinationList+userID, data, c.config.CombinationListTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// InvalidateCombinations drops the cached list for userID.
func (c *Cache) InvalidateCombinations(ctx context.Context, userID string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, KeyCombinationList+userID).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
