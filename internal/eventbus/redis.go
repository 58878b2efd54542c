/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// errBreakerOpen is returned while publishing is suspended after repeated
// failures.
var errBreakerOpen = errors.New("redis publishing suspended")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      4,
		MinIdleConns:  1,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

type redisTransport struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu        sync.Mutex
	failCount int
	open      bool // breaker tripped
	lastCheck time.Time
	now       func() time.Time
}

// NewRedisBridge connects to Redis. An unreachable server is an error; the
// caller decides whether to run without a bridge.
func NewRedisBridge(ctx context.Context, cfg RedisConfig, nodeID string, logger zerolog.Logger) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	t := &redisTransport{client: client, cfg: cfg, logger: logger, now: time.Now}
	logger.Info().Str("addr", cfg.Addr).Msg("Redis event bridge connected")
	return newBridge(t, nodeID, logger), nil
}

func (t *redisTransport) name() string { return "redis" }

func (t *redisTransport) publish(ctx context.Context, subject string, data []byte) error {
	if !t.allow(ctx) {
		return errBreakerOpen
	}
	if err := t.client.Publish(ctx, subject, data).Err(); err != nil {
		t.handleFailure()
		return err
	}
	t.mu.Lock()
	t.failCount = 0
	t.mu.Unlock()
	return nil
}

// allow reports whether a publish may be attempted. While the breaker is
// open it pings at most once per CheckInterval and closes on success.
func (t *redisTransport) allow(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return true
	}
	if t.now().Sub(t.lastCheck) < t.cfg.CheckInterval {
		return false
	}
	t.lastCheck = t.now()
	if err := t.client.Ping(ctx).Err(); err != nil {
		t.logger.Debug().Err(err).Msg("Redis still unavailable")
		return false
	}
	t.open = false
	t.failCount = 0
	t.logger.Info().Msg("reconnected to Redis, resuming publishing")
	return true
}

func (t *redisTransport) handleFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failCount++
	if t.failCount >= t.cfg.MaxFailures && !t.open {
		t.logger.Warn().
			Int("fail_count", t.failCount).
			Msg("Redis failure threshold reached, suspending publishing")
		t.open = true
		t.lastCheck = t.now()
	}
}

func (t *redisTransport) subscribe(ctx context.Context, deliver func([]byte)) (func() error, error) {
	pubsub := t.client.PSubscribe(ctx, SubjectPrefix+"*")
	// Wait for the subscription confirmation so no message published after
	// subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()

	return func() error {
		err := pubsub.Close()
		<-done
		return err
	}, nil
}

func (t *redisTransport) close() error {
	return t.client.Close()
}
