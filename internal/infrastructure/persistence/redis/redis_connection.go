// Package redis provides the Redis connection and the Redis-backed token repository.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// RedisConnection manages the Redis client lifecycle.
type RedisConnection struct {
	config config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisConnection creates a connection manager. Nothing is dialed until Connect.
//
// Parameters:
//   - cfg: Redis address, credentials and pool settings
//   - log: Logger instance
func NewRedisConnection(cfg config.RedisConfig, log logger.Logger) *RedisConnection {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &RedisConnection{config: cfg, logger: log.WithComponent("redis")}
}

// Connect builds the client and verifies it with a ping.
//
// Returns:
//   - error: transport_error if Redis is unreachable
func (rc *RedisConnection) Connect(ctx context.Context) error {
	if rc.client != nil {
		rc.logger.Warn(ctx, "Redis connection already initialized")
		return nil
	}

	dialTimeout := rc.config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{rc.config.Address},
		Password:     rc.config.Password,
		DB:           rc.config.DB,
		PoolSize:     rc.config.PoolSize,
		MinIdleConns: rc.config.MinIdleConns,
		DialTimeout:  dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		rc.logger.Error(ctx, "Redis ping failed", err, logger.String("addr", rc.config.Address))
		return errors.ErrTransport(fmt.Sprintf("redis %s unreachable", rc.config.Address)).WithCause(err)
	}

	rc.client = client
	rc.logger.Info(ctx, "Redis connection established",
		logger.String("addr", rc.config.Address),
		logger.Int("db", rc.config.DB),
	)
	return nil
}

// Client returns the underlying client. It is nil before Connect succeeds.
func (rc *RedisConnection) Client() redis.UniversalClient {
	return rc.client
}

// Ping checks that Redis still answers.
func (rc *RedisConnection) Ping(ctx context.Context) error {
	if rc.client == nil {
		return errors.ErrInternal("redis is not connected")
	}
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return errors.ErrTransport("redis ping failed").WithCause(err)
	}
	return nil
}

// Close releases the client.
func (rc *RedisConnection) Close() error {
	if rc.client == nil {
		return nil
	}
	err := rc.client.Close()
	rc.client = nil
	rc.logger.Info(context.Background(), "Redis connection closed")
	return err
}
