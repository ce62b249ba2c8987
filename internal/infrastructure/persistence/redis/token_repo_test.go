package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/infrastructure/persistence/redis"
	"github.com/turtacn/contatto/pkg/errors"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.RedisConnection) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn := redis.NewRedisConnection(config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return mr, conn
}

func TestRedisConnection_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	conn := redis.NewRedisConnection(config.RedisConfig{Address: addr, DialTimeout: 200 * time.Millisecond}, nil)
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.Nil(t, conn.Client())
}

func TestTokenRepository_RoundTrip(t *testing.T) {
	mr, conn := setupRedis(t)
	repo := redis.NewTokenRepository(conn.Client(), "contatto:token:", nil)
	ctx := context.Background()

	tok, err := repo.Load(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, tok)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, "user@example.com", &models.Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}))
	assert.True(t, mr.Exists("contatto:token:user@example.com"))
	assert.Zero(t, mr.TTL("contatto:token:user@example.com"), "tokens are stored without expiry")

	tok, err = repo.Load(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, exp.Equal(tok.ExpiresAt))

	require.NoError(t, repo.Delete(ctx, "user@example.com"))
	assert.False(t, mr.Exists("contatto:token:user@example.com"))
}

func TestTokenRepository_CorruptValueIsIgnored(t *testing.T) {
	mr, conn := setupRedis(t)
	repo := redis.NewTokenRepository(conn.Client(), "p:", nil)
	require.NoError(t, mr.Set("p:acct", "{not json"))

	tok, err := repo.Load(context.Background(), "acct")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenRepository_RedisDown(t *testing.T) {
	mr, conn := setupRedis(t)
	repo := redis.NewTokenRepository(conn.Client(), "p:", nil)
	mr.Close()

	err := repo.Save(context.Background(), "acct", &models.Token{AccessToken: "a"})
	assert.True(t, errors.IsTransportError(err))

	_, err = repo.Load(context.Background(), "acct")
	assert.True(t, errors.IsTransportError(err))
}
