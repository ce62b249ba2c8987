package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// TokenRepository stores one JSON document per account under prefix+account.
// Keys never expire; the refresh token usually outlives the access token.
type TokenRepository struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

// NewTokenRepository creates a Redis token repository.
func NewTokenRepository(client redis.UniversalClient, prefix string, log logger.Logger) *TokenRepository {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &TokenRepository{client: client, prefix: prefix, logger: log.WithComponent("redis-token-repo")}
}

func (r *TokenRepository) key(account string) string {
	return r.prefix + account
}

// Save implements repository.TokenRepository.
func (r *TokenRepository) Save(ctx context.Context, account string, token *models.Token) error {
	if token == nil {
		return r.Delete(ctx, account)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return errors.ErrInternal("encode token").WithCause(err)
	}
	if err := r.client.Set(ctx, r.key(account), data, 0).Err(); err != nil {
		r.logger.Error(ctx, "Failed to store token", err)
		return errors.ErrTransport("redis set failed").WithCause(err)
	}
	return nil
}

// Load implements repository.TokenRepository.
func (r *TokenRepository) Load(ctx context.Context, account string) (*models.Token, error) {
	data, err := r.client.Get(ctx, r.key(account)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.ErrTransport("redis get failed").WithCause(err)
	}
	var tok models.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		r.logger.Warn(ctx, "Discarding unreadable stored token", logger.Err(err))
		return nil, nil
	}
	return &tok, nil
}

// Delete implements repository.TokenRepository.
func (r *TokenRepository) Delete(ctx context.Context, account string) error {
	if err := r.client.Del(ctx, r.key(account)).Err(); err != nil {
		return errors.ErrTransport("redis del failed").WithCause(err)
	}
	return nil
}

var _ repository.TokenRepository = (*TokenRepository)(nil)
