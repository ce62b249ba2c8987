// Package memory provides process-local repositories. Nothing survives a restart.
package memory

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/constants"
)

// TokenRepository keeps token pairs in memory, keyed by account.
type TokenRepository struct {
	store *cache.Cache
}

// NewTokenRepository creates an empty repository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{store: cache.New(cache.NoExpiration, constants.CacheCleanupInterval)}
}

// Save implements repository.TokenRepository.
func (r *TokenRepository) Save(ctx context.Context, account string, token *models.Token) error {
	if token == nil {
		r.store.Delete(account)
		return nil
	}
	r.store.Set(account, *token, cache.NoExpiration)
	return nil
}

// Load implements repository.TokenRepository.
func (r *TokenRepository) Load(ctx context.Context, account string) (*models.Token, error) {
	v, found := r.store.Get(account)
	if !found {
		return nil, nil
	}
	tok := v.(models.Token)
	return &tok, nil
}

// Delete implements repository.TokenRepository.
func (r *TokenRepository) Delete(ctx context.Context, account string) error {
	r.store.Delete(account)
	return nil
}

var _ repository.TokenRepository = (*TokenRepository)(nil)
