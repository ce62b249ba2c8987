package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/infrastructure/persistence/memory"
)

func TestTokenRepository(t *testing.T) {
	repo := memory.NewTokenRepository()
	ctx := context.Background()

	tok, err := repo.Load(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, tok)

	saved := &models.Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, "a@example.com", saved))
	saved.AccessToken = "mutated"

	tok, err = repo.Load(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "a", tok.AccessToken, "stored copy is independent of the caller's")

	other, err := repo.Load(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, repo.Delete(ctx, "a@example.com"))
	tok, err = repo.Load(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, tok)
}
