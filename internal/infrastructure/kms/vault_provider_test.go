package kms_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/infrastructure/kms"
	"github.com/turtacn/contatto/pkg/errors"
)

const kvBody = `{"data":{"data":{"email":"user@example.com","password":"s3cret"},` +
	`"metadata":{"created_time":"2024-01-01T00:00:00Z","deletion_time":"","destroyed":false,"version":1}}}`

func newVault(t *testing.T, handler http.HandlerFunc) (*kms.VaultProvider, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.VaultConfig{Address: ts.URL, Token: "root", MountPath: "kv"}
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)
	return kms.NewVaultProvider(cfg, client, "contatto/account", time.Minute, nil), ts
}

func TestVaultProvider_ReadsKV2Secret(t *testing.T) {
	var hits atomic.Int32
	provider, _ := newVault(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/kv/data/contatto/account", r.URL.Path)
		assert.Equal(t, "root", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kvBody))
	})

	creds, err := provider.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", creds.Email)
	assert.Equal(t, "s3cret", creds.Password)

	_, err = provider.Credentials(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "second read served from cache")

	provider.Invalidate()
	_, err = provider.Credentials(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestVaultProvider_MissingSecret(t *testing.T) {
	provider, _ := newVault(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := provider.Credentials(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
}

func TestVaultProvider_IncompleteSecret(t *testing.T) {
	provider, _ := newVault(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"email":"user@example.com"},"metadata":{"version":1}}}`))
	})

	_, err := provider.Credentials(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
}

func TestVaultProvider_Forbidden(t *testing.T) {
	provider, _ := newVault(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
	})

	_, err := provider.Credentials(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestVaultProvider_Unreachable(t *testing.T) {
	provider, ts := newVault(t, func(w http.ResponseWriter, r *http.Request) {})
	ts.Close()

	_, err := provider.Credentials(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
}

func TestStaticProvider(t *testing.T) {
	creds, err := kms.NewStaticProvider("a@b.c", "pw").Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", creds.Email)

	_, err = kms.NewStaticProvider("a@b.c", "").Credentials(context.Background())
	assert.Error(t, err)
}
