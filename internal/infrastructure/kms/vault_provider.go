// Package kms supplies the vendor account credentials, either from static
// configuration or from a HashiCorp Vault KV v2 secret.
package kms

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

const (
	defaultMountPath    = "secret"
	credentialsCacheKey = "credentials"
)

// NewVaultClient builds a Vault client for cfg. Retries are disabled; the
// token manager already retries logins on its own schedule.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address
	vcfg.MaxRetries = 0
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, errors.ErrInvalidArgument("invalid vault configuration").WithCause(err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// VaultProvider reads the account credentials from a KV v2 secret holding
// "email" and "password" keys. Reads are cached briefly in memory.
type VaultProvider struct {
	vaultClient *vault.Client
	mountPath   string
	secretPath  string
	cache       *cache.Cache
	cacheTTL    time.Duration
	logger      logger.Logger
}

// NewVaultProvider creates a VaultProvider.
//
// Parameters:
//   - cfg: Vault mount settings
//   - vaultClient: authenticated client
//   - secretPath: path of the secret below the mount
//   - cacheTTL: how long a successful read is reused; zero disables caching
//   - log: Logger instance
func NewVaultProvider(cfg config.VaultConfig, vaultClient *vault.Client, secretPath string, cacheTTL time.Duration, log logger.Logger) *VaultProvider {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	mount := cfg.MountPath
	if mount == "" {
		mount = defaultMountPath
	}
	return &VaultProvider{
		vaultClient: vaultClient,
		mountPath:   mount,
		secretPath:  secretPath,
		cache:       cache.New(cacheTTL, 2*cacheTTL+time.Minute),
		cacheTTL:    cacheTTL,
		logger:      log.WithComponent("VaultProvider"),
	}
}

// Credentials returns the account email and password.
func (p *VaultProvider) Credentials(ctx context.Context) (models.Credentials, error) {
	if p.cacheTTL > 0 {
		if item, found := p.cache.Get(credentialsCacheKey); found {
			if creds, ok := item.(models.Credentials); ok {
				return creds, nil
			}
		}
	}

	secret, err := p.vaultClient.KVv2(p.mountPath).Get(ctx, p.secretPath)
	if err != nil {
		if stderrors.Is(err, vault.ErrSecretNotFound) {
			return models.Credentials{}, errors.ErrInvalidArgument(
				fmt.Sprintf("no credentials at %s/%s", p.mountPath, p.secretPath))
		}
		p.logger.Error(ctx, "Failed to read credentials from Vault", err,
			logger.String("mount", p.mountPath),
			logger.String("path", p.secretPath))
		var respErr *vault.ResponseError
		if stderrors.As(err, &respErr) && respErr.StatusCode == 403 {
			return models.Credentials{}, errors.ErrAuthFailed("vault denied access to credentials").WithCause(err)
		}
		return models.Credentials{}, errors.ErrTransport("could not retrieve credentials from vault").WithCause(err)
	}

	email, _ := secret.Data["email"].(string)
	password, _ := secret.Data["password"].(string)
	creds := models.Credentials{Email: email, Password: password}
	if creds.IsZero() {
		return models.Credentials{}, errors.ErrInvalidArgument("vault secret lacks email or password")
	}

	if p.cacheTTL > 0 {
		p.cache.Set(credentialsCacheKey, creds, p.cacheTTL)
	}
	p.logger.Debug(ctx, "Loaded credentials from Vault", logger.String("path", p.secretPath))
	return creds, nil
}

// Invalidate drops the cached credentials so the next call reads Vault.
func (p *VaultProvider) Invalidate() {
	p.cache.Delete(credentialsCacheKey)
}

var _ service.CredentialsProvider = (*VaultProvider)(nil)
