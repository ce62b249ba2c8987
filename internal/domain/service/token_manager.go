package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
	"github.com/turtacn/contatto/pkg/utils"
)

var _ TokenSource = (*TokenManager)(nil)

const renewKey = "renew"

// TokenListener is called after every successful token change.
type TokenListener func(token models.Token)

// TokenManagerConfig tunes token expiry handling.
type TokenManagerConfig struct {
	// FallbackTTL is assumed when the access token carries no exp claim.
	FallbackTTL time.Duration
	// ExpirySkew treats a token as expired this long before it actually is.
	ExpirySkew time.Duration
}

// DefaultTokenManagerConfig returns the default expiry handling.
func DefaultTokenManagerConfig() TokenManagerConfig {
	return TokenManagerConfig{
		FallbackTTL: constants.AccessTokenFallbackTTL,
		ExpirySkew:  constants.TokenExpirySkew,
	}
}

// TokenManagerOption customises a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) TokenManagerOption {
	return func(m *TokenManager) { m.clock = c }
}

// WithInitialToken seeds the manager with an externally supplied pair.
func WithInitialToken(account string, token models.Token) TokenManagerOption {
	return func(m *TokenManager) {
		t := token
		m.account = account
		m.token = &t
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) TokenManagerOption {
	return func(m *TokenManager) { m.tracer = t }
}

// TokenManager keeps a valid vendor token available. Renewals triggered by
// CurrentToken, OnAuthRejected and Refresh are coalesced: concurrent callers
// share one in-flight renewal and all receive its result. Vendor login and
// refresh calls never overlap.
type TokenManager struct {
	auth    Authenticator
	creds   CredentialsProvider
	repo    repository.TokenRepository
	cfg     TokenManagerConfig
	log     logger.Logger
	metrics Metrics
	clock   clockwork.Clock
	tracer  trace.Tracer

	group singleflight.Group
	// wire serialises vendor login and refresh calls
	wire sync.Mutex

	mu          sync.RWMutex
	token       *models.Token
	account     string
	needsReauth bool

	subsMu    sync.RWMutex
	listeners map[uint64]TokenListener
	nextSubID uint64
}

// NewTokenManager creates a token manager. repo may be nil to disable persistence.
func NewTokenManager(
	auth Authenticator,
	creds CredentialsProvider,
	repo repository.TokenRepository,
	cfg TokenManagerConfig,
	log logger.Logger,
	metrics Metrics,
	opts ...TokenManagerOption,
) *TokenManager {
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = constants.AccessTokenFallbackTTL
	}
	if cfg.ExpirySkew < 0 {
		cfg.ExpirySkew = 0
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	m := &TokenManager{
		auth:      auth,
		creds:     creds,
		repo:      repo,
		cfg:       cfg,
		log:       log.WithComponent("token_manager"),
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		tracer:    otel.Tracer("contatto/token-manager"),
		listeners: make(map[uint64]TokenListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login performs a password login with explicit credentials and clears any
// pending re-authentication requirement.
func (m *TokenManager) Login(ctx context.Context, email, password string) (*models.Token, error) {
	creds := models.Credentials{Email: email, Password: password}
	if creds.IsZero() {
		return nil, errors.ErrAuthFailed("email and password are required")
	}
	return m.login(ctx, creds)
}

// Reauthenticate reads the credentials again and performs a fresh login.
func (m *TokenManager) Reauthenticate(ctx context.Context) (*models.Token, error) {
	creds, err := m.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return m.login(ctx, creds)
}

// CurrentToken returns the held token when it is still valid. Otherwise it
// renews through the coalesced path: refresh if possible, login with the stored
// credentials if not.
func (m *TokenManager) CurrentToken(ctx context.Context) (*models.Token, error) {
	m.mu.RLock()
	tok := m.token
	needsReauth := m.needsReauth
	m.mu.RUnlock()

	if tok.Valid(m.clock.Now(), m.cfg.ExpirySkew) {
		t := *tok
		return &t, nil
	}
	if needsReauth {
		return nil, errors.ErrReauthRequired("credentials were rejected; re-enter them to continue")
	}
	return m.renew(ctx)
}

// Refresh exchanges the stored refresh token. On failure the held token is
// cleared so the next use performs a fresh login. A renewal already in flight
// is joined instead of starting a second one.
func (m *TokenManager) Refresh(ctx context.Context) (*models.Token, error) {
	m.mu.RLock()
	hasRefresh := m.token.HasRefresh()
	m.mu.RUnlock()

	if !hasRefresh {
		return nil, errors.ErrAuthFailed("no refresh token available")
	}
	return m.coalesce(ctx, func(ctx context.Context) (*models.Token, error) {
		m.mu.RLock()
		tok := m.token
		m.mu.RUnlock()
		if !tok.HasRefresh() {
			return nil, errors.ErrAuthFailed("no refresh token available")
		}
		return m.refresh(ctx, tok)
	})
}

// OnAuthRejected renews after the remote side rejected the current token:
// refresh first, then login. Concurrent callers share one renewal.
func (m *TokenManager) OnAuthRejected(ctx context.Context) (*models.Token, error) {
	m.mu.RLock()
	needsReauth := m.needsReauth
	m.mu.RUnlock()

	if needsReauth {
		return nil, errors.ErrReauthRequired("credentials were rejected; re-enter them to continue")
	}
	return m.renew(ctx)
}

// NeedsReauth reports whether both refresh and login were rejected.
func (m *TokenManager) NeedsReauth() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.needsReauth
}

// Token returns a copy of the held token without renewing it.
func (m *TokenManager) Token() (models.Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.IsZero() {
		return models.Token{}, false
	}
	return *m.token, true
}

// Subscribe registers fn for token changes and returns a function that removes it.
func (m *TokenManager) Subscribe(fn TokenListener) func() {
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.listeners[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.listeners, id)
		m.subsMu.Unlock()
	}
}

// Restore loads a persisted token pair so a restart does not force a login.
// It reports whether a pair was found.
func (m *TokenManager) Restore(ctx context.Context) (bool, error) {
	if m.repo == nil {
		return false, nil
	}
	account, err := m.accountKey(ctx)
	if err != nil {
		return false, err
	}
	tok, err := m.repo.Load(ctx, account)
	if err != nil {
		return false, err
	}
	if tok.IsZero() {
		return false, nil
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.log.Info(ctx, "Restored persisted token",
		logger.String("account", utils.MaskEmail(account)),
		logger.Time("expires_at", tok.ExpiresAt),
	)
	m.notify(*tok)
	return true, nil
}

// Clear forgets the held token and deletes the persisted copy.
func (m *TokenManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.token = nil
	account := m.account
	m.mu.Unlock()

	if m.repo == nil || account == "" {
		return nil
	}
	return m.repo.Delete(ctx, account)
}

func (m *TokenManager) renew(ctx context.Context) (*models.Token, error) {
	return m.coalesce(ctx, m.doRenew)
}

// coalesce runs fn unless a renewal is already in flight, in which case the
// caller shares that renewal's result. Every network renewal goes through
// here under one key. The shared call is detached from the caller's
// cancellation; a cancelled caller stops waiting.
func (m *TokenManager) coalesce(ctx context.Context, fn func(context.Context) (*models.Token, error)) (*models.Token, error) {
	ch := m.group.DoChan(renewKey, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := *res.Val.(*models.Token)
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *TokenManager) doRenew(ctx context.Context) (*models.Token, error) {
	ctx, span := m.tracer.Start(ctx, "TokenManager.Renew")
	defer span.End()

	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()

	if tok.HasRefresh() {
		refreshed, err := m.refresh(ctx, tok)
		if err == nil {
			span.SetAttributes(attribute.String("renewal.kind", "refresh"))
			return refreshed, nil
		}
		m.log.Warn(ctx, "Token refresh failed, falling back to login", logger.Err(err))
	}

	creds, err := m.loadCredentials(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials unavailable")
		return nil, err
	}

	fresh, err := m.login(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		if errors.IsAuthError(err) {
			m.mu.Lock()
			m.needsReauth = true
			m.mu.Unlock()
			m.log.Error(ctx, "Refresh and login both rejected; credentials must be re-entered", err)
			return nil, errors.ErrReauthRequired("refresh and login both failed").WithCause(err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("renewal.kind", "login"))
	return fresh, nil
}

func (m *TokenManager) refresh(ctx context.Context, current *models.Token) (*models.Token, error) {
	m.wire.Lock()
	defer m.wire.Unlock()

	// a renewal that finished while we waited already replaced current
	m.mu.RLock()
	held := m.token
	m.mu.RUnlock()
	if held != current && held.Valid(m.clock.Now(), m.cfg.ExpirySkew) {
		t := *held
		return &t, nil
	}

	start := m.clock.Now()
	next, err := m.auth.Refresh(ctx, current.RefreshToken)
	m.metrics.RecordTokenRenewal("refresh", err == nil, m.clock.Since(start))
	if err != nil {
		m.mu.Lock()
		if m.token == current {
			m.token = nil
		}
		m.mu.Unlock()
		return nil, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	m.mu.RLock()
	account := m.account
	m.mu.RUnlock()

	return m.store(ctx, account, next), nil
}

func (m *TokenManager) login(ctx context.Context, creds models.Credentials) (*models.Token, error) {
	ctx, span := m.tracer.Start(ctx, "TokenManager.Login")
	defer span.End()

	m.wire.Lock()
	start := m.clock.Now()
	tok, err := m.auth.Login(ctx, creds)
	m.wire.Unlock()
	m.metrics.RecordTokenRenewal("login", err == nil, m.clock.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.mu.Lock()
	m.needsReauth = false
	m.mu.Unlock()

	m.log.Info(ctx, "Logged in", logger.String("account", utils.MaskEmail(creds.Email)))
	return m.store(ctx, creds.Email, tok), nil
}

// store completes tok's timestamps, makes it current, persists it and notifies listeners.
func (m *TokenManager) store(ctx context.Context, account string, tok *models.Token) *models.Token {
	now := m.clock.Now()
	if tok.ObtainedAt.IsZero() {
		tok.ObtainedAt = now
	}
	if tok.ExpiresAt.IsZero() {
		tok.ExpiresAt = utils.TokenExpiryOrDefault(tok.AccessToken, now, m.cfg.FallbackTTL)
	}

	m.mu.Lock()
	m.token = tok
	if account != "" {
		m.account = account
	}
	account = m.account
	m.mu.Unlock()

	if m.repo != nil && account != "" {
		if err := m.repo.Save(ctx, account, tok); err != nil {
			m.log.Warn(ctx, "Failed to persist token", logger.Err(err))
		}
	}

	m.notify(*tok)
	t := *tok
	return &t
}

func (m *TokenManager) notify(tok models.Token) {
	m.subsMu.RLock()
	listeners := make([]TokenListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range listeners {
		fn(tok)
	}
}

func (m *TokenManager) loadCredentials(ctx context.Context) (models.Credentials, error) {
	if m.creds == nil {
		return models.Credentials{}, errors.ErrReauthRequired("no credentials configured")
	}
	creds, err := m.creds.Credentials(ctx)
	if err != nil {
		return models.Credentials{}, err
	}
	if creds.IsZero() {
		return models.Credentials{}, errors.ErrReauthRequired("stored credentials are incomplete")
	}
	return creds, nil
}

func (m *TokenManager) accountKey(ctx context.Context) (string, error) {
	m.mu.RLock()
	account := m.account
	m.mu.RUnlock()
	if account != "" {
		return account, nil
	}

	creds, err := m.loadCredentials(ctx)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.account = creds.Email
	m.mu.Unlock()
	return creds.Email, nil
}
