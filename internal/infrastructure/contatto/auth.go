// Package contatto is the client for the vendor's HTTP API: password login,
// refresh-token exchange, device listing and control, activity reports,
// device configuration and settings.
package contatto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
	"github.com/turtacn/contatto/pkg/utils"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// NewHTTPClient builds the HTTP client shared by the auth and API clients.
// Outgoing requests carry the trace context and get a client span each.
func NewHTTPClient(requestTimeout, connectTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = constants.DefaultAPITimeout
	}
	if connectTimeout <= 0 {
		connectTimeout = constants.DefaultConnectTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Timeout: requestTimeout, Transport: otelhttp.NewTransport(transport)}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthClient talks to the vendor's auth service.
type AuthClient struct {
	authURL    string
	refreshURL string
	userAgent  string
	http       *http.Client
	log        logger.Logger
	metrics    service.Metrics
}

// NewAuthClient creates an auth client. A nil httpClient uses the defaults.
func NewAuthClient(authURL, refreshURL, userAgent string, httpClient *http.Client, log logger.Logger, metrics service.Metrics) *AuthClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0, 0)
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &AuthClient{
		authURL:    authURL,
		refreshURL: refreshURL,
		userAgent:  userAgent,
		http:       httpClient,
		log:        log.WithComponent("contatto-auth"),
		metrics:    metrics,
	}
}

// Login exchanges email and password for a token pair. A 4xx answer is an
// auth_failed error; anything else that goes wrong is transient.
func (c *AuthClient) Login(ctx context.Context, creds models.Credentials) (*models.Token, error) {
	if creds.IsZero() {
		return nil, errors.ErrAuthFailed("no credentials configured")
	}
	tok, err := c.exchange(ctx, "login", c.authURL, loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		c.log.Warn(ctx, "Login failed", logger.String("email", utils.MaskEmail(creds.Email)), logger.Err(err))
		return nil, err
	}
	c.log.Debug(ctx, "Login succeeded", logger.String("email", utils.MaskEmail(creds.Email)))
	return tok, nil
}

// Refresh exchanges a refresh token. Any rejection is auth_failed so the
// caller can fall back to a password login.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*models.Token, error) {
	if refreshToken == "" {
		return nil, errors.ErrAuthFailed("no refresh token")
	}
	tok, err := c.exchange(ctx, "refresh", c.refreshURL, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		if apiErr, ok := errors.As(err); ok && apiErr.Code() == errors.CodeAPI {
			return nil, errors.ErrAuthFailed("refresh rejected").WithCause(err)
		}
		return nil, err
	}
	return tok, nil
}

func (c *AuthClient) exchange(ctx context.Context, op, url string, body interface{}) (*models.Token, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.ErrInternal("encode auth request").WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.ErrInternal("build auth request").WithCause(err)
	}
	setDefaultHeaders(req, c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordAPICall(op, 0, time.Since(start))
		return nil, errors.ErrTransport(fmt.Sprintf("%s request failed", op)).WithCause(err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPICall(op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.ErrTransport(fmt.Sprintf("read %s response", op)).WithCause(err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, errors.ErrAuthFailed(fmt.Sprintf("%s rejected with status %d", op, code)).
			WithMetadata("status", code)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		// throttling says nothing about the credentials
		return nil, errors.ErrTransport(fmt.Sprintf("%s throttled with status %d", op, code)).
			WithMetadata("status", code)
	default:
		return nil, errors.ErrAPI(code, string(data))
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, errors.ErrAPI(resp.StatusCode, string(data)).WithCause(err)
	}
	if tr.AccessToken == "" {
		return nil, errors.ErrAPI(resp.StatusCode, "response carried no access token")
	}
	return &models.Token{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, nil
}

func setDefaultHeaders(req *http.Request, userAgent string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Content-Type", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
}

var _ service.Authenticator = (*AuthClient)(nil)
