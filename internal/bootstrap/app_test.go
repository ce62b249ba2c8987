package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/bootstrap"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/serverlite"
	"github.com/turtacn/contatto/pkg/errors"
)

const (
	email    = "owner@example.com"
	password = "s3cret"
)

func newCloud(t *testing.T) (*serverlite.Server, *httptest.Server) {
	t.Helper()
	cloud := serverlite.NewServer("", []byte("test-signing-key"), email, password)
	cloud.AddDevice(models.Device{
		Serial: "PPA100",
		Names: models.DeviceNames{
			Gate:  &models.OutputName{Name: "Front gate", Show: true},
			Relay: &models.OutputName{Name: "Garage", Show: true},
		},
	}, "closed", "off")
	ts := httptest.NewServer(cloud.Handler())
	t.Cleanup(ts.Close)
	return cloud, ts
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8080,
			Environment:     "production",
			ShutdownTimeout: 5 * time.Second,
		},
		Contatto: config.ContattoConfig{
			AuthURL:        baseURL + "/auth/login",
			RefreshURL:     baseURL + "/auth/refresh",
			APIBaseURL:     baseURL,
			RealtimeURL:    "ws://127.0.0.1:1/socket.io/",
			UserAgent:      "contatto-test",
			RequestTimeout: 5 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Credentials: config.CredentialsConfig{Source: "static", Email: email, Password: password},
		Polling:     config.PollingConfig{Interval: time.Hour, ConnectedInterval: time.Hour, ReportPageSize: 10, Concurrency: 2},
		Token:       config.TokenConfig{Store: "sqlite", FallbackTTL: time.Hour},
		History:     config.HistoryConfig{Enabled: true, Driver: "sqlite", Limit: 10},
		Database:    config.DatabaseConfig{SQLitePath: filepath.Join(t.TempDir(), "contatto.db")},
		RateLimit:   config.RateLimitConfig{Enabled: true, Backend: "memory", Burst: 5, PerMinute: 30},
		Log:         config.LogConfig{Level: "error", Format: "json"},
	}
}

func call(app *bootstrap.App, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.Router.Engine().ServeHTTP(w, req)
	return w
}

func TestApp_PollControlAndRelayDuration(t *testing.T) {
	cloud, ts := newCloud(t)
	ctx := context.Background()

	app, err := bootstrap.New(ctx, testConfig(t, ts.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })
	require.NotNil(t, app.Router)
	assert.Nil(t, app.Supervisor)

	require.NoError(t, app.Bridge.Start(ctx))
	t.Cleanup(func() { _ = app.Bridge.Stop(ctx) })

	require.Eventually(t, func() bool {
		return app.Bridge.CurrentStatus("PPA100").Gate == models.GateClosed
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, cloud.Logins())

	w := call(app, http.MethodPost, "/api/v1/devices/PPA100/control", map[string]string{"hardware": "gate"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, cloud.Commands(), 1)
	assert.Equal(t, "gate", cloud.Commands()[0].Hardware)

	// Without push events the bridge polls right after a command.
	require.Eventually(t, func() bool {
		return app.Bridge.CurrentStatus("PPA100").Gate == models.GateOpen
	}, 5*time.Second, 20*time.Millisecond)

	w = call(app, http.MethodPut, "/api/v1/devices/PPA100/relay-duration", map[string]int{"duration_ms": -1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, -1, cloud.Configuration("PPA100")["relayDuration"])

	require.Eventually(t, func() bool {
		history, err := app.Bridge.History(ctx, "PPA100", 10)
		return err == nil && len(history) >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApp_TokenSurvivesRestart(t *testing.T) {
	cloud, ts := newCloud(t)
	ctx := context.Background()
	cfg := testConfig(t, ts.URL)

	first, err := bootstrap.New(ctx, cfg, nil, bootstrap.WithoutHTTP())
	require.NoError(t, err)
	assert.Nil(t, first.Router)
	n, err := first.Bridge.TestConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, first.Close(ctx))

	second, err := bootstrap.New(ctx, cfg, nil, bootstrap.WithoutHTTP())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(ctx) })
	restored, err := second.Tokens.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	_, err = second.Tokens.CurrentToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cloud.Logins())
}

func TestApp_StartRejectsBadCredentials(t *testing.T) {
	_, ts := newCloud(t)
	ctx := context.Background()
	cfg := testConfig(t, ts.URL)
	cfg.Credentials.Password = "wrong"

	app, err := bootstrap.New(ctx, cfg, nil, bootstrap.WithoutHTTP())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	err = app.Bridge.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestApp_UnknownDatabaseDriverFails(t *testing.T) {
	_, ts := newCloud(t)
	cfg := testConfig(t, ts.URL)
	cfg.History.Driver = "oracle"

	app, err := bootstrap.New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, app)
}
