// Package bootstrap assembles the bridge from configuration. The server
// binary and the CLI both build their components here.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	appservice "github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/repository"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/internal/infrastructure/contatto"
	"github.com/turtacn/contatto/internal/infrastructure/events"
	"github.com/turtacn/contatto/internal/infrastructure/kms"
	"github.com/turtacn/contatto/internal/infrastructure/monitoring"
	"github.com/turtacn/contatto/internal/infrastructure/persistence/memory"
	"github.com/turtacn/contatto/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/contatto/internal/infrastructure/persistence/redis"
	"github.com/turtacn/contatto/internal/infrastructure/ratelimit"
	"github.com/turtacn/contatto/internal/infrastructure/realtime"
	httpapi "github.com/turtacn/contatto/internal/interfaces/http"
	"github.com/turtacn/contatto/internal/interfaces/http/handlers"
	"github.com/turtacn/contatto/internal/interfaces/http/middleware"
	"github.com/turtacn/contatto/pkg/logger"
)

const vaultCacheTTL = 5 * time.Minute

// App holds every assembled component. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Registry *prometheus.Registry
	Metrics  *monitoring.Metrics
	Tracing  *monitoring.TracingManager

	Tokens     *domainservice.TokenManager
	API        *contatto.CachedClient
	Reconciler *domainservice.StateReconciler
	Supervisor *realtime.Supervisor
	Poller     *appservice.Poller
	Bridge     appservice.BridgeAppService
	Router     *httpapi.Router

	redis     *redis.RedisConnection
	databases map[string]*postgres.DBConnection
	kafka     *events.KafkaPublisher
	closers   []func(context.Context) error
}

// Option customises New.
type Option func(*options)

type options struct {
	withoutHTTP bool
	registry    *prometheus.Registry
}

// WithoutHTTP skips the API router, for one-shot CLI commands.
func WithoutHTTP() Option {
	return func(o *options) { o.withoutHTTP = true }
}

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		Registry:  o.registry,
		databases: make(map[string]*postgres.DBConnection),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.Metrics = monitoring.NewMetrics(a.Registry)

	a.Tracing, err = monitoring.NewTracingManager(cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Tracing.Shutdown)

	tokenRepo, err := a.tokenRepository(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}

	httpClient := contatto.NewHTTPClient(cfg.Contatto.RequestTimeout, cfg.Contatto.ConnectTimeout)
	auth := contatto.NewAuthClient(cfg.Contatto.AuthURL, cfg.Contatto.RefreshURL, cfg.Contatto.UserAgent, httpClient, log, a.Metrics)
	a.Tokens = domainservice.NewTokenManager(auth, creds, tokenRepo,
		domainservice.TokenManagerConfig{FallbackTTL: cfg.Token.FallbackTTL, ExpirySkew: cfg.Token.ExpirySkew},
		log, a.Metrics, domainservice.WithTracer(a.Tracing.Tracer()),
	)

	api := contatto.NewClient(cfg.Contatto.APIBaseURL, cfg.Contatto.UserAgent, a.Tokens, httpClient, log, a.Metrics)
	a.API = contatto.NewCachedClient(api, 0, 0)
	a.Reconciler = domainservice.NewStateReconciler(a.Metrics)

	deps := appservice.BridgeDeps{
		Tokens:       a.Tokens,
		API:          a.API,
		Reconciler:   a.Reconciler,
		HistoryLimit: cfg.History.Limit,
	}

	var pollerOpts []appservice.PollerOption
	if cfg.Realtime.Enabled {
		dialer := realtime.NewWebSocketDialer(cfg.Contatto.RealtimeURL, cfg.Contatto.UserAgent, cfg.Contatto.ConnectTimeout)
		a.Supervisor = realtime.NewSupervisor(dialer, a.Tokens, a.Reconciler, log, a.Metrics,
			realtime.WithBackoffPolicy(realtime.BackoffPolicy{
				BaseDelay:      cfg.Realtime.BaseDelay,
				FixedAttempts:  cfg.Realtime.FixedAttempts,
				DoublingSteps:  cfg.Realtime.DoublingSteps,
				MaxDelay:       cfg.Realtime.MaxDelay,
				StableDuration: cfg.Realtime.StableDuration,
			}),
		)
		a.Supervisor.OnPhaseChange(a.Tracing.ObserveConnection)
		deps.Realtime = a.Supervisor
		supervisor := a.Supervisor
		pollerOpts = append(pollerOpts, appservice.WithConnectedFunc(func() bool {
			return supervisor.State().IsConnected()
		}))
	}

	a.Poller = appservice.NewPoller(a.API, a.Reconciler, appservice.PollerConfig{
		Interval:          cfg.Polling.Interval,
		ConnectedInterval: cfg.Polling.ConnectedInterval,
		ReportPageSize:    cfg.Polling.ReportPageSize,
		Concurrency:       cfg.Polling.Concurrency,
	}, log, a.Metrics, pollerOpts...)
	deps.Poller = a.Poller

	if cfg.Kafka.Enabled {
		a.kafka = events.NewKafkaPublisher(cfg.Kafka, log, a.Metrics)
		a.closers = append(a.closers, func(context.Context) error { return a.kafka.Close() })
		deps.Publisher = a.kafka
	}

	if cfg.History.Enabled {
		db, err := a.database(ctx, cfg.History.Driver)
		if err != nil {
			return nil, err
		}
		deps.History = postgres.NewStatusHistoryRepository(db.DB(), log)
	}

	a.Bridge = appservice.NewBridgeAppService(deps, log)

	if !o.withoutHTTP && cfg.Server.Enabled {
		if err := a.buildRouter(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) tokenRepository(ctx context.Context) (repository.TokenRepository, error) {
	switch a.Config.Token.Store {
	case "redis":
		conn, err := a.redisConnection(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewTokenRepository(conn.Client(), a.Config.Token.KeyPrefix, a.Logger), nil
	case postgres.DriverPostgres, postgres.DriverSQLite:
		db, err := a.database(ctx, a.Config.Token.Store)
		if err != nil {
			return nil, err
		}
		return postgres.NewTokenRepository(db.DB(), a.Logger), nil
	default:
		return memory.NewTokenRepository(), nil
	}
}

func (a *App) credentials() (domainservice.CredentialsProvider, error) {
	cfg := a.Config
	if cfg.Credentials.Source != "vault" {
		return kms.NewStaticProvider(cfg.Credentials.Email, cfg.Credentials.Password), nil
	}
	client, err := kms.NewVaultClient(cfg.Vault)
	if err != nil {
		return nil, err
	}
	return kms.NewVaultProvider(cfg.Vault, client, cfg.Credentials.VaultPath, vaultCacheTTL, a.Logger), nil
}

// redisConnection connects once and shares the client between the token
// store and the rate limiter.
func (a *App) redisConnection(ctx context.Context) (*redis.RedisConnection, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	conn := redis.NewRedisConnection(a.Config.Redis, a.Logger)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	a.redis = conn
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	return conn, nil
}

func (a *App) database(ctx context.Context, driver string) (*postgres.DBConnection, error) {
	if db, ok := a.databases[driver]; ok {
		return db, nil
	}
	db, err := postgres.NewDBConnection(ctx, driver, a.Config.Database, a.Logger)
	if err != nil {
		return nil, err
	}
	a.databases[driver] = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

func (a *App) buildRouter(ctx context.Context) error {
	cfg := a.Config

	var limiter middleware.CommandLimiter
	if cfg.RateLimit.Enabled {
		limits := ratelimit.Limits{Burst: cfg.RateLimit.Burst, PerMinute: cfg.RateLimit.PerMinute}
		if cfg.RateLimit.Backend == "redis" {
			conn, err := a.redisConnection(ctx)
			if err != nil {
				return err
			}
			rl, err := ratelimit.NewRedisLimiter(conn.Client(), limits, cfg.RateLimit.KeyPrefix, nil, a.Logger)
			if err != nil {
				return err
			}
			limiter = rl
		} else {
			limiter = ratelimit.NewLocalLimiter(limits, nil)
		}
	}

	pingers := map[string]handlers.Pinger{}
	if a.redis != nil {
		pingers["redis"] = a.redis
	}
	for driver, db := range a.databases {
		pingers[driver] = db
	}

	a.Router = httpapi.NewRouter(httpapi.RouterDependencies{
		Config:     &cfg.Server,
		Logger:     a.Logger,
		Health:     handlers.NewHealthHandler(a.Bridge, pingers, a.Logger),
		Devices:    handlers.NewDeviceHandler(a.Bridge, a.Logger),
		Connection: handlers.NewConnectionHandler(a.Bridge, a.Logger),
		Events:     handlers.NewEventBroker(a.Bridge, a.Metrics, a.Logger),
		Limiter:    limiter,
		Tracer:     a.Tracing.Tracer(),
		Metrics:    a.Metrics,
		Gatherer:   a.Registry,
	})
	return nil
}

// Run starts the bridge and the API, then blocks until ctx is cancelled or
// the API server fails. Shutdown is bounded by server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bridge.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	serverErr := make(chan error, 1)
	if a.Router != nil {
		go func() { serverErr <- a.Router.Start() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info(context.Background(), "Shutting down")
	case runErr = <-serverErr:
		if runErr != nil {
			a.Logger.Error(context.Background(), "HTTP server failed", runErr)
		}
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.Router != nil {
		if err := a.Router.Stop(shutdownCtx); err != nil {
			a.Logger.Error(shutdownCtx, "HTTP server shutdown failed", err)
		}
	}
	if err := a.Bridge.Stop(shutdownCtx); err != nil {
		a.Logger.Error(shutdownCtx, "Bridge shutdown failed", err)
	}
	return runErr
}

// Close releases connections, the Kafka writer and the tracer provider.
func (a *App) Close(ctx context.Context) error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i](ctx))
	}
	a.closers = nil
	return err
}
