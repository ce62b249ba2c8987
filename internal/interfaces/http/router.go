// Package http wires the gin engine of the bridge API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/turtacn/contatto/internal/application/dto"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/interfaces/http/handlers"
	"github.com/turtacn/contatto/internal/interfaces/http/middleware"
	"github.com/turtacn/contatto/pkg/logger"
)

// RouterDependencies 路由依赖
type RouterDependencies struct {
	Config     *config.ServerConfig
	Logger     logger.Logger
	Health     *handlers.HealthHandler
	Devices    *handlers.DeviceHandler
	Connection *handlers.ConnectionHandler
	Events     *handlers.EventBroker
	// Limiter throttles device commands; nil disables throttling.
	Limiter middleware.CommandLimiter
	Tracer  trace.Tracer
	Metrics middleware.HTTPMetrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Router HTTP 路由器
type Router struct {
	deps   RouterDependencies
	engine *gin.Engine
	logger logger.Logger
	server *http.Server
}

// NewRouter 创建路由器并注册路由
func NewRouter(deps RouterDependencies) *Router {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoopLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("contatto-http")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := &Router{
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.WithComponent("http_server"),
	}
	r.setupRoutes()
	r.server = &http.Server{
		Addr:           deps.Config.Addr(),
		Handler:        r.engine,
		ReadTimeout:    deps.Config.ReadTimeout,
		WriteTimeout:   deps.Config.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return r
}

func (r *Router) setupRoutes() {
	// 全局中间件
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.ObservabilityMiddleware(r.deps.Tracer, r.deps.Metrics, r.deps.Logger))

	origins := r.deps.Config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{middleware.HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	// 健康检查路由
	r.engine.GET("/health", r.deps.Health.HealthCheck)
	r.engine.GET("/ready", r.deps.Health.ReadinessCheck)
	r.engine.GET("/live", r.deps.Health.LivenessCheck)

	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))

	// Pprof 性能分析（仅在非生产环境）
	if r.deps.Config.Environment != "production" {
		pprof.Register(r.engine)
	}

	throttle := middleware.CommandRateLimit(r.deps.Limiter, r.deps.Logger)

	v1 := r.engine.Group("/api/v1")
	{
		devices := v1.Group("/devices")
		{
			devices.GET("", r.deps.Devices.ListDevices)
			devices.POST("/resync", r.deps.Devices.Resync)
			devices.GET("/:serial", r.deps.Devices.GetDevice)
			devices.GET("/:serial/status", r.deps.Devices.GetStatus)
			devices.GET("/:serial/activity", r.deps.Devices.GetActivity)
			devices.GET("/:serial/history", r.deps.Devices.GetHistory)
			devices.POST("/:serial/control", throttle, r.deps.Devices.Control)
			devices.GET("/:serial/relay-duration", r.deps.Devices.GetRelayDuration)
			devices.PUT("/:serial/relay-duration", throttle, r.deps.Devices.SetRelayDuration)
			devices.PATCH("/:serial/settings", throttle, r.deps.Devices.UpdateSettings)
		}

		connection := v1.Group("/connection")
		{
			connection.GET("", r.deps.Connection.GetConnection)
			connection.POST("/reconnect", r.deps.Connection.Reconnect)
		}

		if r.deps.Events != nil {
			v1.GET("/events", r.deps.Events.Stream)
		}
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NotFoundResponse(c.Request.URL.Path, middleware.TraceID(c)))
	})
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Start 启动 HTTP 服务器，阻塞直到 Stop 被调用
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	if r.deps.Events != nil {
		r.deps.Events.Close()
	}
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine, mainly for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
