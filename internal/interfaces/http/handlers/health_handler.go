package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/pkg/logger"
)

const checkTimeout = 2 * time.Second

// Pinger is a backing store the bridge depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	bridge service.BridgeAppService
	deps   map[string]Pinger
	log    logger.Logger
}

// NewHealthHandler creates a HealthHandler. deps are pinged on /health and
// /ready; nil entries are skipped.
func NewHealthHandler(bridge service.BridgeAppService, deps map[string]Pinger, log logger.Logger) *HealthHandler {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	clean := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			clean[name] = p
		}
	}
	return &HealthHandler{bridge: bridge, deps: clean, log: log.WithComponent("health")}
}

// HealthCheck reports the bridge and its dependencies. A lost real-time
// connection degrades but does not fail health; polling covers it.
// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())
	report := h.bridge.Health()

	status := "healthy"
	httpStatus := http.StatusOK
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}
	if report.NeedsReauth {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if status == "healthy" && !report.Connection.IsConnected() {
		status = "degraded"
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
		"bridge":    report,
	})
}

// ReadinessCheck passes once the bridge holds usable credentials and its
// stores answer.
// GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())
	ready := !h.bridge.Health().NeedsReauth
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			ready = false
		}
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// LivenessCheck answers as long as the process serves HTTP.
// GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	checks := make(map[string]string, len(h.deps))

	for name, p := range h.deps {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			status := "ok"
			if err := p.Ping(ctx); err != nil {
				status = "error: " + err.Error()
				h.log.Warn(ctx, "Health check failed", logger.String("dependency", name), logger.Err(err))
			}
			mu.Lock()
			checks[name] = status
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return checks
}
