package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/contatto/internal/application/dto"
	"github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/internal/interfaces/http/middleware"
	"github.com/turtacn/contatto/pkg/logger"
)

// ConnectionHandler exposes the real-time connection state.
type ConnectionHandler struct {
	bridge service.BridgeAppService
	logger logger.Logger
	now    func() time.Time
}

func NewConnectionHandler(bridge service.BridgeAppService, log logger.Logger) *ConnectionHandler {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &ConnectionHandler{bridge: bridge, logger: log.WithComponent("connection_handler"), now: time.Now}
}

// GetConnection returns the current phase, retry count and backoff.
// GET /api/v1/connection
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	resp := dto.NewConnectionResponse(h.bridge.ConnectionState(), h.now())
	c.JSON(http.StatusOK, dto.SuccessResponse(resp, middleware.TraceID(c)))
}

// Reconnect drops the connection and dials again at once.
// POST /api/v1/connection/reconnect
func (h *ConnectionHandler) Reconnect(c *gin.Context) {
	h.logger.Info(c.Request.Context(), "Reconnect requested over HTTP")
	h.bridge.ForceReconnect()
	c.JSON(http.StatusAccepted, dto.SuccessResponse(gin.H{"reconnecting": true}, middleware.TraceID(c)))
}
