// Package handlers implements the gin handlers of the bridge HTTP API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/contatto/internal/application/dto"
	"github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/interfaces/http/middleware"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
	"github.com/turtacn/contatto/pkg/utils"
)

// DeviceHandler serves device listing, status and control.
type DeviceHandler struct {
	bridge service.BridgeAppService
	logger logger.Logger
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(bridge service.BridgeAppService, log logger.Logger) *DeviceHandler {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &DeviceHandler{bridge: bridge, logger: log.WithComponent("device_handler")}
}

// ListDevices returns every known device with its reconciled status.
// GET /api/v1/devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.bridge.Devices()
	out := make([]dto.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		if !d.Visible && c.Query("all") != "true" {
			continue
		}
		out = append(out, h.deviceResponse(d))
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(out, middleware.TraceID(c)))
}

// GetDevice returns one device.
// GET /api/v1/devices/:serial
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	d, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(h.deviceResponse(d), middleware.TraceID(c)))
}

// GetStatus returns the reconciled status of a device.
// GET /api/v1/devices/:serial/status
func (h *DeviceHandler) GetStatus(c *gin.Context) {
	d, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(h.bridge.CurrentStatus(d.Serial), middleware.TraceID(c)))
}

// GetActivity returns the last recorded action on a device.
// GET /api/v1/devices/:serial/activity
func (h *DeviceHandler) GetActivity(c *gin.Context) {
	d, ok := h.lookup(c)
	if !ok {
		return
	}
	activity, found := h.bridge.CurrentActivity(d.Serial)
	if !found {
		c.JSON(http.StatusNotFound, dto.NotFoundResponse("activity for "+d.Serial, middleware.TraceID(c)))
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(activity, middleware.TraceID(c)))
}

// GetHistory returns recorded statuses, newest first.
// GET /api/v1/devices/:serial/history?limit=N
func (h *DeviceHandler) GetHistory(c *gin.Context) {
	serial := c.Param("serial")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(c, errors.ErrInvalidArgument("limit must be a positive integer"))
			return
		}
		limit = n
	}
	history, err := h.bridge.History(c.Request.Context(), serial, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(history, middleware.TraceID(c)))
}

// Control actuates the gate or the relay of a device.
// POST /api/v1/devices/:serial/control
func (h *DeviceHandler) Control(c *gin.Context) {
	var req dto.ControlRequest
	if !h.bind(c, &req) {
		return
	}
	serial := c.Param("serial")
	if err := h.bridge.ControlDevice(c.Request.Context(), serial, constants.HardwareType(req.Hardware)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SuccessResponse(gin.H{"serial": serial, "hardware": req.Hardware}, middleware.TraceID(c)))
}

// GetRelayDuration reads the relay mode from the device configuration.
// GET /api/v1/devices/:serial/relay-duration
func (h *DeviceHandler) GetRelayDuration(c *gin.Context) {
	serial := c.Param("serial")
	ms, err := h.bridge.RelayDuration(c.Request.Context(), serial)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(dto.RelayDurationResponse{
		Serial:     serial,
		DurationMS: ms,
		Mode:       models.RelayMode(ms),
	}, middleware.TraceID(c)))
}

// SetRelayDuration switches the relay between toggle and pulse mode.
// PUT /api/v1/devices/:serial/relay-duration
func (h *DeviceHandler) SetRelayDuration(c *gin.Context) {
	var req dto.RelayDurationRequest
	if !h.bind(c, &req) {
		return
	}
	serial := c.Param("serial")
	ms := *req.DurationMS
	if err := h.bridge.SetRelayDuration(c.Request.Context(), serial, ms); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(dto.RelayDurationResponse{
		Serial:     serial,
		DurationMS: ms,
		Mode:       models.RelayMode(ms),
	}, middleware.TraceID(c)))
}

// UpdateSettings changes output names, visibility and flags of a device.
// PATCH /api/v1/devices/:serial/settings
func (h *DeviceHandler) UpdateSettings(c *gin.Context) {
	var req models.SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse(err, middleware.TraceID(c)))
		return
	}
	serial := c.Param("serial")
	if err := h.bridge.UpdateSettings(c.Request.Context(), serial, req); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(gin.H{"serial": serial}, middleware.TraceID(c)))
}

// Resync drops the held status of one device (or all) and polls now.
// POST /api/v1/devices/resync
func (h *DeviceHandler) Resync(c *gin.Context) {
	var req dto.ResyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse(err, middleware.TraceID(c)))
			return
		}
	}
	h.bridge.ForceResync(req.Serial)
	h.logger.Info(c.Request.Context(), "Resync requested", logger.Serial(req.Serial))
	c.JSON(http.StatusAccepted, dto.SuccessResponse(req, middleware.TraceID(c)))
}

func (h *DeviceHandler) lookup(c *gin.Context) (models.Device, bool) {
	serial := c.Param("serial")
	d, ok := h.bridge.Device(serial)
	if !ok {
		h.respondError(c, errors.ErrDeviceNotFound(serial))
		return models.Device{}, false
	}
	return d, true
}

func (h *DeviceHandler) deviceResponse(d models.Device) dto.DeviceResponse {
	var activity *models.ActivityRecord
	if a, ok := h.bridge.CurrentActivity(d.Serial); ok {
		activity = &a
	}
	return dto.NewDeviceResponse(d, h.bridge.CurrentStatus(d.Serial), activity)
}

func (h *DeviceHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse(err, middleware.TraceID(c)))
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse(err, middleware.TraceID(c)))
		return false
	}
	return true
}

func (h *DeviceHandler) respondError(c *gin.Context, err error) {
	respondError(c, h.logger, err)
}

func respondError(c *gin.Context, log logger.Logger, err error) {
	status, body := dto.ErrorResponse(err, middleware.TraceID(c))
	if status >= http.StatusInternalServerError {
		log.Error(c.Request.Context(), "Request failed", err, logger.String("path", c.FullPath()))
	}
	c.JSON(status, body)
}
