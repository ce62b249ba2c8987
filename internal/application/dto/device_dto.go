package dto

import (
	"time"

	"github.com/turtacn/contatto/internal/domain/models"
)

// ControlRequest selects the output to actuate.
type ControlRequest struct {
	Hardware string `json:"hardware" validate:"required,oneof=gate relay"`
}

// RelayDurationRequest sets the relay mode: -1 toggles, 1..30000 pulses for that many ms.
type RelayDurationRequest struct {
	DurationMS *int `json:"duration_ms" validate:"required"`
}

// RelayDurationResponse reports the relay mode of a device.
type RelayDurationResponse struct {
	Serial     string `json:"serial"`
	DurationMS int    `json:"duration_ms"`
	Mode       string `json:"mode"`
}

// ResyncRequest names the device to resync; empty means every device.
type ResyncRequest struct {
	Serial string `json:"serial,omitempty"`
}

// DeviceResponse is a device with its reconciled status.
type DeviceResponse struct {
	Serial       string                 `json:"serial"`
	DisplayName  string                 `json:"display_name"`
	HasGate      bool                   `json:"has_gate"`
	HasRelay     bool                   `json:"has_relay"`
	Favorite     bool                   `json:"favorite"`
	Notification bool                   `json:"notification"`
	Firmware     string                 `json:"firmware,omitempty"`
	MAC          string                 `json:"mac,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Visible      bool                   `json:"visible"`
	Status       models.DeviceStatus    `json:"status"`
	Activity     *models.ActivityRecord `json:"activity,omitempty"`
}

// NewDeviceResponse assembles a DeviceResponse.
func NewDeviceResponse(d models.Device, status models.DeviceStatus, activity *models.ActivityRecord) DeviceResponse {
	return DeviceResponse{
		Serial:       d.Serial,
		DisplayName:  d.DisplayName(),
		HasGate:      d.HasGate(),
		HasRelay:     d.HasRelay(),
		Favorite:     d.Favorite,
		Notification: d.Notification,
		Firmware:     d.Version,
		MAC:          d.MAC,
		Role:         d.Role,
		Visible:      d.Visible,
		Status:       status,
		Activity:     activity,
	}
}

// ConnectionResponse describes the real-time connection.
type ConnectionResponse struct {
	models.ConnectionState
	BackoffSeconds float64 `json:"backoff_seconds"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewConnectionResponse adds derived durations to a connection snapshot.
func NewConnectionResponse(s models.ConnectionState, now time.Time) ConnectionResponse {
	resp := ConnectionResponse{ConnectionState: s, BackoffSeconds: s.BackoffDelay.Seconds()}
	if s.IsConnected() && !s.ConnectedSince.IsZero() {
		resp.UptimeSeconds = now.Sub(s.ConnectedSince).Seconds()
	}
	return resp
}
