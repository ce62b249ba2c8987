package models

import "time"

// Phase is a state of the real-time connection.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseHandshaking  Phase = "handshaking"
	PhaseNamespaced   Phase = "namespaced"
	PhaseConnected    Phase = "connected"
	PhaseBackingOff   Phase = "backing_off"
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhaseDisconnected,
	PhaseConnecting,
	PhaseHandshaking,
	PhaseNamespaced,
	PhaseConnected,
	PhaseBackingOff,
}

// ConnectionState is a snapshot of the real-time connection.
type ConnectionState struct {
	Phase          Phase         `json:"phase"`
	ConnectionID   string        `json:"connection_id,omitempty"`
	RetryCount     int           `json:"retry_count"`
	BackoffDelay   time.Duration `json:"backoff_delay"`
	LastConnected  time.Time     `json:"last_connected,omitempty"`
	ConnectedSince time.Time     `json:"connected_since,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	PendingReauth  bool          `json:"pending_reauth"`
}

// IsConnected reports whether events are flowing.
func (s ConnectionState) IsConnected() bool {
	return s.Phase == PhaseConnected
}
