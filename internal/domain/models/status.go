package models

import (
	"strings"
	"time"
)

// GateState is the observed position of the gate output.
type GateState string

const (
	GateOpen    GateState = "open"
	GateClosed  GateState = "closed"
	GateUnknown GateState = "unknown"
)

// ParseGateState maps a vendor value onto a GateState; anything unrecognised is unknown.
func ParseGateState(s string) GateState {
	switch GateState(strings.ToLower(strings.TrimSpace(s))) {
	case GateOpen:
		return GateOpen
	case GateClosed:
		return GateClosed
	default:
		return GateUnknown
	}
}

// RelayState is the observed state of the relay output.
type RelayState string

const (
	RelayOn      RelayState = "on"
	RelayOff     RelayState = "off"
	RelayUnknown RelayState = "unknown"
)

// ParseRelayState maps a vendor value onto a RelayState; anything unrecognised is unknown.
func ParseRelayState(s string) RelayState {
	switch RelayState(strings.ToLower(strings.TrimSpace(s))) {
	case RelayOn:
		return RelayOn
	case RelayOff:
		return RelayOff
	default:
		return RelayUnknown
	}
}

// StatusSource records how a status was learned.
type StatusSource string

const (
	SourcePoll StatusSource = "poll"
	SourcePush StatusSource = "push"
)

// DeviceStatus is an immutable snapshot of one device. A newer snapshot
// supersedes it; it is never modified in place.
type DeviceStatus struct {
	Serial     string       `json:"serial"`
	Gate       GateState    `json:"gate"`
	Relay      RelayState   `json:"relay"`
	Source     StatusSource `json:"source"`
	ObservedAt time.Time    `json:"observed_at"`
}

// UnknownStatus is the status of a device nothing has been observed for.
func UnknownStatus(serial string) DeviceStatus {
	return DeviceStatus{
		Serial: serial,
		Gate:   GateUnknown,
		Relay:  RelayUnknown,
	}
}

// NewDeviceStatus builds a status from raw vendor values.
func NewDeviceStatus(serial, gate, relay string, source StatusSource, observedAt time.Time) DeviceStatus {
	return DeviceStatus{
		Serial:     serial,
		Gate:       ParseGateState(gate),
		Relay:      ParseRelayState(relay),
		Source:     source,
		ObservedAt: observedAt,
	}
}

// IsObserved reports whether the status came from an actual observation.
func (s DeviceStatus) IsObserved() bool {
	return !s.ObservedAt.IsZero()
}

// IsEmpty reports whether both outputs are unknown.
func (s DeviceStatus) IsEmpty() bool {
	return s.Gate == GateUnknown && s.Relay == RelayUnknown
}

// FillUnknown returns s with unknown outputs taken from prev.
func (s DeviceStatus) FillUnknown(prev DeviceStatus) DeviceStatus {
	if s.Gate == GateUnknown || s.Gate == "" {
		s.Gate = prev.Gate
	}
	if s.Relay == RelayUnknown || s.Relay == "" {
		s.Relay = prev.Relay
	}
	if s.Gate == "" {
		s.Gate = GateUnknown
	}
	if s.Relay == "" {
		s.Relay = RelayUnknown
	}
	return s
}

// SameState reports whether s and other describe the same outputs.
func (s DeviceStatus) SameState(other DeviceStatus) bool {
	return s.Gate == other.Gate && s.Relay == other.Relay
}

// ActivityRecord is the most recent action on a device as seen in its reports.
type ActivityRecord struct {
	Serial     string    `json:"serial"`
	LastAction time.Time `json:"last_action"`
	LastUser   string    `json:"last_user"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Report is one row of a device's activity report.
type Report struct {
	Target    string `json:"target"`
	CreatedAt string `json:"createdAt"`
	Name      string `json:"name"`
}

// StatusChange is delivered to subscribers for every accepted status.
type StatusChange struct {
	Previous DeviceStatus `json:"previous"`
	Current  DeviceStatus `json:"current"`
}
