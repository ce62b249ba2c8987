package models

import (
	"fmt"
	"strings"

	"github.com/turtacn/contatto/pkg/constants"
)

// OutputName is the user-facing label of one controller output.
type OutputName struct {
	Name string `json:"name"`
	Show bool   `json:"show"`
}

// DeviceNames holds the labels of both outputs as the vendor returns them.
type DeviceNames struct {
	Gate  *OutputName `json:"gate,omitempty"`
	Relay *OutputName `json:"relay,omitempty"`
}

// Device represents a gate/relay controller registered to the account.
type Device struct {
	Serial        string         `json:"serial"`
	Names         DeviceNames    `json:"name"`
	Favorite      bool           `json:"favorite"`
	Notification  bool           `json:"notification"`
	MAC           string         `json:"mac,omitempty"`
	Version       string         `json:"version,omitempty"`
	Role          string         `json:"role,omitempty"`
	ReportedState *ReportedState `json:"status,omitempty"`

	// Visible is false once the device disappears from the account listing.
	Visible bool `json:"-"`
}

// ReportedState is the status snapshot embedded in the device listing.
type ReportedState struct {
	Gate  string `json:"gate,omitempty"`
	Relay string `json:"relay,omitempty"`
}

// HasGate reports whether the device exposes a gate output.
func (d *Device) HasGate() bool {
	return d.Names.Gate != nil
}

// HasRelay reports whether the device exposes a relay output.
func (d *Device) HasRelay() bool {
	return d.Names.Relay != nil
}

// Supports reports whether the device exposes the given output.
func (d *Device) Supports(hw constants.HardwareType) bool {
	switch hw {
	case constants.HardwareGate:
		return d.HasGate()
	case constants.HardwareRelay:
		return d.HasRelay()
	default:
		return false
	}
}

// DisplayName returns "<gate> / <relay>" when both outputs are named, the single
// available name otherwise, and "PPA Contatto <serial>" when neither is.
func (d *Device) DisplayName() string {
	var parts []string
	if d.Names.Gate != nil && strings.TrimSpace(d.Names.Gate.Name) != "" {
		parts = append(parts, strings.TrimSpace(d.Names.Gate.Name))
	}
	if d.Names.Relay != nil && strings.TrimSpace(d.Names.Relay.Name) != "" {
		parts = append(parts, strings.TrimSpace(d.Names.Relay.Name))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("PPA Contatto %s", d.Serial)
	}
	return strings.Join(parts, " / ")
}

// DeviceSettings is the complete PATCH payload for a device. The vendor replaces
// every field, so updates must start from the current values.
type DeviceSettings struct {
	Name         DeviceSettingsNames `json:"name"`
	Favorite     bool                `json:"favorite"`
	Notification bool                `json:"notification"`
}

// DeviceSettingsNames always carries both outputs.
type DeviceSettingsNames struct {
	Gate  OutputName `json:"gate"`
	Relay OutputName `json:"relay"`
}

// SettingsUpdate is a partial change; nil fields keep the current value.
type SettingsUpdate struct {
	GateName     *string `json:"gate_name,omitempty"`
	GateShow     *bool   `json:"gate_show,omitempty"`
	RelayName    *string `json:"relay_name,omitempty"`
	RelayShow    *bool   `json:"relay_show,omitempty"`
	Favorite     *bool   `json:"favorite,omitempty"`
	Notification *bool   `json:"notification,omitempty"`
}

// Settings builds the complete payload for d with u applied on top.
func (d *Device) Settings(u SettingsUpdate) DeviceSettings {
	s := DeviceSettings{
		Name: DeviceSettingsNames{
			Gate:  OutputName{Show: true},
			Relay: OutputName{Show: true},
		},
		Favorite:     d.Favorite,
		Notification: d.Notification,
	}
	if d.Names.Gate != nil {
		s.Name.Gate = *d.Names.Gate
	}
	if d.Names.Relay != nil {
		s.Name.Relay = *d.Names.Relay
	}

	if u.GateName != nil {
		s.Name.Gate.Name = *u.GateName
	}
	if u.GateShow != nil {
		s.Name.Gate.Show = *u.GateShow
	}
	if u.RelayName != nil {
		s.Name.Relay.Name = *u.RelayName
	}
	if u.RelayShow != nil {
		s.Name.Relay.Show = *u.RelayShow
	}
	if u.Favorite != nil {
		s.Favorite = *u.Favorite
	}
	if u.Notification != nil {
		s.Notification = *u.Notification
	}
	return s
}

// DeviceConfiguration is the vendor's per-device configuration document. Keys
// this module does not understand are carried through unchanged on update.
type DeviceConfiguration map[string]interface{}

// RelayDuration returns the configured relay duration in milliseconds, or 1000 ms.
func (c DeviceConfiguration) RelayDuration() int {
	switch v := c["relayDuration"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return constants.RelayDurationDefault
	}
}

// WithRelayDuration returns a copy of c with relayDuration set to ms.
func (c DeviceConfiguration) WithRelayDuration(ms int) DeviceConfiguration {
	out := make(DeviceConfiguration, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out["relayDuration"] = ms
	return out
}

// RelayMode describes a relay duration value.
func RelayMode(ms int) string {
	if ms == constants.RelayDurationToggle {
		return "toggle"
	}
	return "pulse"
}
