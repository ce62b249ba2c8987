// Package realtime implements the vendor's push channel: the Engine.IO v4 /
// Socket.IO v5 text framing, the reconnect policy, the WebSocket transport and
// the connection supervisor that ties them together.
package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
)

// FrameKind identifies a text frame by its numeric prefix.
type FrameKind int

const (
	FrameOpen FrameKind = iota
	FrameClose
	FramePing
	FramePong
	FrameMessage
	FrameUpgrade
	FrameNoop
	FrameNamespaceConnect
	FrameNamespaceDisconnect
	FrameEvent
	FrameAck
	FrameNamespaceError
	FrameBinaryEvent
	FrameBinaryAck
	FrameUnknown
)

var frameKindNames = map[FrameKind]string{
	FrameOpen:                "open",
	FrameClose:               "close",
	FramePing:                "ping",
	FramePong:                "pong",
	FrameMessage:             "message",
	FrameUpgrade:             "upgrade",
	FrameNoop:                "noop",
	FrameNamespaceConnect:    "namespace_connect",
	FrameNamespaceDisconnect: "namespace_disconnect",
	FrameEvent:               "event",
	FrameAck:                 "ack",
	FrameNamespaceError:      "namespace_error",
	FrameBinaryEvent:         "binary_event",
	FrameBinaryAck:           "binary_ack",
}

func (k FrameKind) String() string {
	if s, ok := frameKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Socket.IO packet types carried inside an Engine.IO MESSAGE.
var socketKinds = map[byte]FrameKind{
	'0': FrameNamespaceConnect,
	'1': FrameNamespaceDisconnect,
	'2': FrameEvent,
	'3': FrameAck,
	'4': FrameNamespaceError,
	'5': FrameBinaryEvent,
	'6': FrameBinaryAck,
}

// Frame is one decoded text frame. Payload is everything after the type prefix.
type Frame struct {
	Kind    FrameKind
	Payload string
	Raw     string
}

// OpenPayload is the handshake sent by the server in the OPEN frame.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// KeepAliveWindow is how long the connection may stay silent before it is
// considered dead.
func (p OpenPayload) KeepAliveWindow() time.Duration {
	return p.PingIntervalDuration() + p.PingTimeoutDuration()
}

// PingIntervalDuration returns the announced ping interval or the protocol default.
func (p OpenPayload) PingIntervalDuration() time.Duration {
	if p.PingInterval <= 0 {
		return constants.DefaultPingInterval
	}
	return time.Duration(p.PingInterval) * time.Millisecond
}

// PingTimeoutDuration returns the announced ping timeout or the protocol default.
func (p OpenPayload) PingTimeoutDuration() time.Duration {
	if p.PingTimeout <= 0 {
		return constants.DefaultPingTimeout
	}
	return time.Duration(p.PingTimeout) * time.Millisecond
}

// DefaultOpenPayload is assumed until the server's OPEN frame arrives.
func DefaultOpenPayload() OpenPayload {
	return OpenPayload{
		PingInterval: int(constants.DefaultPingInterval / time.Millisecond),
		PingTimeout:  int(constants.DefaultPingTimeout / time.Millisecond),
	}
}

// DeviceStatusEvent is the payload of a device/status event.
type DeviceStatusEvent struct {
	Serial string `json:"serial"`
	Status struct {
		Gate  string `json:"gate"`
		Relay string `json:"relay"`
	} `json:"status"`
}

// Decode classifies a raw text frame. Only an empty frame or one without a
// numeric type prefix is an error; known but unused kinds decode normally and
// the payload is not inspected.
func Decode(raw string) (Frame, error) {
	if raw == "" {
		return Frame{}, errors.ErrMalformedFrame(raw, "empty frame")
	}
	c := raw[0]
	if c < '0' || c > '9' {
		return Frame{}, errors.ErrMalformedFrame(raw, "missing numeric type prefix")
	}

	engineType := int(c - '0')
	if engineType > int(FrameNoop) {
		return Frame{Kind: FrameUnknown, Payload: raw[1:], Raw: raw}, nil
	}

	if FrameKind(engineType) != FrameMessage {
		return Frame{Kind: FrameKind(engineType), Payload: raw[1:], Raw: raw}, nil
	}

	// A bare "4" is an empty Engine.IO message.
	if len(raw) == 1 {
		return Frame{Kind: FrameMessage, Raw: raw}, nil
	}
	kind, ok := socketKinds[raw[1]]
	if !ok {
		return Frame{Kind: FrameMessage, Payload: raw[1:], Raw: raw}, nil
	}
	return Frame{Kind: kind, Payload: raw[2:], Raw: raw}, nil
}

// DecodeOpen parses the OPEN handshake. Missing or unparsable intervals fall
// back to the protocol defaults.
func DecodeOpen(f Frame) OpenPayload {
	p := DefaultOpenPayload()
	if f.Kind != FrameOpen || f.Payload == "" {
		return p
	}
	var announced OpenPayload
	if err := json.Unmarshal([]byte(f.Payload), &announced); err != nil {
		return p
	}
	if announced.PingInterval > 0 {
		p.PingInterval = announced.PingInterval
	}
	if announced.PingTimeout > 0 {
		p.PingTimeout = announced.PingTimeout
	}
	p.SID = announced.SID
	p.Upgrades = announced.Upgrades
	p.MaxPayload = announced.MaxPayload
	return p
}

// DecodeEvent splits an EVENT frame into its name and raw argument list. An
// optional namespace ("/ns,") and ack id prefix are skipped.
func DecodeEvent(f Frame) (string, []json.RawMessage, error) {
	if f.Kind != FrameEvent {
		return "", nil, errors.ErrMalformedFrame(f.Raw, "not an event frame")
	}
	body := f.Payload
	if strings.HasPrefix(body, "/") {
		i := strings.IndexByte(body, ',')
		if i < 0 {
			return "", nil, errors.ErrMalformedFrame(f.Raw, "namespace without payload")
		}
		body = body[i+1:]
	}
	body = strings.TrimLeft(body, "0123456789")

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return "", nil, errors.ErrMalformedFrame(f.Raw, "event payload is not a JSON array").WithCause(err)
	}
	if len(parts) == 0 {
		return "", nil, errors.ErrMalformedFrame(f.Raw, "event without a name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, errors.ErrMalformedFrame(f.Raw, "event name is not a string").WithCause(err)
	}
	return name, parts[1:], nil
}

// DecodeDeviceStatusEvent extracts a device/status event. Other event names and
// payloads without a serial or status yield ok=false.
func DecodeDeviceStatusEvent(f Frame) (DeviceStatusEvent, bool, error) {
	name, args, err := DecodeEvent(f)
	if err != nil {
		return DeviceStatusEvent{}, false, err
	}
	if name != constants.DeviceStatusEvent || len(args) == 0 {
		return DeviceStatusEvent{}, false, nil
	}

	var evt DeviceStatusEvent
	if err := json.Unmarshal(args[0], &evt); err != nil {
		return DeviceStatusEvent{}, false, errors.ErrMalformedFrame(f.Raw, "device/status payload").WithCause(err)
	}
	if evt.Serial == "" || (evt.Status.Gate == "" && evt.Status.Relay == "") {
		return DeviceStatusEvent{}, false, nil
	}
	return evt, true, nil
}

// EncodeNamespaceConnect builds the namespace join frame, carrying the bearer
// token in the auth payload when one is given.
func EncodeNamespaceConnect(token string) string {
	if token == "" {
		return "40"
	}
	b, _ := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: token})
	return "40" + string(b)
}

// EncodePong builds the keep-alive answer.
func EncodePong() string {
	return "3"
}

// EncodePing builds a client ping.
func EncodePing() string {
	return "2"
}

// EncodeEvent builds an EVENT frame.
func EncodeEvent(name string, args ...interface{}) (string, error) {
	parts := make([]interface{}, 0, len(args)+1)
	parts = append(parts, name)
	parts = append(parts, args...)
	b, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return "42" + string(b), nil
}
