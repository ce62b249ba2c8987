// Package contatto is a Go client for the HTTP API of a running Contatto
// bridge.
package contatto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx answer from the bridge.
type APIError struct {
	Status      int
	Code        string
	Message     string
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("bridge returned %d %s: %s", e.Status, e.Code, e.Message)
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

// Unwrap maps well-known statuses to sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Status is the reconciled state of one device.
type Status struct {
	Serial     string    `json:"serial"`
	Gate       string    `json:"gate"`
	Relay      string    `json:"relay"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// Activity is the most recent action on a device.
type Activity struct {
	Serial     string    `json:"serial"`
	LastAction time.Time `json:"last_action"`
	LastUser   string    `json:"last_user"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Device is a device with its status.
type Device struct {
	Serial       string    `json:"serial"`
	DisplayName  string    `json:"display_name"`
	HasGate      bool      `json:"has_gate"`
	HasRelay     bool      `json:"has_relay"`
	Favorite     bool      `json:"favorite"`
	Notification bool      `json:"notification"`
	Firmware     string    `json:"firmware,omitempty"`
	Visible      bool      `json:"visible"`
	Status       Status    `json:"status"`
	Activity     *Activity `json:"activity,omitempty"`
}

// StatusChange is one accepted status transition.
type StatusChange struct {
	Previous Status `json:"previous"`
	Current  Status `json:"current"`
}

// Connection describes the bridge's real-time link.
type Connection struct {
	Phase          string    `json:"phase"`
	ConnectionID   string    `json:"connection_id,omitempty"`
	RetryCount     int       `json:"retry_count"`
	LastConnected  time.Time `json:"last_connected,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	PendingReauth  bool      `json:"pending_reauth"`
	BackoffSeconds float64   `json:"backoff_seconds"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
}

// RelayDuration is the relay mode of a device.
type RelayDuration struct {
	Serial     string `json:"serial"`
	DurationMS int    `json:"duration_ms"`
	Mode       string `json:"mode"`
}

// Settings is a partial settings update. Nil fields are left unchanged.
type Settings struct {
	GateName     *string `json:"gate_name,omitempty"`
	GateShow     *bool   `json:"gate_show,omitempty"`
	RelayName    *string `json:"relay_name,omitempty"`
	RelayShow    *bool   `json:"relay_show,omitempty"`
	Favorite     *bool   `json:"favorite,omitempty"`
	Notification *bool   `json:"notification,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code        string            `json:"code"`
		Message     string            `json:"message"`
		Description string            `json:"description"`
		Details     map[string]string `json:"details"`
	} `json:"error"`
}

// Client talks to one bridge. Reads are retried; commands are sent once.
type Client struct {
	baseURL *url.URL
	reads   *retryablehttp.Client
	writes  *http.Client
	stream  *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.reads.HTTPClient = hc
		c.writes = hc
		c.stream = &http.Client{Transport: hc.Transport}
	}
}

// WithRetries sets how many times a failed read is retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.reads.RetryMax = n }
}

// NewClient creates a client for the bridge at baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bridge url %q", baseURL)
	}

	reads := retryablehttp.NewClient()
	reads.Logger = nil
	reads.RetryMax = 3
	reads.RetryWaitMin = 200 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler
	reads.HTTPClient = &http.Client{Timeout: 15 * time.Second}

	c := &Client{
		baseURL: u,
		reads:   reads,
		writes:  &http.Client{Timeout: 15 * time.Second},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Devices lists devices. all includes devices no longer on the account.
func (c *Client) Devices(ctx context.Context, all bool) ([]Device, error) {
	q := url.Values{}
	if all {
		q.Set("all", "true")
	}
	var out []Device
	err := c.get(ctx, "/api/v1/devices", q, &out)
	return out, err
}

// Device returns one device.
func (c *Client) Device(ctx context.Context, serial string) (Device, error) {
	var out Device
	err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(serial), nil, &out)
	return out, err
}

// Status returns the reconciled status of one device.
func (c *Client) Status(ctx context.Context, serial string) (Status, error) {
	var out Status
	err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(serial)+"/status", nil, &out)
	return out, err
}

// Activity returns the most recent action on a device.
func (c *Client) Activity(ctx context.Context, serial string) (Activity, error) {
	var out Activity
	err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(serial)+"/activity", nil, &out)
	return out, err
}

// History returns up to limit recorded statuses, newest first.
func (c *Client) History(ctx context.Context, serial string, limit int) ([]Status, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Status
	err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(serial)+"/history", q, &out)
	return out, err
}

// Control triggers the gate or relay output of a device.
func (c *Client) Control(ctx context.Context, serial, hardware string) error {
	return c.send(ctx, http.MethodPost, "/api/v1/devices/"+url.PathEscape(serial)+"/control",
		map[string]string{"hardware": hardware}, nil)
}

// RelayDuration returns the relay mode of a device.
func (c *Client) RelayDuration(ctx context.Context, serial string) (RelayDuration, error) {
	var out RelayDuration
	err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(serial)+"/relay-duration", nil, &out)
	return out, err
}

// SetRelayDuration sets the relay mode: -1 toggles, 1..30000 pulses.
func (c *Client) SetRelayDuration(ctx context.Context, serial string, ms int) (RelayDuration, error) {
	var out RelayDuration
	err := c.send(ctx, http.MethodPut, "/api/v1/devices/"+url.PathEscape(serial)+"/relay-duration",
		map[string]int{"duration_ms": ms}, &out)
	return out, err
}

// UpdateSettings changes names, visibility and flags of a device.
func (c *Client) UpdateSettings(ctx context.Context, serial string, s Settings) error {
	return c.send(ctx, http.MethodPatch, "/api/v1/devices/"+url.PathEscape(serial)+"/settings", s, nil)
}

// Resync drops the held status of serial, or of every device when empty,
// and asks the bridge to poll.
func (c *Client) Resync(ctx context.Context, serial string) error {
	var body interface{}
	if serial != "" {
		body = map[string]string{"serial": serial}
	}
	return c.send(ctx, http.MethodPost, "/api/v1/devices/resync", body, nil)
}

// Connection returns the state of the real-time link.
func (c *Client) Connection(ctx context.Context) (Connection, error) {
	var out Connection
	err := c.get(ctx, "/api/v1/connection", nil, &out)
	return out, err
}

// Reconnect drops the real-time link so it is re-established.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/v1/connection/reconnect", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.reads.Do(req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.writes.Do(req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode bridge response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Description = env.Error.Description
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
