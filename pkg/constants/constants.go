// Package constants defines system-wide constants for the Contatto bridge.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Vendor API Constants
// ================================================================================

const (
	// DefaultAuthURL is the password login endpoint of the vendor's auth service
	DefaultAuthURL = "https://auth.ppacontatto.com.br/login/password"

	// DefaultRefreshURL is the refresh-token exchange endpoint
	DefaultRefreshURL = "https://auth.ppacontatto.com.br/login/refresh-token"

	// DefaultAPIBaseURL is the base URL of the device API
	DefaultAPIBaseURL = "https://api.ppacontatto.com.br"

	// DefaultRealtimeURL is the real-time endpoint (Engine.IO over WebSocket)
	DefaultRealtimeURL = "wss://api.ppacontatto.com.br/socket.io/"

	// DefaultUserAgent mimics the vendor's mobile client
	DefaultUserAgent = "Contatto/1 CFNetwork/3826.500.131 Darwin/24.5.0"

	// DefaultAPITimeout is the total timeout for a single vendor API call
	DefaultAPITimeout = 30 * time.Second

	// DefaultConnectTimeout bounds dialing the vendor endpoints
	DefaultConnectTimeout = 10 * time.Second
)

// HardwareType selects which output of a controller a command targets.
type HardwareType string

const (
	// HardwareGate is the gate motor output
	HardwareGate HardwareType = "gate"

	// HardwareRelay is the auxiliary relay output (usually a door)
	HardwareRelay HardwareType = "relay"
)

// Valid reports whether h names a controllable output.
func (h HardwareType) Valid() bool {
	return h == HardwareGate || h == HardwareRelay
}

// ================================================================================
// Relay Duration Constants
// ================================================================================

const (
	// RelayDurationToggle configures the relay as an on/off switch
	RelayDurationToggle = -1

	// RelayDurationMinPulse is the shortest momentary pulse in milliseconds
	RelayDurationMinPulse = 1

	// RelayDurationMaxPulse is the longest momentary pulse in milliseconds
	RelayDurationMaxPulse = 30000

	// RelayDurationDefault is assumed when the configuration does not say
	RelayDurationDefault = 1000
)

// ================================================================================
// Real-Time Protocol Constants
// ================================================================================

const (
	// EngineIOVersion is the protocol revision announced in the connection URL
	EngineIOVersion = "4"

	// DefaultPingInterval is used when the OPEN frame omits pingInterval
	DefaultPingInterval = 25000 * time.Millisecond

	// DefaultPingTimeout is used when the OPEN frame omits pingTimeout
	DefaultPingTimeout = 20000 * time.Millisecond

	// DeviceStatusEvent is the only event name consumed from the event stream
	DeviceStatusEvent = "device/status"
)

// ================================================================================
// Reconnect Policy Constants
// ================================================================================

const (
	// ReconnectBaseDelay is the fixed delay used for the first attempts
	ReconnectBaseDelay = 5 * time.Second

	// ReconnectFixedAttempts is how many attempts use the base delay
	ReconnectFixedAttempts = 5

	// ReconnectDoublingSteps is how many attempts double the delay before the cap applies
	ReconnectDoublingSteps = 3

	// ReconnectMaxDelay caps the backoff delay (5 minutes)
	ReconnectMaxDelay = 300 * time.Second

	// ReconnectStableDuration is how long a connection must stay up to reset the retry counter
	ReconnectStableDuration = 5 * time.Minute
)

// ================================================================================
// Polling Constants
// ================================================================================

const (
	// DefaultPollInterval is the fallback polling period while push is unavailable
	DefaultPollInterval = 30 * time.Second

	// DefaultConnectedPollInterval is the health polling period while push is connected
	DefaultConnectedPollInterval = 5 * time.Minute

	// DefaultReportPageSize is how many report rows are fetched per device and cycle
	DefaultReportPageSize = 5

	// DefaultPollConcurrency bounds concurrent per-device report requests
	DefaultPollConcurrency = 4
)

// ================================================================================
// Token Lifetime Constants
// ================================================================================

const (
	// AccessTokenFallbackTTL is assumed when the access token carries no exp claim
	AccessTokenFallbackTTL = 1 * time.Hour

	// TokenExpirySkew renews tokens slightly before they actually expire
	TokenExpirySkew = 30 * time.Second
)

// ================================================================================
// Cache TTL Constants
// ================================================================================

const (
	// DeviceListCacheTTL is the cache lifetime for the vendor device listing
	DeviceListCacheTTL = 1 * time.Minute

	// DeviceConfigCacheTTL is the cache lifetime for a device's configuration
	DeviceConfigCacheTTL = 5 * time.Minute

	// CacheCleanupInterval is how often expired cache entries are purged
	CacheCleanupInterval = 10 * time.Minute
)

// ================================================================================
// HTTP Server Constants
// ================================================================================

const (
	// DefaultHTTPPort is the listen port of the bridge's HTTP API
	DefaultHTTPPort = 8086

	// DefaultShutdownTimeout is the graceful shutdown timeout
	DefaultShutdownTimeout = 15 * time.Second
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyConnectionID is the key for the real-time connection id in context
	ContextKeyConnectionID ContextKey = "connection_id"
)
