package config

import (
	"fmt"
	"time"

	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/utils"
)

// Config holds the application's configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Contatto    ContattoConfig    `mapstructure:"contatto"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Polling     PollingConfig     `mapstructure:"polling"`
	Token       TokenConfig       `mapstructure:"token"`
	History     HistoryConfig     `mapstructure:"history"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Environment     string        `mapstructure:"environment" validate:"oneof=development staging production"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ContattoConfig points at the vendor cloud.
type ContattoConfig struct {
	AuthURL        string        `mapstructure:"auth_url" validate:"required,url"`
	RefreshURL     string        `mapstructure:"refresh_url" validate:"required,url"`
	APIBaseURL     string        `mapstructure:"api_base_url" validate:"required,url"`
	RealtimeURL    string        `mapstructure:"realtime_url" validate:"required,url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=1s"`
}

// CredentialsConfig selects where the account email and password come from.
type CredentialsConfig struct {
	Source    string `mapstructure:"source" validate:"oneof=static vault"`
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	VaultPath string `mapstructure:"vault_path"`
}

// RealtimeConfig tunes the push connection and its reconnect policy.
type RealtimeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	FixedAttempts  int           `mapstructure:"fixed_attempts" validate:"min=0"`
	DoublingSteps  int           `mapstructure:"doubling_steps" validate:"min=0"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	StableDuration time.Duration `mapstructure:"stable_duration"`
}

type PollingConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	ConnectedInterval time.Duration `mapstructure:"connected_interval"`
	ReportPageSize    int           `mapstructure:"report_page_size" validate:"min=1,max=100"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1"`
}

// TokenConfig selects the token repository and renewal timing.
type TokenConfig struct {
	Store       string        `mapstructure:"store" validate:"oneof=memory redis postgres sqlite"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	FallbackTTL time.Duration `mapstructure:"fallback_ttl"`
	ExpirySkew  time.Duration `mapstructure:"expiry_skew"`
}

// HistoryConfig controls the device status history recorder.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Limit   int    `mapstructure:"limit" validate:"min=1"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

// KafkaConfig configures the status-change publisher.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RateLimitConfig throttles device commands sent through the HTTP API.
// Each device serial gets its own bucket.
type RateLimitConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend" validate:"oneof=memory redis"`
	Burst     int    `mapstructure:"burst" validate:"min=1"`
	PerMinute int    `mapstructure:"per_minute" validate:"min=1"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	switch c.Credentials.Source {
	case "static":
		if c.Credentials.Email == "" || c.Credentials.Password == "" {
			return errors.ErrInvalidArgument("credentials.email and credentials.password are required for the static source")
		}
	case "vault":
		if c.Vault.Address == "" || c.Credentials.VaultPath == "" {
			return errors.ErrInvalidArgument("vault.address and credentials.vault_path are required for the vault source")
		}
	}

	if c.Token.Store == "redis" && c.Redis.Address == "" {
		return errors.ErrInvalidArgument("redis.address is required for the redis token store")
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Redis.Address == "" {
		return errors.ErrInvalidArgument("redis.address is required for the redis rate limit backend")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.ErrInvalidArgument("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return errors.ErrInvalidArgument("tracing.jaeger_endpoint is required when tracing is enabled")
	}
	if c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return errors.ErrInvalidArgument("realtime.max_delay must not be below realtime.base_delay")
	}
	return nil
}
