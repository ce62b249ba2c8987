package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. CONTATTO_CREDENTIALS_EMAIL.
const EnvPrefix = "CONTATTO"

// Loader reads the configuration and keeps the viper instance for hot reload.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty configFile searches /etc/contatto/ and the working directory.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/contatto/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(configFile string) (*Config, error) {
	return NewLoader(configFile).Load()
}

// Load reads, unmarshals and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidArgument("failed to read config").WithCause(err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidArgument("failed to unmarshal config").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// WatchLogLevel applies log.level changes from the config file without a restart.
// It does nothing when no config file was read.
func (l *Loader) WatchLogLevel(log logger.Logger, apply func(constants.LogLevel)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := constants.LogLevel(strings.ToLower(l.v.GetString("log.level")))
		switch level {
		case constants.LogLevelDebug, constants.LogLevelInfo, constants.LogLevelWarn, constants.LogLevelError:
			apply(level)
			log.Info(context.Background(), "Log level reloaded",
				logger.String("file", e.Name),
				logger.String("level", string(level)),
			)
		default:
			log.Warn(context.Background(), "Ignoring invalid log level from config reload",
				logger.String("level", string(level)),
			)
		}
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", constants.DefaultHTTPPort)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", constants.DefaultShutdownTimeout)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("contatto.auth_url", constants.DefaultAuthURL)
	v.SetDefault("contatto.refresh_url", constants.DefaultRefreshURL)
	v.SetDefault("contatto.api_base_url", constants.DefaultAPIBaseURL)
	v.SetDefault("contatto.realtime_url", constants.DefaultRealtimeURL)
	v.SetDefault("contatto.user_agent", constants.DefaultUserAgent)
	v.SetDefault("contatto.request_timeout", constants.DefaultAPITimeout)
	v.SetDefault("contatto.connect_timeout", constants.DefaultConnectTimeout)

	v.SetDefault("credentials.source", "static")
	v.SetDefault("credentials.email", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("credentials.vault_path", "contatto/account")

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.base_delay", constants.ReconnectBaseDelay)
	v.SetDefault("realtime.fixed_attempts", constants.ReconnectFixedAttempts)
	v.SetDefault("realtime.doubling_steps", constants.ReconnectDoublingSteps)
	v.SetDefault("realtime.max_delay", constants.ReconnectMaxDelay)
	v.SetDefault("realtime.stable_duration", constants.ReconnectStableDuration)

	v.SetDefault("polling.interval", constants.DefaultPollInterval)
	v.SetDefault("polling.connected_interval", constants.DefaultConnectedPollInterval)
	v.SetDefault("polling.report_page_size", constants.DefaultReportPageSize)
	v.SetDefault("polling.concurrency", constants.DefaultPollConcurrency)

	v.SetDefault("token.store", "memory")
	v.SetDefault("token.key_prefix", "contatto:token:")
	v.SetDefault("token.fallback_ttl", constants.AccessTokenFallbackTTL)
	v.SetDefault("token.expiry_skew", constants.TokenExpirySkew)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.limit", 100)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "contatto")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "contatto")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "contatto.db")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.max_conn_idle_time", "5m")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 5)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "contatto.device-status")
	v.SetDefault("kafka.batch_timeout", "100ms")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.per_minute", 30)
	v.SetDefault("rate_limit.key_prefix", "contatto:ratelimit")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "")
	v.SetDefault("tracing.service_name", "contatto-bridge")
	v.SetDefault("tracing.environment", "production")
	v.SetDefault("tracing.sampling_rate", 1.0)
}
