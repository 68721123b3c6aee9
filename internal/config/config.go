// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Reorg     ReorgConfig     `mapstructure:"reorg"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Chains    []ChainConfig   `mapstructure:"chains"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
}

// ProviderConfig holds endpoint pool settings shared across chains.
type ProviderConfig struct {
	HealthInterval     time.Duration `mapstructure:"health_interval"`
	DegradedThreshold  int           `mapstructure:"degraded_threshold"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries  int           `mapstructure:"default_max_retries"`
}

// OracleConfig holds gas price oracle settings.
type OracleConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	HistorySize     int           `mapstructure:"history_size"`
}

// ReorgConfig holds reorg detector settings.
type ReorgConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TrackWindow  int           `mapstructure:"track_window"`
	HistorySize  int           `mapstructure:"history_size"`
	MaxWalkback  int           `mapstructure:"max_walkback"`
}

// StreamingConfig holds subscription stream settings.
type StreamingConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RateLimitConfig holds the per-client fixed-window limits.
type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// ChainConfig holds per-chain endpoint configuration.
type ChainConfig struct {
	ChainID   uint64           `mapstructure:"chain_id"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

// ID returns the chain id as a chain.ID.
func (c *ChainConfig) ID() chain.ID {
	return chain.ID(c.ChainID)
}

// EndpointConfig describes one upstream RPC endpoint.
type EndpointConfig struct {
	ID           string        `mapstructure:"id"`
	ProviderType string        `mapstructure:"provider_type"`
	HTTPURL      string        `mapstructure:"http_url"`
	WSURL        string        `mapstructure:"ws_url"`
	APIKey       string        `mapstructure:"api_key"`
	Priority     int           `mapstructure:"priority"`
	Weight       int           `mapstructure:"weight"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    int           `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	IsActive     bool          `mapstructure:"is_active"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("GW")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "GW_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "GW_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "GW_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("app.health_port", "GW_HEALTH_PORT")

	// Provider pool
	v.BindEnv("provider.health_interval", "GW_PROVIDER_HEALTH_INTERVAL")
	v.BindEnv("provider.default_timeout", "GW_PROVIDER_TIMEOUT")

	// Oracle
	v.BindEnv("oracle.refresh_interval", "GW_ORACLE_REFRESH_INTERVAL")

	// Rate limit
	v.BindEnv("rate_limit.window", "GW_RATE_LIMIT_WINDOW")
	v.BindEnv("rate_limit.max", "GW_RATE_LIMIT_MAX")

	// Telemetry
	v.BindEnv("telemetry.enabled", "GW_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "GW_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "GW_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "chain-gateway")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8081)

	// Provider defaults
	v.SetDefault("provider.health_interval", "30s")
	v.SetDefault("provider.degraded_threshold", 3)
	v.SetDefault("provider.unhealthy_threshold", 5)
	v.SetDefault("provider.default_timeout", "10s")
	v.SetDefault("provider.default_max_retries", 3)

	// Oracle defaults
	v.SetDefault("oracle.refresh_interval", "15s")
	v.SetDefault("oracle.history_size", 100)

	// Reorg defaults
	v.SetDefault("reorg.poll_interval", "12s")
	v.SetDefault("reorg.track_window", 64)
	v.SetDefault("reorg.history_size", 50)
	v.SetDefault("reorg.max_walkback", 32)

	// Streaming defaults
	v.SetDefault("streaming.buffer_size", 64)
	v.SetDefault("streaming.reconnect_delay", "5s")

	// Rate limit defaults
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max", 100)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "chain-gateway")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Oracle.HistorySize <= 0 {
		return fmt.Errorf("oracle.history_size must be positive")
	}
	if c.Reorg.HistorySize <= 0 {
		return fmt.Errorf("reorg.history_size must be positive")
	}

	registry := chain.Default()
	for i, cc := range c.Chains {
		if !registry.Has(cc.ID()) {
			return fmt.Errorf("chains[%d]: unsupported chain id %d", i, cc.ChainID)
		}
		if len(cc.Endpoints) == 0 {
			return fmt.Errorf("chains[%d]: at least one endpoint is required", i)
		}
		for j, ep := range cc.Endpoints {
			if ep.ID == "" {
				return fmt.Errorf("chains[%d].endpoints[%d]: id is required", i, j)
			}
			if ep.HTTPURL == "" {
				return fmt.Errorf("chains[%d].endpoints[%d]: http_url is required", i, j)
			}
		}
	}
	return nil
}

// EndpointsFor returns the endpoint configs for the given chain.
func (c *Config) EndpointsFor(id chain.ID) []EndpointConfig {
	for _, cc := range c.Chains {
		if cc.ID() == id {
			return cc.Endpoints
		}
	}
	return nil
}
