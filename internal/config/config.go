package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration for the gateway daemon.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Gate      GateConfig      `mapstructure:"gate"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	API       APIConfig       `mapstructure:"api"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains the Postgres Decision Chain/profile store settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig backs the idempotency cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig is used only for EmergencyController state-transition broadcast.
type NATSConfig struct {
	URL             string `mapstructure:"url"`
	EnableJetStream bool   `mapstructure:"enable_jetstream"`
}

// VaultConfig locates the secrets backend profiles' broker credentials are
// pulled from via internal/secrets.
type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

// TelegramConfig drives the best-effort emergency alert channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RiskConfig holds RiskSizer's tunables (spec §9's risk-named options).
type RiskConfig struct {
	MaxPositions            int     `mapstructure:"max_positions"`
	MaxRiskPerTradeFraction float64 `mapstructure:"max_risk_per_trade_fraction"`
	MaxTotalRiskFraction    float64 `mapstructure:"max_total_risk_fraction"`
	MaxCVaRFraction         float64 `mapstructure:"max_cvar_fraction"`
	DDReduceThreshold       float64 `mapstructure:"dd_reduce_threshold"`
	DDHaltThreshold         float64 `mapstructure:"dd_halt_threshold"`
	KellyScale              float64 `mapstructure:"kelly_scale"`
	KellyMinConfidence      float64 `mapstructure:"kelly_min_confidence"`
	MaxCorrelation          float64 `mapstructure:"max_correlation"`
}

// GateConfig holds SignalGate's tunables.
type GateConfig struct {
	SignalRatePerMinute int     `mapstructure:"signal_rate_limit_per_minute"`
	GlobalRateLimit     int     `mapstructure:"global_signal_rate_limit"`
	SignalTimeoutS      int     `mapstructure:"signal_timeout_s"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
}

// BrokerConfig holds BrokerPool's heartbeat/reconnect tunables.
type BrokerConfig struct {
	HeartbeatS            int `mapstructure:"broker_heartbeat_s"`
	ReconnectMaxAttempts  int `mapstructure:"broker_reconnect_max_attempts"`
	AcquireTimeoutS       int `mapstructure:"broker_acquire_timeout_s"`
}

// EmergencyConfig holds EmergencyController's automatic trigger thresholds.
type EmergencyConfig struct {
	FlashCrashPct        float64  `mapstructure:"flash_crash_pct"`
	FlashCrashWindowS    int      `mapstructure:"flash_crash_window_s"`
	VolatilityMultiplier float64  `mapstructure:"vol_multiplier"`
	SpreadMultiplier     float64  `mapstructure:"spread_multiplier"`
	FeedURL              string   `mapstructure:"feed_url"`
	MonitoredSymbols     []string `mapstructure:"monitored_symbols"`
}

// FlashCrashWindow converts the configured seconds into a time.Duration for
// MarketMonitor's rolling window.
func (c *EmergencyConfig) FlashCrashWindow() time.Duration {
	return time.Duration(c.FlashCrashWindowS) * time.Second
}

// APIConfig contains the listen settings of the metrics/health HTTP server;
// the gateway has no REST API. cmd/gatewayd uses only Port.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GATEWAY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gateway")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "gateway")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enable_jetstream", false)

	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret/gateway")

	v.SetDefault("telegram.enabled", false)

	// Risk defaults, per spec §9's named option defaults.
	v.SetDefault("risk.max_positions", 2)
	v.SetDefault("risk.max_risk_per_trade_fraction", 0.02)
	v.SetDefault("risk.max_total_risk_fraction", 0.06)
	v.SetDefault("risk.max_cvar_fraction", 0.08)
	v.SetDefault("risk.dd_reduce_threshold", 0.10)
	v.SetDefault("risk.dd_halt_threshold", 0.15)
	v.SetDefault("risk.kelly_scale", 0.15)
	v.SetDefault("risk.kelly_min_confidence", 0.55)
	v.SetDefault("risk.max_correlation", 0.80)

	v.SetDefault("gate.signal_rate_limit_per_minute", 10)
	v.SetDefault("gate.global_signal_rate_limit", 200)
	v.SetDefault("gate.signal_timeout_s", 30)
	v.SetDefault("gate.min_confidence", 0.5)

	v.SetDefault("broker.broker_heartbeat_s", 15)
	v.SetDefault("broker.broker_reconnect_max_attempts", 5)
	v.SetDefault("broker.broker_acquire_timeout_s", 5)

	v.SetDefault("emergency.flash_crash_pct", 0.02)
	v.SetDefault("emergency.flash_crash_window_s", 60)
	v.SetDefault("emergency.vol_multiplier", 3.0)
	v.SetDefault("emergency.spread_multiplier", 5.0)
	v.SetDefault("emergency.feed_url", "")
	v.SetDefault("emergency.monitored_symbols", []string{})

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the host:port listen address built from APIConfig.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SignalTimeout returns the per-signal pipeline timeout as a time.Duration.
func (c *GateConfig) SignalTimeout() time.Duration {
	return time.Duration(c.SignalTimeoutS) * time.Second
}

// Heartbeat returns the broker heartbeat interval as a time.Duration.
func (c *BrokerConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatS) * time.Second
}

// AcquireTimeout returns the session acquire timeout as a time.Duration.
func (c *BrokerConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutS) * time.Second
}
