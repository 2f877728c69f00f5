package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	API            APIConfig            `mapstructure:"api"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig configures service-to-service tokens for internal endpoints.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// APIConfig holds credentials for the reconciliation upload surface.
// UploadKeyHash is an Argon2id hash of the accepted API key.
type APIConfig struct {
	UploadKeyHash string `mapstructure:"upload_key_hash"`
}

// PaymentConfig scopes the intake validation rules.
type PaymentConfig struct {
	SupportedCurrencies []string `mapstructure:"supported_currencies"`
}

// CurrencySupported reports whether the currency is in the configured set.
func (p PaymentConfig) CurrencySupported(currency string) bool {
	for _, c := range p.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// GatewayConfig drives the stubbed gateway decision point.
// Mode: "approve" (always succeed), "decline" (always fail), or "amount"
// (decline when the minor-unit amount ends in DeclineSuffix).
type GatewayConfig struct {
	Mode          string `mapstructure:"mode"`
	DeclineSuffix int64  `mapstructure:"decline_suffix"`
}

// WebhookConfig covers both inbound verification and outbound delivery.
type WebhookConfig struct {
	Secret         string        `mapstructure:"secret"`
	DestinationURL string        `mapstructure:"destination_url"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RetryBatchSize int           `mapstructure:"retry_batch_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// IdempotencyConfig holds the ledger policy knobs.
// LockTTL is the staleness threshold after which a held lock may be forcibly
// taken over; CacheTTL bounds the Redis replay fast path.
type IdempotencyConfig struct {
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RetryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type ReconciliationConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PAYHUB_.
// Nested keys use underscore: PAYHUB_DATABASE_HOST, PAYHUB_WEBHOOK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payhub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "payhub")
	v.SetDefault("api.upload_key_hash", "")
	v.SetDefault("payment.supported_currencies", []string{"USD", "EUR", "GBP"})
	v.SetDefault("gateway.mode", "amount")
	v.SetDefault("gateway.decline_suffix", 99)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.destination_url", "")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.base_delay", "60s")
	v.SetDefault("webhook.max_delay", "1h")
	v.SetDefault("webhook.retry_batch_size", 50)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("idempotency.lock_ttl", "15m")
	v.SetDefault("idempotency.cache_ttl", "24h")
	v.SetDefault("retry.interval", "60s")
	v.SetDefault("retry.lease_ttl", "55s")
	v.SetDefault("reconciliation.interval", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PAYHUB_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PAYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
