package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for the ledger service. Values come
// from config.yaml with LEDGER_API_* environment overrides.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DSN returns the sqlite connection string. Transactions open with an
// immediate write lock so concurrent reserve calls serialize at BEGIN
// instead of failing mid-transaction.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", d.Path)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis backend is configured. Without one the
// service falls back to the in-process idempotency guard, which is only
// safe for single-instance deployments.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type LedgerConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RetentionYears int           `mapstructure:"retention_years"`
	HistoryPage    int           `mapstructure:"history_page"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type BrokerConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads configuration from the given path (or the working directory
// when empty) and applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGER_API")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover local runs.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.path", "ledger.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.topic", "order-events")
	v.SetDefault("ledger.cache_ttl", 30*time.Second)
	v.SetDefault("ledger.retention_years", 7)
	v.SetDefault("ledger.history_page", 50)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("broker.call_timeout", 10*time.Second)
	v.SetDefault("auth.jwt_secret", "ledger-secret-key")
}
