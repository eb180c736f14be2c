package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ServiceName    = "inventory-ledger"
	ServiceVersion = "0.1.0"
)

const (
	BrokerKafka = "kafka"
	BrokerRedis = "redis"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"   envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR"   envDefault:":9090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	DBDriver       string `env:"DB_DRIVER"         envDefault:"sqlite"`
	DBDSN          string `env:"DB_DSN"            envDefault:"inventory.db"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`

	Broker           string        `env:"BROKER"             envDefault:"redis"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS"      envDefault:"localhost:9092" envSeparator:","`
	RedisAddr        string        `env:"REDIS_ADDR"         envDefault:"localhost:6379"`
	DeliveryDedupTTL time.Duration `env:"DELIVERY_DEDUP_TTL" envDefault:"24h"`

	LowStockDefaultThreshold int           `env:"LOW_STOCK_DEFAULT_THRESHOLD" envDefault:"10"`
	LedgerMaxAttempts        int           `env:"LEDGER_MAX_ATTEMPTS"         envDefault:"5"`
	LedgerOpTimeout          time.Duration `env:"LEDGER_OP_TIMEOUT"           envDefault:"5s"`

	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL"   envDefault:"1s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE"      envDefault:"100"`
	OutboxRetryBackoff  time.Duration `env:"OUTBOX_RETRY_BACKOFF"   envDefault:"1s"`
	OutboxRetryMaxDelay time.Duration `env:"OUTBOX_RETRY_MAX_DELAY" envDefault:"5m"`

	OtelEndpoint   string `env:"OTEL_ENDPOINT"`
	OtelAuthHeader string `env:"OTEL_AUTH_HEADER"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql, postgres or sqlite, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}

	switch c.Broker {
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when BROKER=kafka")
		}
	case BrokerRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when BROKER=redis")
		}
	default:
		return fmt.Errorf("BROKER must be kafka or redis, got %q", c.Broker)
	}

	if c.LowStockDefaultThreshold < 0 {
		return errors.New("LOW_STOCK_DEFAULT_THRESHOLD must not be negative")
	}
	if c.LedgerMaxAttempts < 1 {
		return errors.New("LEDGER_MAX_ATTEMPTS must be at least 1")
	}
	if c.OutboxBatchSize < 1 {
		return errors.New("OUTBOX_BATCH_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}
