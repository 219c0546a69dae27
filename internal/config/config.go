package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leshachaplin/eventgate/internal/buffer"
	"github.com/leshachaplin/eventgate/internal/relay"
	"github.com/leshachaplin/eventgate/internal/storage/event/clickhouse"
	"github.com/leshachaplin/eventgate/internal/storage/event/kafka"
	"github.com/leshachaplin/eventgate/internal/storage/event/postgres"
)

const envPrefix = "EVENTGATE"

// Storage backends.
const (
	BackendClickhouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendKafka      = "kafka"
)

type StorageConfig struct {
	Backend    string            `mapstructure:"backend"`
	Clickhouse clickhouse.Config `mapstructure:"clickhouse"`
	Postgres   postgres.Config   `mapstructure:"postgres"`
	Kafka      kafka.Config      `mapstructure:"kafka"`
}

// Config is the main config for the application
type Config struct {
	LogLevel     string        `mapstructure:"log_level"`
	Addr         string        `mapstructure:"addr"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	Buffer       buffer.Config `mapstructure:"buffer"`
	Storage      StorageConfig `mapstructure:"storage"`
	Relay        relay.Config  `mapstructure:"relay"`
}

// Load builds the config from defaults, an optional file named by
// EVENTGATE_CONFIG, and EVENTGATE_* environment variables, in that order of
// precedence (env wins).
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "INFO")
	v.SetDefault("addr", ":8080")
	v.SetDefault("drain_timeout", "30s")

	v.SetDefault("buffer.max_batch_size", 500)
	v.SetDefault("buffer.flush_interval", "2s")
	v.SetDefault("buffer.backpressure_threshold", 10000)
	v.SetDefault("buffer.max_concurrent_flushes", 3)
	v.SetDefault("buffer.flush_timeout", "30s")

	v.SetDefault("storage.backend", BackendClickhouse)
	v.SetDefault("storage.clickhouse.addr", "localhost:9000")
	v.SetDefault("storage.clickhouse.db", "eventgate")
	v.SetDefault("storage.clickhouse.username", "default")
	v.SetDefault("storage.clickhouse.password", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("storage.kafka.topic", "events")

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.brokers", []string{"localhost:9092"})
	v.SetDefault("relay.topic", "events")
	v.SetDefault("relay.dlq_topic", "events-dead")
	v.SetDefault("relay.consumer_group", "eventgate-relay")
	v.SetDefault("relay.num_workers", 4)
	v.SetDefault("relay.retry_attempts", 5)
	v.SetDefault("relay.retry_delay", "1s")
	v.SetDefault("relay.poll_fetches_timeout", "15s")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	switch c.Storage.Backend {
	case BackendClickhouse:
	case BackendKafka:
		if len(c.Storage.Kafka.Brokers) == 0 || c.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.brokers and storage.kafka.topic are required for the %s backend", BackendKafka)
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Relay.Enabled && c.Storage.Backend != BackendKafka {
		return fmt.Errorf("relay requires the %s storage backend", BackendKafka)
	}
	return nil
}
