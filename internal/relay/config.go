package relay

import "time"

type Config struct {
	Enabled            bool          `mapstructure:"enabled"`
	Brokers            []string      `mapstructure:"brokers"`
	Topic              string        `mapstructure:"topic"`
	DLQTopic           string        `mapstructure:"dlq_topic"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	NumWorkers         int           `mapstructure:"num_workers"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	PollFetchesTimeout time.Duration `mapstructure:"poll_fetches_timeout"`
}
