package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	DB       string `mapstructure:"db"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Clickhouse struct {
	conn driver.Conn
}

func New(ctx context.Context, cfg Config) (*Clickhouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.DB,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     time.Second * 30,
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Duration(10) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			return nil, fmt.Errorf("clickhouse ping: [%d] %s", exception.Code, exception.Message)
		}
		return nil, err
	}

	return &Clickhouse{
		conn: conn,
	}, nil
}

func (c *Clickhouse) Close() error {
	return c.conn.Close()
}

func (c *Clickhouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Migrate creates the events table. ReplacingMergeTree keyed by the full
// identity tuple folds re-inserted events away at merge time, which is what
// lets a retried batch be written verbatim without double counting.
func (c *Clickhouse) Migrate(ctx context.Context) error {
	return c.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS events
		(
    		event_id    String,
    		user_id     String,
    		session_id  String,
    		event_type  LowCardinality(String),
    		payload     String,
    		occurred_at DateTime64(3, 'UTC'),
    		received_at DateTime64(3, 'UTC')
		) Engine = ReplacingMergeTree
		ORDER BY (user_id, occurred_at, event_id)`)
}
