package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/eventgate/internal/domain"
)

const (
	defaultPollFetchesTimeout = 15 * time.Second
)

// task is one poll's worth of records. The raw records travel with the
// decoded events so offsets can be committed once the store has them;
// undecodable records are carried separately for the dead letter topic.
type task struct {
	events  []domain.Event
	records []*kgo.Record
	poison  []*kgo.Record
}

type Consumer struct {
	client             *kgo.Client
	pollFetchesTimeout time.Duration
	errChan            chan<- error
}

func NewConsumer(cfg Config, errChan chan<- error) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kgo new client: %w", err)
	}

	ctx, cansel := context.WithTimeout(context.Background(), time.Second*15)
	defer cansel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	consumer := &Consumer{
		client:  client,
		errChan: errChan,
	}

	if cfg.PollFetchesTimeout == 0 {
		consumer.pollFetchesTimeout = defaultPollFetchesTimeout
	} else {
		consumer.pollFetchesTimeout = cfg.PollFetchesTimeout
	}

	return consumer, nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

func (c *Consumer) Consume(ctx context.Context, tasks chan<- task, done <-chan struct{}) {
	c.consume(ctx, done, func(fetches kgo.Fetches) error {
		var t task
		for iter := fetches.RecordIter(); !iter.Done(); {
			record := iter.Next()

			var ev domain.Event
			if err := json.Unmarshal(record.Value, &ev); err != nil {
				log.Error().Str("record", string(record.Value)).Err(err).Msg("Consume: Unmarshal event value.")
				t.poison = append(t.poison, record)
				continue
			}
			t.events = append(t.events, ev)
			t.records = append(t.records, record)
		}

		if len(t.events) == 0 && len(t.poison) == 0 {
			return nil
		}
		select {
		case tasks <- t:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		}
	})
}

// Commit marks records as processed. Safe to call from several workers at
// once.
func (c *Consumer) Commit(ctx context.Context, records ...*kgo.Record) error {
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// Produce publishes records to whatever topic each record names. The relay
// uses it for the dead letter topic.
func (c *Consumer) Produce(ctx context.Context, records ...*kgo.Record) error {
	res := c.client.ProduceSync(ctx, records...)
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("produce sync: %w", err)
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context, done <-chan struct{}, fn func(fetches kgo.Fetches) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		default:
			fetchCtx, cancel := context.WithTimeout(ctx, c.pollFetchesTimeout)
			fetches := c.client.PollFetches(fetchCtx)
			cancel()

			if fetches.IsClientClosed() {
				c.errChan <- errors.New("client closed")
				return
			}

			if err := fetches.Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}

				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}

				c.errChan <- fmt.Errorf("stream poll fetches: %w", err)
				continue
			}

			if err := fn(fetches); err != nil {
				continue
			}
		}
	}
}
