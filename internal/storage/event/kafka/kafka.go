package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/eventgate/internal/domain"
)

type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Sink publishes flushed batches to a topic, one record per event keyed by
// event id so re-flushed events land in the same partition for downstream
// dedup. It has no read path.
type Sink struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Sink, error) {
	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kgo new client: %w", err)
	}

	if err = client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return &Sink{
		client: client,
		topic:  cfg.Topic,
		logger: logger,
	}, nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// BulkInsert produces the batch synchronously. The broker cannot tell a new
// key from a replayed one, so duplicates are always reported as zero; the
// reading side is expected to dedup on event id.
func (s *Sink) BulkInsert(ctx context.Context, events []domain.Event) (int, int, error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	records := make([]*kgo.Record, 0, len(events))
	for i := range events {
		b, err := json.Marshal(events[i])
		if err != nil {
			return 0, 0, fmt.Errorf("marshal event %s: %w", events[i].EventID, err)
		}
		records = append(records, kgo.KeyStringRecord(events[i].EventID, string(b)))
	}

	res := s.client.ProduceSync(ctx, records...)
	if err := res.FirstErr(); err != nil {
		return 0, 0, fmt.Errorf("produce sync: %w", err)
	}
	return len(events), 0, nil
}
