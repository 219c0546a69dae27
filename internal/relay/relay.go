package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/eventgate/internal/flush"
)

const (
	defaultNumWorkers    = 4
	defaultRetryAttempts = 5
	defaultRetryDelay    = time.Second
)

// Relay drains the event topic into a store. Offsets are committed only
// after the store accepted a batch or the batch was parked on the dead
// letter topic, so a crash replays instead of losing events.
type Relay struct {
	numWorkers    int
	retryAttempts int
	retryDelay    time.Duration
	dlqTopic      string

	sink     flush.Sink
	consumer *Consumer
	tasks    chan task
	doneChan chan struct{}
	start    sync.Once
	stop     sync.Once
	ctx      context.Context
	cancelFn context.CancelFunc
	wg       *sync.WaitGroup
	logger   zerolog.Logger
}

func New(ctx context.Context, cfg Config, consumer *Consumer, sink flush.Sink, logger zerolog.Logger) *Relay {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = defaultNumWorkers
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	c, cancelFn := context.WithCancel(ctx)
	return &Relay{
		numWorkers:    cfg.NumWorkers,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		dlqTopic:      cfg.DLQTopic,
		sink:          sink,
		consumer:      consumer,
		tasks:         make(chan task, cfg.NumWorkers),
		doneChan:      make(chan struct{}),
		ctx:           c,
		cancelFn:      cancelFn,
		wg:            &sync.WaitGroup{},
		logger:        logger,
	}
}

func (r *Relay) Start() {
	r.start.Do(func() {
		for i := 0; i < r.numWorkers; i++ {
			r.wg.Add(1)
			l := r.logger.With().Int("worker", i).Logger()
			go r.work(r.ctx, l)
		}

		go r.consumer.Consume(r.ctx, r.tasks, r.doneChan)
	})
}

func (r *Relay) GracefulStop() {
	r.stop.Do(func() {
		close(r.doneChan)
		r.cancelFn()
		r.wg.Wait()
	})
}

func (r *Relay) work(ctx context.Context, logger zerolog.Logger) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.doneChan:
			return
		case t, ok := <-r.tasks:
			if !ok {
				return
			}
			r.handle(ctx, logger, t)
		}
	}
}

func (r *Relay) handle(ctx context.Context, logger zerolog.Logger, t task) {
	commit := make([]*kgo.Record, 0, len(t.records)+len(t.poison))

	if len(t.poison) > 0 {
		if err := r.toDeadLetter(ctx, t.poison); err != nil {
			logger.Error().Err(err).Int("records", len(t.poison)).Msg("dead letter publish failed, leaving records uncommitted")
		} else {
			commit = append(commit, t.poison...)
		}
	}

	if len(t.events) > 0 {
		err := linearBackOff(&logger, r.retryAttempts, r.retryDelay, func() error {
			_, _, insertErr := r.sink.BulkInsert(ctx, t.events)
			return insertErr
		})
		switch {
		case err == nil:
			commit = append(commit, t.records...)
		default:
			logger.Error().Err(err).Int("events", len(t.events)).Msg("store failed, sending batch to dead letter topic")
			if dlqErr := r.toDeadLetter(ctx, t.records); dlqErr != nil {
				logger.Error().Err(dlqErr).Int("records", len(t.records)).Msg("dead letter publish failed, leaving records uncommitted")
			} else {
				commit = append(commit, t.records...)
			}
		}
	}

	if len(commit) == 0 {
		return
	}
	if err := r.consumer.Commit(ctx, commit...); err != nil {
		logger.Error().Err(err).Int("records", len(commit)).Msg("commit records")
	}
}

func (r *Relay) toDeadLetter(ctx context.Context, records []*kgo.Record) error {
	if r.dlqTopic == "" {
		return errors.New("no dead letter topic configured")
	}

	out := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, &kgo.Record{
			Topic: r.dlqTopic,
			Key:   rec.Key,
			Value: rec.Value,
		})
	}
	return r.consumer.Produce(ctx, out...)
}

func linearBackOff(log *zerolog.Logger, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
		} else {
			return nil
		}

		log.Warn().Err(err).Msgf("Retry: %d.", i)

		time.Sleep(delay * time.Duration(i+1))
	}
	return err
}
