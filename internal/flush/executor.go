package flush

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventgate/internal/domain"
	"github.com/leshachaplin/eventgate/internal/metrics"
)

// Sink is the storage side of a flush. BulkInsert must be atomic per call
// from the caller's point of view: either the batch is accepted (with events
// already present reported as duplicates) or an error is returned and nothing
// is assumed about partial writes.
type Sink interface {
	BulkInsert(ctx context.Context, events []domain.Event) (inserted, duplicates int, err error)
}

// Executor submits batches to a Sink and classifies the outcome. It does not
// retry; a failed batch goes back to the buffer and comes around again.
type Executor struct {
	sink    Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewExecutor(sink Sink, m *metrics.Metrics, logger zerolog.Logger) *Executor {
	return &Executor{
		sink:    sink,
		metrics: m,
		logger:  logger.With().Str("component", "flush").Logger(),
	}
}

func (e *Executor) Flush(ctx context.Context, batch []domain.Event) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	inserted, duplicates, err := e.sink.BulkInsert(ctx, batch)
	took := time.Since(start)

	if err != nil {
		e.metrics.RecordFlush(metrics.ResultFailure, 0, 0, took)
		e.logger.Warn().
			Err(err).
			Int("batch_size", len(batch)).
			Dur("took", took).
			Msg("bulk insert failed")
		return fmt.Errorf("bulk insert of %d events: %w", len(batch), err)
	}

	// A batch made entirely of duplicates is still a completed flush.
	e.metrics.RecordFlush(metrics.ResultSuccess, inserted, duplicates, took)
	if inserted+duplicates != len(batch) {
		e.logger.Warn().
			Int("batch_size", len(batch)).
			Int("inserted", inserted).
			Int("duplicates", duplicates).
			Msg("store accounting does not add up to the batch size")
	}
	e.logger.Debug().
		Int("inserted", inserted).
		Int("duplicates", duplicates).
		Dur("took", took).
		Msg("batch flushed")
	return nil
}
