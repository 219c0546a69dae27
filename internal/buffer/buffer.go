package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventgate/internal/domain"
)

// Flusher persists one batch. A nil return means every event in the batch is
// durably stored (or already was); any error means the whole batch must be
// retried.
type Flusher interface {
	Flush(ctx context.Context, batch []domain.Event) error
}

type Config struct {
	MaxBatchSize          int           `mapstructure:"max_batch_size"`
	FlushInterval         time.Duration `mapstructure:"flush_interval"`
	BackpressureThreshold int           `mapstructure:"backpressure_threshold"`
	MaxConcurrentFlushes  int           `mapstructure:"max_concurrent_flushes"`
	FlushTimeout          time.Duration `mapstructure:"flush_timeout"`
}

func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %v", c.FlushInterval)
	}
	if c.BackpressureThreshold <= 0 {
		return fmt.Errorf("backpressure_threshold must be positive, got %d", c.BackpressureThreshold)
	}
	if c.MaxConcurrentFlushes <= 0 {
		return fmt.Errorf("max_concurrent_flushes must be positive, got %d", c.MaxConcurrentFlushes)
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush_timeout must be positive, got %v", c.FlushTimeout)
	}
	return nil
}

// Manager owns the in-memory queue of accepted events and decides when
// batches are cut and handed to the flusher. Every queue and counter mutation
// happens under mu; flushes run in their own goroutines and settle back under
// the same lock, so no two state transitions ever interleave.
//
// Flushes are triggered by size (inside Add) and by a debounce timer that is
// rearmed on every Add and on every flush completion: the queue is flushed
// within FlushInterval of the last activity rather than on a fixed clock,
// which favors fewer, larger batches under sustained load.
type Manager struct {
	cfg     Config
	flusher Flusher
	logger  zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond // signaled whenever a flush settles
	queue    []domain.Event
	active   int
	timer    *time.Timer
	draining bool

	wg sync.WaitGroup // in-flight flush goroutines
}

func New(cfg Config, flusher Flusher, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("buffer config: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		flusher: flusher,
		logger:  logger,
		queue:   make([]domain.Event, 0, cfg.MaxBatchSize),
	}
	m.cond = sync.NewCond(&m.mu)
	m.timer = time.AfterFunc(cfg.FlushInterval, m.timerFlush)
	m.timer.Stop()

	return m, nil
}

// CanAccept reports whether the queue is below the backpressure threshold.
// It is a pure read: callers check it before Add so that a refusal never
// touches the queue.
func (m *Manager) CanAccept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) < m.cfg.BackpressureThreshold
}

// Add appends ev to the queue tail and never blocks on storage. Admission
// control is the caller's job via CanAccept; Add itself takes everything, so
// a caller may finish a single in-flight submission past the threshold.
func (m *Manager) Add(ev domain.Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	// While draining no asynchronous flushes start; the drain loop owns the
	// queue and will pick late arrivals up itself.
	if !m.draining {
		if len(m.queue) >= m.cfg.MaxBatchSize && m.active < m.cfg.MaxConcurrentFlushes {
			m.startFlushLocked()
		}
		m.timer.Reset(m.cfg.FlushInterval)
	}
	m.mu.Unlock()
}

// timerFlush runs when the debounce timer fires: a quiet period has passed
// since the last activity, so whatever is queued goes out now.
func (m *Manager) timerFlush() {
	m.mu.Lock()
	if !m.draining && len(m.queue) > 0 && m.active < m.cfg.MaxConcurrentFlushes {
		m.startFlushLocked()
	}
	m.mu.Unlock()
}

// cutBatchLocked extracts up to MaxBatchSize events from the queue head as
// one batch. Runs inside the lock, so extraction is atomic with respect to
// concurrent Adds: no event is read twice or dropped.
func (m *Manager) cutBatchLocked() []domain.Event {
	n := len(m.queue)
	if n == 0 {
		return nil
	}
	if n > m.cfg.MaxBatchSize {
		n = m.cfg.MaxBatchSize
	}
	batch := make([]domain.Event, n)
	copy(batch, m.queue[:n])
	m.queue = append(m.queue[:0], m.queue[n:]...)
	return batch
}

// startFlushLocked cuts one batch and hands it to the flusher in a fresh
// goroutine. Callers hold mu and have already checked the concurrency
// ceiling.
func (m *Manager) startFlushLocked() {
	batch := m.cutBatchLocked()
	if batch == nil {
		return
	}
	m.active++
	m.wg.Add(1)
	go m.flush(batch)
}

func (m *Manager) flush(batch []domain.Event) {
	defer m.wg.Done()
	err := m.attempt(batch)
	m.mu.Lock()
	m.settleLocked(batch, err)
	m.mu.Unlock()
}

// attempt runs one persistence attempt with its own deadline, detached from
// request and shutdown contexts: an attempt already underway is never
// cancelled mid-flight, it runs to completion or to FlushTimeout.
func (m *Manager) attempt(batch []domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FlushTimeout)
	defer cancel()
	return m.flusher.Flush(ctx, batch)
}

// settleLocked finishes one attempt: frees the concurrency slot, re-inserts
// the batch at the queue head on failure (so it is retried before anything
// that arrived later), rearms the debounce timer and wakes drain waiters.
func (m *Manager) settleLocked(batch []domain.Event, err error) {
	m.active--
	if err != nil {
		m.queue = append(batch, m.queue...)
		m.logger.Warn().Err(err).
			Int("batch_size", len(batch)).
			Int("queued", len(m.queue)).
			Msg("flush failed, batch requeued at head")
	}
	if !m.draining {
		m.timer.Reset(m.cfg.FlushInterval)
	}
	m.cond.Broadcast()
}

// Drain stops the debounce timer and flushes synchronously until the queue is
// empty and nothing is in flight. It is meant for controlled shutdown, after
// intake has stopped; events added while draining are still picked up. Safe
// to call from several goroutines at once.
//
// ctx bounds how long Drain keeps retrying against a failing store. On
// expiry the remaining events are reported in the returned error rather than
// silently dropped.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			m.mu.Unlock()
			m.wg.Wait() // let in-flight attempts settle so the count below is final
			m.mu.Lock()
			remaining := len(m.queue)
			m.mu.Unlock()
			return fmt.Errorf("drain aborted with %d events still queued: %w", remaining, err)
		}
		if len(m.queue) == 0 && m.active == 0 {
			break
		}
		if len(m.queue) > 0 && m.active < m.cfg.MaxConcurrentFlushes {
			batch := m.cutBatchLocked()
			m.active++
			m.mu.Unlock()
			err := m.attempt(batch)
			m.mu.Lock()
			m.settleLocked(batch, err)
			if err != nil {
				// The debounce timer is stopped while draining; pace retries
				// here so a dead store does not turn this loop into a hot spin.
				m.mu.Unlock()
				select {
				case <-time.After(m.cfg.FlushInterval):
				case <-ctx.Done():
				}
				m.mu.Lock()
			}
			continue
		}
		// Ceiling reached, or only in-flight flushes left: wait for one to
		// settle. Every attempt ends within FlushTimeout, so this always wakes.
		m.cond.Wait()
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
