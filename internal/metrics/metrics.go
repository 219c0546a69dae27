package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leshachaplin/eventgate/internal/buffer"
)

const namespace = "eventgate"

// Flush result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	eventsAccepted  prometheus.Counter
	eventsRejected  prometheus.Counter
	eventsInvalid   prometheus.Counter
	eventsFlushed   prometheus.Counter
	eventsDuplicate prometheus.Counter
	flushes         *prometheus.CounterVec
	flushDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Events admitted into the buffer.",
		}),
		eventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events refused because the buffer was over its backpressure threshold.",
		}),
		eventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_invalid_total",
			Help:      "Submissions rejected before admission because they failed validation.",
		}),
		eventsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_flushed_total",
			Help:      "Events written to the store by successful flushes.",
		}),
		eventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Events the store reported as already present.",
		}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Flush attempts by result.",
		}, []string{"result"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time of a single bulk insert.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) RecordAccepted(n int) {
	m.eventsAccepted.Add(float64(n))
}

func (m *Metrics) RecordRejected(n int) {
	m.eventsRejected.Add(float64(n))
}

func (m *Metrics) RecordInvalid() {
	m.eventsInvalid.Inc()
}

func (m *Metrics) RecordFlush(result string, inserted, duplicates int, took time.Duration) {
	m.flushes.WithLabelValues(result).Inc()
	m.flushDuration.Observe(took.Seconds())
	if inserted > 0 {
		m.eventsFlushed.Add(float64(inserted))
	}
	if duplicates > 0 {
		m.eventsDuplicate.Add(float64(duplicates))
	}
}

// RegisterBufferStats exposes the live buffer snapshot as gauges. The stats
// function is called on every scrape.
func RegisterBufferStats(reg prometheus.Registerer, stats func() buffer.Snapshot) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_queue_length",
		Help:      "Events currently queued in memory.",
	}, func() float64 { return float64(stats().QueueLength) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_active_flushes",
		Help:      "Flushes currently in flight.",
	}, func() float64 { return float64(stats().ActiveFlushes) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_utilization",
		Help:      "Queue length relative to the backpressure threshold.",
	}, func() float64 { return stats().Utilization })
}
