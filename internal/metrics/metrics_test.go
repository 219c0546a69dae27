package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/leshachaplin/eventgate/internal/buffer"
)

func TestMetrics_RecordAdmission(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAccepted(3)
	m.RecordAccepted(1)
	m.RecordRejected(2)
	m.RecordInvalid()

	require.EqualValues(t, 4, testutil.ToFloat64(m.eventsAccepted))
	require.EqualValues(t, 2, testutil.ToFloat64(m.eventsRejected))
	require.EqualValues(t, 1, testutil.ToFloat64(m.eventsInvalid))
}

func TestMetrics_RecordFlush(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFlush(ResultSuccess, 5, 2, 10*time.Millisecond)
	m.RecordFlush(ResultFailure, 0, 0, time.Second)

	require.EqualValues(t, 1, testutil.ToFloat64(m.flushes.WithLabelValues(ResultSuccess)))
	require.EqualValues(t, 1, testutil.ToFloat64(m.flushes.WithLabelValues(ResultFailure)))
	require.EqualValues(t, 5, testutil.ToFloat64(m.eventsFlushed))
	require.EqualValues(t, 2, testutil.ToFloat64(m.eventsDuplicate))
	require.Equal(t, 1, testutil.CollectAndCount(m.flushDuration))
}

func TestRegisterBufferStats(t *testing.T) {
	snap := buffer.Snapshot{
		QueueLength:   7,
		ActiveFlushes: 2,
		Utilization:   0.35,
	}

	reg := prometheus.NewRegistry()
	RegisterBufferStats(reg, func() buffer.Snapshot { return snap })

	require.EqualValues(t, 7, gatherValue(t, reg, "eventgate_buffer_queue_length"))
	require.EqualValues(t, 2, gatherValue(t, reg, "eventgate_buffer_active_flushes"))
	require.InDelta(t, 0.35, gatherValue(t, reg, "eventgate_buffer_utilization"), 1e-9)
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
