package buffer

// Snapshot is a point-in-time, read-only view of the buffer used by the
// stats endpoint and the metrics gauges. Taking one never blocks on storage.
type Snapshot struct {
	QueueLength           int     `json:"queue_length"`
	ActiveFlushes         int     `json:"active_flushes"`
	MaxBatchSize          int     `json:"max_batch_size"`
	FlushIntervalMS       int64   `json:"flush_interval_ms"`
	BackpressureThreshold int     `json:"backpressure_threshold"`
	MaxConcurrentFlushes  int     `json:"max_concurrent_flushes"`
	Utilization           float64 `json:"utilization"`
}

// Stats returns the current snapshot. Utilization is queue length over the
// backpressure threshold, so saturation reads as >= 1.0.
func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		QueueLength:           len(m.queue),
		ActiveFlushes:         m.active,
		MaxBatchSize:          m.cfg.MaxBatchSize,
		FlushIntervalMS:       m.cfg.FlushInterval.Milliseconds(),
		BackpressureThreshold: m.cfg.BackpressureThreshold,
		MaxConcurrentFlushes:  m.cfg.MaxConcurrentFlushes,
		Utilization:           float64(len(m.queue)) / float64(m.cfg.BackpressureThreshold),
	}
}
