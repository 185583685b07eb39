package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunk classifications reported by the copy loop.
const (
	ChunkPresentInTop = "present_in_top"
	ChunkCopied       = "copied"
	ChunkAbsent       = "absent"
	ChunkFailed       = "failed"
)

// StreamMetrics observes one process's streaming jobs. A nil *StreamMetrics
// is valid and all observer methods on it are no-ops, so callers pass nil
// when metrics are disabled.
type StreamMetrics struct {
	bytesCopied    prometheus.Counter
	chunks         *prometheus.CounterVec
	throttlePauses prometheus.Counter
	threshold      prometheus.Gauge
	activeJobs     prometheus.Gauge
}

// NewStreamMetrics creates Prometheus-backed stream metrics, or nil when
// metrics are disabled.
func NewStreamMetrics() *StreamMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return &StreamMetrics{
		bytesCopied: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chainstream_bytes_copied_total",
			Help: "Total bytes copied from backing chains into active images",
		}),
		chunks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chainstream_chunks_total",
			Help: "Chunk iterations by classification",
		}, []string{"classification"}),
		throttlePauses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chainstream_throttle_pauses_total",
			Help: "Copy-loop pauses triggered by the adaptive throttle",
		}),
		threshold: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chainstream_adaptive_threshold_iops",
			Help: "Calibrated adaptive-throttle threshold in IOPS",
		}),
		activeJobs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chainstream_active_jobs",
			Help: "Streaming jobs currently running",
		}),
	}
}

// ObserveChunk records one copy-loop iteration.
func (m *StreamMetrics) ObserveChunk(classification string, bytes int64) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(classification).Inc()
	if classification == ChunkCopied {
		m.bytesCopied.Add(float64(bytes))
	}
}

// ObservePause records an adaptive-throttle pause.
func (m *StreamMetrics) ObservePause() {
	if m == nil {
		return
	}
	m.throttlePauses.Inc()
}

// ObserveCalibration records the calibrated threshold.
func (m *StreamMetrics) ObserveCalibration(thresholdIOPS float64) {
	if m == nil {
		return
	}
	m.threshold.Set(thresholdIOPS)
}

// JobStarted increments the active job gauge.
func (m *StreamMetrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished decrements the active job gauge.
func (m *StreamMetrics) JobFinished() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}
