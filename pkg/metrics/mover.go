package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer stages reported by RecordTransfer.
const (
	StageIncoming = "incoming"
	StageExtra    = "extra_copy"
	StageOutgoing = "outgoing"
)

// Transfer outcomes reported by RecordTransfer and RecordScriptRun.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusFailure = "failure"
)

// MoverMetrics records pipeline activity.
//
// Implementations must be safe for concurrent use. A nil MoverMetrics is not
// valid; use NewMoverMetrics, which falls back to a no-op.
type MoverMetrics interface {
	// ObserveScan records one scanner pass over dir
	ObserveScan(dir string, items int, duration time.Duration)

	// RecordFaulty counts an item added to the faulty paths of dir
	RecordFaulty(dir string)

	// SetQueueDepth reports the current length of a queue
	SetQueueDepth(queue string, depth int)

	// RecordTransfer records one transfer attempt of an item
	RecordTransfer(stage, status string, bytes int64, duration time.Duration)

	// RecordScriptRun counts a data-completed script run
	RecordScriptRun(status string)

	// RecordCollected counts stale partial transfers removed by the collector
	RecordCollected(n int)
}

type moverMetrics struct {
	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanItems    *prometheus.GaugeVec
	faulty       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	transfers    *prometheus.CounterVec
	transferTime *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	scripts      *prometheus.CounterVec
	collected    prometheus.Counter
}

// NewMoverMetrics returns a Prometheus-backed MoverMetrics, or a no-op when
// InitRegistry has not been called.
func NewMoverMetrics() MoverMetrics {
	if !IsEnabled() {
		return NoopMoverMetrics{}
	}
	return newMoverMetrics(GetRegistry())
}

func newMoverMetrics(reg prometheus.Registerer) *moverMetrics {
	return &moverMetrics{
		scans: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomover_scans_total",
				Help: "Total number of directory scanner passes",
			},
			[]string{"dir"},
		),
		scanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittomover_scan_duration_seconds",
				Help:    "Duration of directory scanner passes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"dir"},
		),
		scanItems: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittomover_scan_items",
				Help: "Number of items seen by the last scanner pass",
			},
			[]string{"dir"},
		),
		faulty: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomover_faulty_paths_total",
				Help: "Total number of items added to faulty paths",
			},
			[]string{"dir"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittomover_queue_depth",
				Help: "Number of items waiting in a queue",
			},
			[]string{"queue"},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomover_transfers_total",
				Help: "Total number of transfer attempts by stage and status",
			},
			[]string{"stage", "status"},
		),
		transferTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomover_transfer_duration_seconds",
				Help: "Duration of transfer attempts in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.1,  // 100ms
					1,    // 1s
					10,   // 10s
					60,   // 1m
					300,  // 5m
					1800, // 30m
					7200, // 2h
				},
			},
			[]string{"stage"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomover_transferred_bytes_total",
				Help: "Total bytes moved by successful transfers",
			},
			[]string{"stage"},
		),
		scripts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomover_script_runs_total",
				Help: "Total number of data-completed script runs by status",
			},
			[]string{"status"},
		),
		collected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomover_gc_removed_total",
				Help: "Total number of stale partial transfers removed",
			},
		),
	}
}

func (m *moverMetrics) ObserveScan(dir string, items int, duration time.Duration) {
	m.scans.WithLabelValues(dir).Inc()
	m.scanDuration.WithLabelValues(dir).Observe(duration.Seconds())
	m.scanItems.WithLabelValues(dir).Set(float64(items))
}

func (m *moverMetrics) RecordFaulty(dir string) {
	m.faulty.WithLabelValues(dir).Inc()
}

func (m *moverMetrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *moverMetrics) RecordTransfer(stage, status string, bytes int64, duration time.Duration) {
	m.transfers.WithLabelValues(stage, status).Inc()
	m.transferTime.WithLabelValues(stage).Observe(duration.Seconds())
	if status == StatusSuccess && bytes > 0 {
		m.bytes.WithLabelValues(stage).Add(float64(bytes))
	}
}

func (m *moverMetrics) RecordScriptRun(status string) {
	m.scripts.WithLabelValues(status).Inc()
}

func (m *moverMetrics) RecordCollected(n int) {
	if n > 0 {
		m.collected.Add(float64(n))
	}
}

// NoopMoverMetrics discards everything.
type NoopMoverMetrics struct{}

func (NoopMoverMetrics) ObserveScan(string, int, time.Duration)              {}
func (NoopMoverMetrics) RecordFaulty(string)                                 {}
func (NoopMoverMetrics) SetQueueDepth(string, int)                           {}
func (NoopMoverMetrics) RecordTransfer(string, string, int64, time.Duration) {}
func (NoopMoverMetrics) RecordScriptRun(string)                              {}
func (NoopMoverMetrics) RecordCollected(int)                                 {}

// OrNoop returns m, or a no-op when m is nil.
func OrNoop(m MoverMetrics) MoverMetrics {
	if m == nil {
		return NoopMoverMetrics{}
	}
	return m
}
