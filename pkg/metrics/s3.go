package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomover/pkg/target/s3"
)

// s3Metrics records the bucket traffic of an S3 target: calls per operation
// and outcome, call latency, uploaded bytes and multipart lifecycle events.
type s3Metrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	uploaded  *prometheus.CounterVec
	multipart *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewS3Metrics returns the Prometheus-backed s3.S3Metrics, or nil when the
// registry is not initialized so the target falls back to its no-op.
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() {
		return nil
	}
	return newS3Metrics(GetRegistry())
}

func newS3Metrics(reg prometheus.Registerer) *s3Metrics {
	factory := promauto.With(reg)
	return &s3Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittomover_s3_operations_total",
			Help: "S3 calls made by the outgoing target, by operation and status",
		}, []string{"operation", "status"}),
		// 10ms up to roughly 5 minutes
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dittomover_s3_operation_duration_seconds",
			Help:    "Latency of S3 calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
		}, []string{"operation"}),
		uploaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittomover_s3_bytes_uploaded_total",
			Help: "Payload bytes sent to the bucket, by operation",
		}, []string{"operation"}),
		multipart: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittomover_s3_multipart_uploads_total",
			Help: "Multipart uploads by lifecycle event",
		}, []string{"status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittomover_s3_errors_total",
			Help: "Failed S3 calls by operation",
		}, []string{"operation"}),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		m.failures.WithLabelValues(operation).Inc()
	}
	m.calls.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.uploaded.WithLabelValues(operation).Add(float64(bytes))
}

func (m *s3Metrics) RecordMultipartUpload(status string) {
	m.multipart.WithLabelValues(status).Inc()
}
