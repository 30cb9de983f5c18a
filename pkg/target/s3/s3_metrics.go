package s3

import "time"

// Operation names reported to S3Metrics.
const (
	OpPutObject      = "PutObject"
	OpUploadPart     = "UploadPart"
	OpDeleteObjects  = "DeleteObjects"
	OpCompleteUpload = "CompleteMultipartUpload"
)

// Multipart upload lifecycle events reported to S3Metrics.
const (
	MultipartInitiated = "initiated"
	MultipartCompleted = "completed"
	MultipartAborted   = "aborted"
)

// S3Metrics records the bucket operations of a Target.
//
// Implementations must be safe for concurrent use.
type S3Metrics interface {
	// ObserveOperation records one S3 call and its outcome
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes counts payload bytes sent by operation
	RecordBytes(operation string, bytes int64)

	// RecordMultipartUpload counts a multipart upload lifecycle event
	RecordMultipartUpload(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordMultipartUpload(string)                  {}
