// Package s3 implements a target on an S3 bucket (Amazon S3 or compatible).
//
// An item "run42" holding "a/b.dat" is stored under the key
// "<prefix>run42/a/b.dat"; a single-file item "x.raw" under "<prefix>x.raw".
// Finished-markers are empty objects next to the items.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/internal/ratelimiter"
	"github.com/marmos91/dittomover/pkg/target"
)

const (
	// DefaultPartSize is used when Config.PartSize is zero.
	DefaultPartSize = 10 * 1024 * 1024

	minPartSize = 5 * 1024 * 1024
	maxPartSize = 5 * 1024 * 1024 * 1024

	// S3 allows max 1000 objects per delete request
	maxDeleteBatch = 1000
)

// API is the subset of *s3.Client used by the target.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Config contains configuration for the S3 target.
type Config struct {
	// Client is the configured S3 client
	Client API

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	KeyPrefix string

	// PartSize is the size of multipart upload parts and the threshold above
	// which multipart is used (default: 10MB, between 5MB and 5GB)
	PartSize int64

	// Limiter throttles uploads (nil for no limit)
	Limiter *ratelimiter.RateLimiter

	// Fs is where local items are read from (default: the OS filesystem)
	Fs afero.Fs

	// Metrics records bucket operations (nil for none)
	Metrics S3Metrics
}

// Target uploads items to a bucket.
//
// Thread safety: safe for concurrent use; concurrent Puts of the same item
// end last-write-wins per object.
type Target struct {
	client    API
	bucket    string
	keyPrefix string
	partSize  int64
	limiter   *ratelimiter.RateLimiter
	fs        afero.Fs
	metrics   S3Metrics
}

// NewTarget creates an S3 target and verifies bucket access. The bucket
// must already exist.
func NewTarget(ctx context.Context, cfg Config) (*Target, error) {
	// ========================================================================
	// Step 1: Validate configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	t := &Target{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		limiter:   cfg.Limiter,
		fs:        fsys,
		metrics:   m,
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	if err := t.Check(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Target) key(name string) string {
	return t.keyPrefix + name
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Put uploads the file or tree at localPath.
func (t *Target) Put(ctx context.Context, localPath, itemName string) error {
	info, err := t.fs.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if !info.IsDir() {
		return t.upload(ctx, localPath, t.key(itemName), info.Size())
	}

	var files, bytesTotal int64
	err = afero.Walk(t.fs, localPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		files++
		bytesTotal += fi.Size()
		return t.upload(ctx, path, t.key(itemName)+"/"+filepath.ToSlash(rel), fi.Size())
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", itemName, err)
	}

	logger.Debug("Uploaded '%s' to s3://%s/%s (%d files, %s)",
		itemName, t.bucket, t.key(itemName), files, units.HumanSize(float64(bytesTotal)))
	return nil
}

func (t *Target) upload(ctx context.Context, path, key string, size int64) error {
	f, err := t.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := t.limiter.Reader(ctx, f)
	if size < t.partSize {
		data, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		start := time.Now()
		_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		t.metrics.ObserveOperation(OpPutObject, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to write object %s: %w", key, err)
		}
		t.metrics.RecordBytes(OpPutObject, int64(len(data)))
		return nil
	}
	return t.uploadMultipart(ctx, reader, key)
}

func (t *Target) uploadMultipart(ctx context.Context, r io.Reader, key string) error {
	created, err := t.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}
	uploadID := aws.ToString(created.UploadId)
	t.metrics.RecordMultipartUpload(MultipartInitiated)

	parts, err := t.uploadParts(ctx, r, key, uploadID)
	if err != nil {
		t.abort(key, uploadID)
		return err
	}

	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	start := time.Now()
	_, err = t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(t.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	t.metrics.ObserveOperation(OpCompleteUpload, time.Since(start), err)
	if err != nil {
		t.abort(key, uploadID)
		return fmt.Errorf("failed to complete multipart upload for %s: %w", key, err)
	}
	t.metrics.RecordMultipartUpload(MultipartCompleted)
	return nil
}

func (t *Target) uploadParts(ctx context.Context, r io.Reader, key, uploadID string) ([]types.CompletedPart, error) {
	var parts []types.CompletedPart
	buf := make([]byte, t.partSize)

	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			start := time.Now()
			out, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(t.bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			t.metrics.ObserveOperation(OpUploadPart, time.Since(start), err)
			if err != nil {
				return nil, fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err)
			}
			t.metrics.RecordBytes(OpUploadPart, int64(n))
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return parts, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read part %d of %s: %w", partNumber, key, readErr)
		}
	}
}

// abort runs on a fresh context so that a cancelled upload is still cleaned up.
func (t *Target) abort(key, uploadID string) {
	t.metrics.RecordMultipartUpload(MultipartAborted)
	_, err := t.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	var noSuchUpload *types.NoSuchUpload
	if err != nil && !errors.As(err, &noSuchUpload) {
		logger.Warn("Failed to abort multipart upload %s of %s: %v", uploadID, key, err)
	}
}

// Exists reports whether itemName is stored as an object or as a tree.
func (t *Target) Exists(ctx context.Context, itemName string) (bool, error) {
	_, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(itemName)),
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	out, err := t.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(t.bucket),
		Prefix:  aws.String(t.key(itemName) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list objects: %w", err)
	}
	return len(out.Contents) > 0, nil
}

// Remove deletes every object of itemName, and its marker, in batches.
func (t *Target) Remove(ctx context.Context, itemName string) error {
	exists, err := t.Exists(ctx, itemName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", itemName, target.ErrNotFound)
	}

	keys := []string{t.key(itemName), t.key(target.MarkerName(itemName))}
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.key(itemName) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return t.deleteKeys(ctx, keys)
}

func (t *Target) deleteKeys(ctx context.Context, keys []string) error {
	var failures []string

	for i := 0; i < len(keys); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+maxDeleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		start := time.Now()
		result, err := t.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(t.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		t.metrics.ObserveOperation(OpDeleteObjects, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		for _, e := range result.Errors {
			failures = append(failures, fmt.Sprintf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to delete %d objects: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// List returns the top-level names below the key prefix.
func (t *Target) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(t.bucket),
		Prefix:    aws.String(t.keyPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, p := range page.CommonPrefixes {
			seen[strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), t.keyPrefix), "/")] = true
		}
		for _, obj := range page.Contents {
			seen[strings.TrimPrefix(aws.ToString(obj.Key), t.keyPrefix)] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		if name != "" && !strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// MarkFinished writes an empty marker object.
func (t *Target) MarkFinished(ctx context.Context, itemName string) error {
	key := t.key(target.MarkerName(itemName))
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to write marker %s: %w", key, err)
	}
	return nil
}

// Check verifies bucket access.
func (t *Target) Check(ctx context.Context) error {
	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)})
	if err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", t.bucket, err)
	}
	return nil
}

func (t *Target) Close() error {
	return nil
}
