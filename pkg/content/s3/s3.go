package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/marmos91/plevy/pkg/content"
)

// API is the subset of *s3.Client used by the source. It exists so tests can
// substitute a fake client.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Metrics observes S3 calls. A nil Metrics disables observation.
type Metrics interface {
	// ObserveOperation records one S3 call and its outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred by an operation.
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}

// S3ContentSource implements content.Source on Amazon S3 or an S3-compatible
// service.
//
// Key Design:
//   - Each item is one object at "<key_prefix><source_id>/<index>"
//   - Sizes come from HeadObject and are cached for SizeCacheTTL
//   - Reads are ranged GetObject calls, so a FUSE read of 128KB fetches
//     128KB regardless of the object size
//
// Thread Safety:
// Safe for concurrent use by multiple goroutines. The AWS client and the
// expirable LRU are both internally synchronized.
type S3ContentSource struct {
	client    API
	bucket    string
	keyPrefix string
	sizes     *expirable.LRU[content.Ref, uint64]
	metrics   Metrics
}

var _ content.Source = (*S3ContentSource)(nil)

// S3ContentSourceConfig contains configuration for the S3 content source.
type S3ContentSourceConfig struct {
	// Client is the configured S3 client
	Client API

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "media/" results in keys like "media/abc/0"
	KeyPrefix string

	// SizeCacheTTL is how long object sizes are cached (default: 1 minute).
	// Items are immutable once published, so a long TTL is safe.
	SizeCacheTTL time.Duration

	// SizeCacheEntries bounds the size cache (default: 4096)
	SizeCacheEntries int

	// SkipBucketCheck disables the HeadBucket check at construction.
	SkipBucketCheck bool

	// Metrics is optional
	Metrics Metrics
}

// NewS3ContentSource creates a new S3-backed content source.
//
// The bucket must already exist. Unless SkipBucketCheck is set, access is
// verified with HeadBucket.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3ContentSource: Initialized source
//   - error: if configuration is invalid or the bucket is not reachable
func NewS3ContentSource(ctx context.Context, cfg S3ContentSourceConfig) (*S3ContentSource, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	ttl := cfg.SizeCacheTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	entries := cfg.SizeCacheEntries
	if entries == 0 {
		entries = 4096
	}

	var metrics Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	if !cfg.SkipBucketCheck {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &S3ContentSource{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		sizes:     expirable.NewLRU[content.Ref, uint64](entries, nil, ttl),
		metrics:   metrics,
	}, nil
}

// objectKey returns the full S3 object key for a reference.
//
// Example:
//
//	Ref:        {SourceID: "abc", Index: 2}
//	Key Prefix: "media/"
//	S3 Key:     "media/abc/2"
func (s *S3ContentSource) objectKey(ref content.Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return s.keyPrefix + ref.String(), nil
}

// Close drops cached sizes. The AWS client needs no cleanup.
func (s *S3ContentSource) Close() error {
	s.sizes.Purge()
	return nil
}
