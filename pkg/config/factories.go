package config

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsRetry "github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/content"
	contentFs "github.com/marmos91/plevy/pkg/content/fs"
	contentMemory "github.com/marmos91/plevy/pkg/content/memory"
	contentS3 "github.com/marmos91/plevy/pkg/content/s3"
)

// CreateContentSource creates a content source based on configuration.
//
// Supported types:
//   - "filesystem": Uses pkg/content/fs (local directory tree)
//   - "memory": Uses pkg/content/memory (empty, for development)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Content source configuration
//   - s3Metrics: Optional S3 metrics collector (nil = no metrics)
//
// Returns:
//   - content.Source: Initialized content source
//   - error: Configuration or initialization error
func CreateContentSource(ctx context.Context, cfg *ContentConfig, s3Metrics contentS3.Metrics) (content.Source, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentSource(ctx, cfg.Filesystem)
	case "memory":
		logger.Warn("Using the memory content source: every read fails until content is seeded")
		return contentMemory.NewMemoryContentSource(), nil
	case "s3":
		return createS3ContentSource(ctx, cfg.S3, s3Metrics)
	default:
		return nil, fmt.Errorf("unknown content source type: %q", cfg.Type)
	}
}

// createFilesystemContentSource creates a filesystem-based content source.
func createFilesystemContentSource(ctx context.Context, options map[string]any) (content.Source, error) {
	var sourceCfg contentFs.FSContentSourceConfig
	if err := decodeOptions(options, &sourceCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content source config: %w", err)
	}

	if sourceCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content source: path is required")
	}

	source, err := contentFs.NewFSContentSource(ctx, sourceCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content source: %w", err)
	}

	return source, nil
}

// S3Options is the decoded form of content.s3.
type S3Options struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	MaxRetries      int           `mapstructure:"max_retries"`
	SizeCacheTTL    time.Duration `mapstructure:"size_cache_ttl"`
	SizeCacheSize   int           `mapstructure:"size_cache_entries"`

	// ConnectAttempts bounds the bucket check at startup (default: 5).
	// Object stores started alongside plevy (MinIO in compose) may take a
	// few seconds to accept requests.
	ConnectAttempts uint `mapstructure:"connect_attempts"`
}

// createS3ContentSource creates an S3-based content source.
func createS3ContentSource(ctx context.Context, options map[string]any, m contentS3.Metrics) (content.Source, error) {
	var opts S3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content source config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 content source: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 content source: region is required")
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 5
	}

	source, err := retry.DoWithData(
		func() (*contentS3.S3ContentSource, error) {
			return contentS3.NewS3ContentSource(ctx, contentS3.S3ContentSourceConfig{
				Client:           client,
				Bucket:           opts.Bucket,
				KeyPrefix:        opts.KeyPrefix,
				SizeCacheTTL:     opts.SizeCacheTTL,
				SizeCacheEntries: opts.SizeCacheSize,
				Metrics:          m,
			})
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("S3 bucket %q not reachable (attempt %d/%d): %v", opts.Bucket, n+1, attempts, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content source: %w", err)
	}

	logger.Info("S3 content source initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return source, nil
}

// newS3Client builds an S3 client from the decoded options.
func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Default to 10 attempts for transient errors (502, 503, timeouts)
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return awsRetry.NewStandard(func(o *awsRetry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
