// Package s3 implements an S3-based content source.
//
// This file contains the read operations: range reads, size queries and
// existence checks.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/plevy/pkg/content"
)

// isNotFound reports whether err is S3's way of saying the object is absent.
// GetObject returns NoSuchKey; HeadObject has no body and returns NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// isInvalidRange reports whether err is a 416 for a range past the end.
func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

// ReadAt reads data from the specified offset without downloading the entire
// object.
//
// This uses S3 byte-range requests, so a small read of a large media file
// only transfers the requested bytes.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - ref: Item to read
//   - p: Buffer to read into
//   - off: Byte offset to start reading from
//
// Returns:
//   - n: Number of bytes read
//   - error: ErrContentNotFound if the object is absent, io.EOF when the
//     read reaches or starts past the end of the object
func (s *S3ContentSource) ReadAt(ctx context.Context, ref content.Ref, p []byte, off int64) (n int, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ReadAt", time.Since(start), ignoreEOF(err))
		if n > 0 {
			s.metrics.RecordBytes("read", int64(n))
		}
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, content.ErrInvalidOffset
	}
	if len(p) == 0 {
		return 0, nil
	}

	key, err := s.objectKey(ref)
	if err != nil {
		return 0, err
	}

	// S3 range is inclusive, so end = off + len(p) - 1
	end := off + int64(len(p)) - 1
	if end < off {
		end = math.MaxInt64
	}
	rangeStr := fmt.Sprintf("bytes=%d-%d", off, end)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeStr),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)
		}
		// Offset at or beyond the object size
		if isInvalidRange(err) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	n, err = io.ReadFull(result.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n == 0) {
		// Object is shorter than the requested range
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	return n, nil
}

// Size returns the object size, served from the size cache when possible.
func (s *S3ContentSource) Size(ctx context.Context, ref content.Ref) (size uint64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if size, ok := s.sizes.Get(ref); ok {
		return size, nil
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
	}()

	key, err := s.objectKey(ref)
	if err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", ref)
	}

	size = uint64(*result.ContentLength)
	s.sizes.Add(ref, size)
	return size, nil
}

// Exists checks whether the object exists with a HEAD request.
func (s *S3ContentSource) Exists(ctx context.Context, ref content.Ref) (bool, error) {
	_, err := s.Size(ctx, ref)
	if err == nil {
		return true, nil
	}
	if content.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object existence: %w", err)
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
