package metrics

import "time"

// ProjectionMetrics provides observability for filesystem operations served
// by the inode projection layer.
//
// The interface is optional: when metrics are disabled a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewProjectionMetrics()
//	fs := projection.New(entries, source, cfg, projection.WithMetrics(m))
//
//	// Without metrics (no-op)
//	fs := projection.New(entries, source, cfg)
type ProjectionMetrics interface {
	// RecordOperation records a completed filesystem operation.
	//
	// Parameters:
	//   - op: Operation name ("lookup", "getattr", "read", "readdir")
	//   - duration: Time taken to serve the operation
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(op string, duration time.Duration, err error)

	// RecordBytesRead records bytes returned by read operations.
	RecordBytesRead(bytes int64)

	// RecordSkippedRecord counts a repository record left out of a
	// listing or lookup because it could not be projected.
	//
	// Parameters:
	//   - reason: "decode" for malformed records, "reserved" for ids in
	//     the reserved inode range
	RecordSkippedRecord(reason string)

	// RecordSizeFallback counts attribute requests that reported size 0
	// because the content size could not be resolved.
	RecordSizeFallback()
}

// NewNoopProjectionMetrics returns a ProjectionMetrics that does nothing.
func NewNoopProjectionMetrics() ProjectionMetrics {
	return noopProjectionMetrics{}
}

type noopProjectionMetrics struct{}

func (noopProjectionMetrics) RecordOperation(op string, duration time.Duration, err error) {}
func (noopProjectionMetrics) RecordBytesRead(bytes int64)                                  {}
func (noopProjectionMetrics) RecordSkippedRecord(reason string)                            {}
func (noopProjectionMetrics) RecordSizeFallback()                                          {}
