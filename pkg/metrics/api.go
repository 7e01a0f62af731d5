package metrics

import "time"

// APIMetrics provides observability for the management API.
type APIMetrics interface {
	// RecordRequest records one served HTTP request.
	//
	// Parameters:
	//   - method: HTTP method
	//   - route: Route pattern (e.g. "GET /entries/{id}"), never the raw path
	//   - status: Response status code
	//   - duration: Time taken to serve the request
	RecordRequest(method, route string, status int, duration time.Duration)

	// RecordEntryCreated counts entries created through the API.
	RecordEntryCreated()
}

// NewNoopAPIMetrics returns an APIMetrics that does nothing.
func NewNoopAPIMetrics() APIMetrics {
	return noopAPIMetrics{}
}

type noopAPIMetrics struct{}

func (noopAPIMetrics) RecordRequest(method, route string, status int, duration time.Duration) {}
func (noopAPIMetrics) RecordEntryCreated()                                                    {}
