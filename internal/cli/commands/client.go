package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/plevy/pkg/adapter/api"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// apiClient talks to a running management API.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	base = strings.TrimRight(base, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{base: base, client: &http.Client{Timeout: timeout}}
}

// APIError is a non-2xx reply from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.Status)
}

// List returns every readable entry and the number the server skipped.
func (c *apiClient) List(ctx context.Context) ([]api.EntryResponse, int, error) {
	var out []api.EntryResponse
	resp, err := c.do(ctx, http.MethodGet, "/entries", nil, http.StatusOK, &out)
	if err != nil {
		return nil, 0, err
	}
	skipped, _ := strconv.Atoi(resp.Header.Get(api.SkippedHeader))
	return out, skipped, nil
}

// Add creates an entry and returns its id.
func (c *apiClient) Add(ctx context.Context, e entry.Entry) (entry.ID, error) {
	var id entry.ID
	if _, err := c.do(ctx, http.MethodPost, "/entries", e, http.StatusCreated, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Get fetches one entry.
func (c *apiClient) Get(ctx context.Context, id entry.ID) (*api.EntryResponse, error) {
	var out api.EntryResponse
	path := "/entries/" + strconv.FormatUint(uint64(id), 10)
	if _, err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, want int, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach plevy API at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}
