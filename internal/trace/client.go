// Package trace is a typed client for the trace server's HTTP API.
// The server exposes three POST operations: full-range discovery, metadata
// fetch for a named collection over a time window, and full-trip fetch for
// one calendar day. All request bodies carry the user token; no session
// state is kept client-side.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkordes/tracesync/internal/domain"
)

// Client provides typed access to one trace-server instance.
// It is safe for concurrent use; the account token is passed per call.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
// Tests use this to point the client at an httptest server transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the structured logger used for request logging.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient returns a Client for the trace server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FirstAndLastTimestamp discovers the full range of data available for the
// account. Used only on the bootstrap run, when no watermark exists yet.
func (c *Client) FirstAndLastTimestamp(ctx context.Context, token string) (domain.TimestampRange, error) {
	var out domain.TimestampRange
	body := map[string]any{"user": token}
	if err := c.post(ctx, "/pipeline/get_range_ts", body, &out); err != nil {
		return domain.TimestampRange{}, err
	}
	return out, nil
}

// collectionResponse is the envelope of the find_entries endpoint.
type collectionResponse struct {
	PhoneData []domain.CollectionEntry `json:"phone_data"`
}

// CollectionSince fetches all entries of the named collection whose write
// time falls in [since, now]. The window is inclusive on both ends, so in
// steady state the first element is the record the previous run already
// processed; excludeBoundary drops it, turning the inclusive range query
// into an exclusive "since last processed" query. Pass false on the
// bootstrap run, when there is no prior record to exclude.
func (c *Client) CollectionSince(ctx context.Context, token, collection string, since time.Time, excludeBoundary bool) ([]domain.CollectionEntry, error) {
	// The server expects timestamps in seconds, not milliseconds.
	body := map[string]any{
		"user":       token,
		"start_time": float64(since.UnixMilli()) / 1000,
		"end_time":   float64(time.Now().UnixMilli()) / 1000,
		"key_list":   []string{collection},
	}

	var out collectionResponse
	if err := c.post(ctx, "/datastreams/find_entries/timestamp", body, &out); err != nil {
		return nil, err
	}

	entries := out.PhoneData
	if excludeBoundary && len(entries) > 0 {
		entries = entries[1:]
	}
	return entries, nil
}

// timelineResponse is the envelope of the getTrips endpoint.
type timelineResponse struct {
	Timeline []domain.FullTrip `json:"timeline"`
}

// TripsForDay fetches the complete trips for one calendar day (YYYY-MM-DD).
// The day granularity over-returns: a returned trip's actual start time may
// fall outside the requested day when it crosses midnight in the source
// system's offset. Callers must filter by exact start time.
func (c *Client) TripsForDay(ctx context.Context, token, day string) ([]domain.FullTrip, error) {
	var out timelineResponse
	body := map[string]any{"user": token}
	if err := c.post(ctx, "/timeline/getTrips/"+day, body, &out); err != nil {
		return nil, err
	}
	return out.Timeline, nil
}

// post sends a JSON POST to path and decodes the JSON response into out.
// A 403 maps to domain.ErrLoginFailed; any other transport failure or
// non-2xx status maps to domain.ErrVendorUnavailable.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("trace: marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("trace: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trace: %s: %v: %w", path, err, domain.ErrVendorUnavailable)
	}
	defer resp.Body.Close()

	c.log.Debug("trace request",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("trace: %s: status 403: %w", path, domain.ErrLoginFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trace: %s: status %d: %w", path, resp.StatusCode, domain.ErrVendorUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("trace: %s: decode response: %v: %w", path, err, domain.ErrVendorUnavailable)
	}
	return nil
}
