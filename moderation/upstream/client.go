package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/accountabilityatlas/warden/moderation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_upstream_requests",
	Help: "Number of requests to upstream services, by service and status class",
}, []string{"service", "status"})

// Shared request plumbing for the JSON service clients.
type apiClient struct {
	service      string
	baseURL      string
	client       *http.Client
	serviceToken string
	userAgent    string
}

// Error returned for non-2xx responses. Wraps moderation.ErrUpstream.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: HTTP %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return moderation.ErrUpstream
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// Sends a request with an optional JSON body, and decodes a 2xx JSON response into
// out (if non-nil). Returns the response status code alongside any error, so
// callers can special-case statuses like 404.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding %s request body: %w", c.service, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.baseURL, "/")+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		upstreamRequests.WithLabelValues(c.service, "error").Inc()
		return 0, fmt.Errorf("%w: %s %s %s: %w", moderation.ErrUpstream, c.service, method, path, err)
	}
	defer resp.Body.Close()
	upstreamRequests.WithLabelValues(c.service, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{
			Service:    c.service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decoding %s response: %w", moderation.ErrUpstream, c.service, err)
		}
	}
	return resp.StatusCode, nil
}
