// Package upstream forwards caller payloads to LLM backends.
//
// DESIGN: The HTTP client is a verbatim proxy: whatever status and body the
// backend returns is handed back untouched. Only connectivity failures (DNS,
// connect, timeout) are turned into errors; a 4xx/5xx from the backend is
// still a structurally valid response and gets logged as one. The per-call
// timeout is fixed and there are no automatic retries.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auditgate/llm-gateway/internal/config"
)

// ErrUnreachable wraps DNS, connection, and timeout failures to a backend.
var ErrUnreachable = errors.New("upstream unreachable")

// Response is a backend reply passed through verbatim.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client forwards JSON payloads to an HTTP LLM endpoint.
type Client struct {
	http *http.Client
}

// NewClient returns a proxy client with the fixed upstream timeout.
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: config.UpstreamTimeout},
	}
}

// NewClientWithTimeout exists for tests that need a shorter deadline.
func NewClientWithTimeout(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Forward POSTs payload to endpoint with the given headers and returns the
// backend's status and body verbatim.
func (c *Client) Forward(ctx context.Context, endpoint string, headers map[string]string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
