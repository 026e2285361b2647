package cube

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/muurk/miyo/internal/logging"
	"github.com/muurk/miyo/internal/version"
)

// DefaultTimeout is the default HTTP request timeout
const DefaultTimeout = 5 * time.Second

// Result is the raw outcome of an HTTP exchange with the cube
type Result struct {
	Body       []byte
	StatusCode int
}

// Transport issues plain HTTP requests with a bounded timeout.
// The body is read regardless of the HTTP status code; the cube reports
// application failures inside the JSON payload.
type Transport struct {
	HTTPClient *http.Client
}

// NewTransport creates a transport with the given request timeout
func NewTransport(timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{HTTPClient: &http.Client{Timeout: timeout}}
}

// SetTimeout sets the HTTP request timeout
func (t *Transport) SetTimeout(timeout time.Duration) {
	t.HTTPClient.Timeout = timeout
}

// Timeout returns the current request timeout
func (t *Transport) Timeout() time.Duration {
	return t.HTTPClient.Timeout
}

// Get issues a GET request
func (t *Transport) Get(ctx context.Context, address string) (*Result, error) {
	return t.Do(ctx, http.MethodGet, address, "")
}

// Post issues a POST request
func (t *Transport) Post(ctx context.Context, address, body string) (*Result, error) {
	return t.Do(ctx, http.MethodPost, address, body)
}

// Put issues a PUT request
func (t *Transport) Put(ctx context.Context, address, body string) (*Result, error) {
	return t.Do(ctx, http.MethodPut, address, body)
}

// Delete issues a DELETE request
func (t *Transport) Delete(ctx context.Context, address string) (*Result, error) {
	return t.Do(ctx, http.MethodDelete, address, "")
}

// Do performs a single request. Failures to reach the cube or to read the
// response come back as transport errors.
func (t *Transport) Do(ctx context.Context, method, address, body string) (*Result, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, address, reader)
	if err != nil {
		return nil, NewTransportError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		logging.LogRequest(method, address, 0, time.Since(start))
		return nil, NewTransportError(method+" request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError("failed to read response body", err)
	}

	logging.LogRequest(method, address, resp.StatusCode, time.Since(start))

	return &Result{Body: data, StatusCode: resp.StatusCode}, nil
}
