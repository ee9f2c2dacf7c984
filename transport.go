package spanz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Transport performs one HTTP request at a time. URL and timeout are set
// once; headers and body are set per request and cleared by Reset.
// Implementations need only be safe for use by a single goroutine.
type Transport interface {
	SetURL(url string)
	SetTimeout(d time.Duration)
	SetHeaders(headers map[string]string)
	SetBody(body []byte)
	// Perform sends the request. A nil error means the agent accepted it.
	Perform(ctx context.Context) error
	// Reset clears per-request state.
	Reset()
}

// StatusError is returned by HTTPTransport when the agent answers with a
// non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent responded %d", e.Code)
	}
	return fmt.Sprintf("agent responded %d: %s", e.Code, e.Body)
}

// errNoURL is returned when Perform is called before SetURL.
var errNoURL = errors.New("transport URL not set")

// HTTPTransport is the default Transport, backed by resty over a pooled
// connection transport. It does not retry; the writer owns retry policy.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type HTTPTransport struct {
	client  *resty.Client
	mu      sync.Mutex
	url     string
	headers map[string]string
	body    []byte
}

// NewHTTPTransport creates a transport with the default request timeout.
// Client-level diagnostics go to logger; a nil logger discards them.
func NewHTTPTransport(logger *zap.Logger) *HTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}

	// retryablehttp is used for the pooled, keep-alive transport it builds
	// through cleanhttp. Its retrying client is discarded; retries follow
	// the writer's schedule so a failing agent is never hit twice per step.
	pooled := retryablehttp.NewClient()
	pooled.RetryMax = 0
	pooled.Logger = nil

	client := resty.New().
		SetTransport(pooled.HTTPClient.Transport).
		SetTimeout(DefaultTimeout).
		SetRetryCount(0).
		SetLogger(logger.Sugar()).
		SetHeader("User-Agent", "spanz/"+Version)

	return &HTTPTransport{
		client:  client,
		headers: make(map[string]string),
	}
}

// SetURL implements Transport.
func (t *HTTPTransport) SetURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
}

// SetTimeout implements Transport.
func (t *HTTPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client.SetTimeout(d)
}

// SetHeaders implements Transport. Headers accumulate until Reset.
func (t *HTTPTransport) SetHeaders(headers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range headers {
		t.headers[k] = v
	}
}

// SetBody implements Transport.
func (t *HTTPTransport) SetBody(body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.body = body
}

// Reset implements Transport.
func (t *HTTPTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers = make(map[string]string)
	t.body = nil
}

// Perform implements Transport.
func (t *HTTPTransport) Perform(ctx context.Context) error {
	t.mu.Lock()
	url := t.url
	req := t.client.R().
		SetContext(ctx).
		SetHeaders(t.headers).
		SetBody(t.body)
	t.mu.Unlock()

	if url == "" {
		return errNoURL
	}

	resp, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return &StatusError{
			Code: resp.StatusCode(),
			Body: strings.TrimSpace(resp.String()),
		}
	}
	return nil
}
