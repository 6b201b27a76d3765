package signalr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// HTTPResponse is the transport-agnostic result of an HTTPClient call.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// HTTPClient is the seam HTTPConnection and the long-polling transport
// negotiate/poll/send/terminate through. Production code uses
// DefaultHTTPClient; tests substitute a fake (SPEC_FULL §6).
type HTTPClient interface {
	Post(ctx context.Context, url string, headers http.Header, body []byte) (*HTTPResponse, error)
	Get(ctx context.Context, url string, headers http.Header) (*HTTPResponse, error)
	Delete(ctx context.Context, url string, headers http.Header) (*HTTPResponse, error)
}

// HTTPClientFactory builds an HTTPClient for a single connection
// instance (one of the enumerated configuration knobs in spec.md §6).
type HTTPClientFactory func() HTTPClient

// DefaultHTTPClient wraps *http.Client to satisfy HTTPClient.
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient returns an HTTPClient backed by a *http.Client
// with the given request timeout. A zero timeout means no client-wide
// timeout (per-request deadlines still come from ctx).
func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{client: &http.Client{Timeout: timeout}}
}

func DefaultHTTPClientFactory() HTTPClient {
	return NewDefaultHTTPClient(0)
}

func (c *DefaultHTTPClient) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*HTTPResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	return &HTTPResponse{StatusCode: res.StatusCode, Body: data}, nil
}

func (c *DefaultHTTPClient) Post(ctx context.Context, url string, headers http.Header, body []byte) (*HTTPResponse, error) {
	return c.do(ctx, http.MethodPost, url, headers, body)
}

func (c *DefaultHTTPClient) Get(ctx context.Context, url string, headers http.Header) (*HTTPResponse, error) {
	return c.do(ctx, http.MethodGet, url, headers, nil)
}

func (c *DefaultHTTPClient) Delete(ctx context.Context, url string, headers http.Header) (*HTTPResponse, error) {
	return c.do(ctx, http.MethodDelete, url, headers, nil)
}

// isClientTimeout reports whether err is a client-side deadline expiry,
// which the long-polling transport treats as benign (spec.md §4.3).
func isClientTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}
