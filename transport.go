package gofetchcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	headerAccept    = "Accept"
	mimeApplication = "application/json"

	// maxErrorBody caps how much of a failed response is kept on StatusError.
	maxErrorBody = 4 << 10
)

// Transport performs the GET behind a cache miss. The returned value is the
// decoded response body. Errors are handed to every waiter unchanged.
type Transport interface {
	Get(ctx context.Context, url string) (any, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string) (any, error)

func (f TransportFunc) Get(ctx context.Context, url string) (any, error) {
	return f(ctx, url)
}

// StatusError is returned by HTTPTransport for responses outside 2xx.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPTransport is a Transport backed by net/http. Bodies are decoded as JSON
// into any; empty bodies decode to nil.
type HTTPTransport struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client

	// BaseURL is prepended to relative endpoints, e.g. "https://api.example.com/api/v1".
	BaseURL string

	// Header is added to every request.
	Header http.Header

	// Limiter, when set, is waited on before each request.
	Limiter *rate.Limiter
}

// Get implements Transport.
func (t *HTTPTransport) Get(ctx context.Context, target string) (any, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := t.resolve(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get(headerAccept) == "" {
		req.Header.Set(headerAccept, mimeApplication)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Body: body}
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding response from %s: %w", u, err)
	}

	return v, nil
}

func (t *HTTPTransport) resolve(target string) string {
	if t.BaseURL == "" || strings.Contains(target, "://") {
		return target
	}
	return strings.TrimSuffix(t.BaseURL, "/") + "/" + strings.TrimPrefix(target, "/")
}
