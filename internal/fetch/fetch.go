// Package fetch specifies the pluggable HTTPS fetcher the server handler
// calls on an HTTP-cache miss (spec §4.7: "only its contract is specified").
// Fetcher itself is a tiny interface; DefaultFetcher is one concrete,
// net/http-based implementation that honors a byte cap and a timeout.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Response is what a successful fetch returns to the handler.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// InvalidURLError means the URL was empty or failed to parse (maps to
// domain error code 10, spec §3).
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("fetch: invalid url %q", e.URL)
}

// BodyTooLargeError means the response exceeded the configured byte limit
// (maps to domain error code 11).
type BodyTooLargeError struct {
	Limit int
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("fetch: response exceeds %d byte limit", e.Limit)
}

// TimeoutError means the fetch did not complete within the configured
// duration (maps to domain error code 20).
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch: timed out after %s", e.After)
}

// UpstreamError wraps any other fetch failure — DNS, connection refused,
// TLS handshake failure, non-decodable response (maps to domain error
// code 30).
type UpstreamError struct {
	Msg string
}

func (e *UpstreamError) Error() string { return "fetch: " + e.Msg }

// strippedResponseHeaders are removed fetcher-side before the handler even
// sees them, mirroring spec §4.7's "may strip security headers on the
// fetch side; handler strips again defensively". Set-Cookie is deliberately
// NOT in this list: the handler's cache layer must observe it to honor
// spec §4.5's "never cache a response that sets cookies" rule before it is
// dropped later at wire-encode time (it is not in spec.ResponseHeaderWhitelist).
var strippedResponseHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
}

// Fetcher performs one HTTPS GET, honoring maxBytes and the context
// deadline. Implementations map failures to one of the typed errors above
// so the handler can translate them to a domain error code without string
// matching.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxBytes int) (*Response, error)
}

// DefaultFetcher is the reference Fetcher: a plain net/http.Client GET.
type DefaultFetcher struct {
	Client *http.Client
}

// NewDefaultFetcher builds a DefaultFetcher with the given overall request
// timeout. Per-fetch cancellation still layers a context deadline on top,
// since the handler's max_bytes enforcement needs to abort mid-read.
func NewDefaultFetcher(timeout time.Duration) *DefaultFetcher {
	return &DefaultFetcher{
		Client: &http.Client{Timeout: timeout},
	}
}

func (f *DefaultFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int) (*Response, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, &InvalidURLError{URL: rawURL}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &InvalidURLError{URL: rawURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &TimeoutError{After: f.Client.Timeout}
		}
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, &TimeoutError{After: f.Client.Timeout}
		}
		return nil, &UpstreamError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(maxBytes)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &UpstreamError{Msg: err.Error()}
	}
	if len(body) > maxBytes {
		return nil, &BodyTooLargeError{Limit: maxBytes}
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if isStripped(name) || len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}

	return &Response{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}

func isStripped(name string) bool {
	for _, s := range strippedResponseHeaders {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
