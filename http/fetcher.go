// Package http downloads whole bundles from the patch CDN.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
)

const (
	// DefaultMaxSize is the default limit on a single response body (2GB).
	DefaultMaxSize = 2 << 30

	readChunk = 64 << 10
)

// ErrTooLarge is returned when a response exceeds the configured size limit.
var ErrTooLarge = errors.New("http: response too large")

// StatusError reports a response with a non-2xx status code.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: GET %s: %s", e.URL, e.Status)
}

// ProgressFunc is called while a body streams in. total is 0 when the server
// did not announce a length.
type ProgressFunc func(received, total int64)

// Fetcher performs GET requests and buffers complete response bodies.
type Fetcher struct {
	client  *nethttp.Client
	headers nethttp.Header
	maxSize int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithMaxSize limits the accepted body size. Use 0 to disable the limit.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  nethttp.DefaultClient,
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	return f
}

// Fetch downloads url into a single contiguous buffer. progress, if non-nil,
// is called once before the first read and after every chunk.
func (f *Fetcher) Fetch(ctx context.Context, url string, progress ProgressFunc) ([]byte, error) {
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, readChunk))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	total := max(resp.ContentLength, 0)
	if f.maxSize > 0 && total > f.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTooLarge, total, f.maxSize)
	}
	if progress == nil {
		progress = func(int64, int64) {}
	}
	progress(0, total)

	buf := make([]byte, 0, total)
	for {
		if len(buf) == cap(buf) {
			buf = append(buf, make([]byte, readChunk)...)[:len(buf)]
		}
		n, err := resp.Body.Read(buf[len(buf):min(cap(buf), len(buf)+readChunk)])
		buf = buf[:len(buf)+n]
		if n > 0 {
			if f.maxSize > 0 && int64(len(buf)) > f.maxSize {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxSize)
			}
			progress(int64(len(buf)), total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if total > 0 && int64(len(buf)) != total {
		return nil, fmt.Errorf("http: GET %s: got %d bytes, want %d: %w", url, len(buf), total, io.ErrUnexpectedEOF)
	}
	return buf, nil
}

func (f *Fetcher) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}
