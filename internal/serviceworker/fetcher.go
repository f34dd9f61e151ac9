package serviceworker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
)

// Fetcher performs network requests on behalf of the worker. Any HTTP
// response, whatever its status, is a successful fetch; only transport
// failures return an error.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*Response, error)
}

// forwardedHeaders are copied from the intercepted request upstream.
var forwardedHeaders = []string{"Accept", "Accept-Language", "User-Agent", "Authorization"}

// hopHeaders are never stored or replayed.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Set-Cookie",
}

const maxResponseBody = 16 << 20

// UpstreamFetcher fetches from the StaySense origin.
type UpstreamFetcher struct {
	base    *url.URL
	client  *http.Client
	maxBody int64
}

// NewUpstreamFetcher creates a fetcher for the given origin. client may be nil.
func NewUpstreamFetcher(origin string, timeout time.Duration, client *http.Client) (*UpstreamFetcher, error) {
	base, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid upstream URL %q", origin).
			Component("serviceworker").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &UpstreamFetcher{base: base, client: client, maxBody: maxResponseBody}, nil
}

// Fetch sends r to the upstream and buffers the response.
func (f *UpstreamFetcher) Fetch(ctx context.Context, r *http.Request) (*Response, error) {
	u := f.base.JoinPath(r.URL.Path)
	u.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Newf("fetch %s: %w", r.URL.Path, err).
			Component("serviceworker").
			Category(errors.CategoryNetwork).
			Context("path", r.URL.Path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, errors.Newf("read %s: %w", r.URL.Path, err).
			Component("serviceworker").
			Category(errors.CategoryNetwork).
			Context("path", r.URL.Path).
			Build()
	}
	// A truncated body must never be served or cached as complete.
	if int64(len(body)) > f.maxBody {
		return nil, errors.Newf("read %s: response body exceeds %d bytes", r.URL.Path, f.maxBody).
			Component("serviceworker").
			Category(errors.CategoryHTTP).
			Context("path", r.URL.Path).
			Build()
	}

	header := resp.Header.Clone()
	stripHopHeaders(header)
	header.Del("Content-Length")
	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func stripHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
