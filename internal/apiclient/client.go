// Package apiclient talks to the StaySense HTTP API: liveness, score lookup
// and signal submission.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
	"golang.org/x/time/rate"
)

const (
	pathHealth = "/health"
	pathScore  = "/spot/score"
	pathSignal = "/spot/signal"

	// maxBodySize bounds every response body read.
	maxBodySize = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RateLimit is the sustained request rate per second. Zero disables pacing.
	RateLimit float64
	RateBurst int
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    logger.Logger
	maxBody   int64
}

// New creates a Client for the API rooted at opts.BaseURL.
func New(opts Options, log logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid API base URL %q", opts.BaseURL).
			Component("apiclient").
			Category(errors.CategoryConfiguration).
			Build()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		base:      base,
		http:      hc,
		userAgent: opts.UserAgent,
		limiter:   limiter,
		logger:    log.Module("apiclient"),
		maxBody:   maxBodySize,
	}, nil
}

// BaseURL returns the API origin.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Health probes GET /health, bypassing any HTTP cache on the way.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathHealth, nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, c.decodeError(req, err)
	}
	return &health, nil
}

// Score fetches the raw score payload for a coordinate at the given time.
func (c *Client) Score(ctx context.Context, lat, lon float64, at time.Time) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("at", at.UTC().Format(time.RFC3339))

	req, err := c.newRequest(ctx, http.MethodGet, pathScore, q, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, c.decodeError(req, fmt.Errorf("score response is not valid JSON"))
	}
	return json.RawMessage(body), nil
}

// SubmitSignal posts a signal. A body whose "error" field names a permanent
// rate limit yields a *RejectionError regardless of the status code.
func (c *Client) SubmitSignal(ctx context.Context, s Signal) (*SignalAck, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, errors.New(err).
			Component("apiclient").
			Category(errors.CategoryValidation).
			Build()
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathSignal, nil, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && IsPermanentCode(se.Code) {
			return nil, c.rejection(se.Code, body)
		}
		return nil, err
	}

	// Some deployments answer rejections with 2xx; the body decides.
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && IsPermanentCode(eb.Error) {
		return nil, c.rejection(eb.Error, body)
	}

	var ack SignalAck
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			c.logger.Debug("ignoring unparsable signal acknowledgement", logger.Error(err))
		}
	}
	return &ack, nil
}

func (c *Client) rejection(code string, body []byte) error {
	rej := &RejectionError{Code: code}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.NextAllowedAt != "" {
		if t, err := time.Parse(time.RFC3339, eb.NextAllowedAt); err == nil {
			rej.NextAllowedAt = t
		}
	}
	return errors.New(rej).
		Component("apiclient").
		Category(errors.CategoryRejected).
		Context("code", code).
		Build()
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, errors.Newf("failed to build request: %w", err).
			Component("apiclient").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// do sends req and returns the body. Non-2xx responses return the body
// together with a *StatusError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, c.networkError(req, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.networkError(req, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, c.networkError(req, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, c.decodeError(req, fmt.Errorf("body exceeds %d bytes", c.maxBody))
	}

	c.logger.Debug("api request",
		logger.String("method", req.Method),
		logger.String("path", req.URL.Path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			se.Code = eb.Error
		}
		return body, errors.New(se).
			Component("apiclient").
			Category(errors.CategoryHTTP).
			Context("status", resp.StatusCode).
			Context("path", req.URL.Path).
			Build()
	}
	return body, nil
}

func (c *Client) networkError(req *http.Request, err error) error {
	return errors.Newf("%s %s: %w", req.Method, req.URL.Path, err).
		Component("apiclient").
		Category(errors.CategoryNetwork).
		Context("path", req.URL.Path).
		Build()
}

func (c *Client) decodeError(req *http.Request, err error) error {
	return errors.Newf("%s %s: malformed response: %w", req.Method, req.URL.Path, err).
		Component("apiclient").
		Category(errors.CategoryHTTP).
		Context("path", req.URL.Path).
		Build()
}
