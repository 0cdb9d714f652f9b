// Package httpretry is the single chokepoint for outbound calls to compute
// APIs. It encodes how much transient failure is tolerable: a hard
// per-attempt timeout, bounded linear-backoff retry on network failures and
// 5xx responses, and no retry at all for anything else.
package httpretry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/observability"
)

const (
	DefaultRetries = 2
	DefaultTimeout = 10 * time.Second

	// backoffStep is multiplied by the attempt number: 500ms, 1s, 1.5s...
	backoffStep = 500 * time.Millisecond
)

// ErrRetriesExhausted marks a request that failed transiently on every
// allowed attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Response is a fully-read HTTP response. The body is drained inside the
// attempt so the per-attempt timeout covers the read.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON unmarshals the body.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Options configures one request. Zero values take the package defaults;
// RetriesSet distinguishes "0 retries" from "unset".
type Options struct {
	Method     string
	Header     http.Header
	Body       []byte
	Retries    int
	RetriesSet bool
	Timeout    time.Duration
}

type Client struct {
	http *http.Client
	log  *zap.Logger

	// step overrides the backoff step; tests shrink it.
	step time.Duration
}

func New(log *zap.Logger) *Client {
	return &Client{
		// Transport-level timeout stays off: each attempt carries its own
		// context deadline and the overall budget belongs to the caller.
		http: &http.Client{},
		log:  log,
		step: backoffStep,
	}
}

// Do executes the request with bounded retry. Network failures and 5xx
// responses are retried up to opts.Retries additional times with linearly
// increasing backoff; any other response, including 4xx, is returned as-is.
// On exhaustion the returned error wraps ErrRetriesExhausted.
func (c *Client) Do(ctx context.Context, url string, opts Options) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	retries := DefaultRetries
	if opts.RetriesSet {
		retries = opts.Retries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.attempt(ctx, method, url, opts, timeout)
		if err != nil {
			observability.OutboundRetryTotal.Inc()
			c.log.Warn("outbound request failed",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		if r.StatusCode >= 500 {
			observability.OutboundRetryTotal.Inc()
			c.log.Warn("outbound request got server error",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("status", r.Status))
			return fmt.Errorf("server error: %s", r.Status)
		}
		resp = r
		return nil
	}

	lb := &linearBackOff{step: c.step}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(lb, uint64(retries)), ctx))
	if err != nil {
		observability.OutboundExhaustedTotal.Inc()
		return nil, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrRetriesExhausted, method, url, attempt, err)
	}

	observability.OutboundRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, opts Options, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(actx, method, url, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	r, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Header,
		Body:       b,
	}, nil
}

// DoJSON marshals in (when non-nil), sends it with a JSON content type, and
// unmarshals a 2xx body into out (when non-nil). Non-2xx responses are
// returned to the caller unconverted so it can decide what a 404 or 422
// means for its operation.
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out any, opts Options) (*Response, error) {
	opts.Method = method
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		opts.Body = b
	}
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	if opts.Header.Get("Content-Type") == "" && in != nil {
		opts.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if resp.OK() && out != nil && len(resp.Body) > 0 {
		if err := resp.JSON(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// linearBackOff waits attempt*step between attempts.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
