// Package httpclient is the HTTP transport to the locus service.
//
// Client implements sync.Transport on top of go-retryablehttp: transient
// failures (connection errors, 5xx, 429) are retried with linear jitter
// backoff, requests are rate limited per client and every request carries a
// TrackingID header for correlation with server logs.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/logger"
	syncPkg "github.com/teranos/locussync/sync"
	"github.com/teranos/locussync/version"
)

var userAgent = version.Get().UserAgent()

// TrackingIDHeader carries a per-request identifier.
const TrackingIDHeader = "TrackingID"

// maxBodySize bounds response bodies read into memory.
const maxBodySize = 32 << 20

// Options configures a Client. Zero values take the defaults noted.
type Options struct {
	Timeout      time.Duration // 30s
	RetryMax     int           // 3
	RetryWaitMin time.Duration // 500ms
	RetryWaitMax time.Duration // 5s

	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int

	// Token is sent as a bearer Authorization header when set.
	Token string
	// TrackingPrefix prefixes generated tracking ids.
	TrackingPrefix string

	AllowedSchemes []string
	MaxRedirects   int
	// AllowPrivate permits loopback and private addresses.
	AllowPrivate bool

	Logger *zap.SugaredLogger
}

// Client is safe for concurrent use.
type Client struct {
	http    *retryablehttp.Client
	guard   *guard
	limiter *rate.Limiter
	token   string
	prefix  string
	logger  *zap.SugaredLogger
}

var _ syncPkg.Transport = (*Client)(nil)

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	} else if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 10 * opts.RetryWaitMin
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("httpclient")
	}
	if opts.TrackingPrefix == "" {
		opts.TrackingPrefix = "locussync"
	}

	g := newGuard(opts.AllowedSchemes, opts.AllowPrivate, opts.MaxRedirects)
	c := &Client{
		guard:  g,
		token:  opts.Token,
		prefix: opts.TrackingPrefix,
		logger: opts.Logger,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	c.http = &retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout:       opts.Timeout,
			Transport:     g.transport(),
			CheckRedirect: g.checkRedirect,
		},
		Logger:       leveledLogger{inner: opts.Logger},
		RetryMax:     opts.RetryMax,
		RetryWaitMin: opts.RetryWaitMin,
		RetryWaitMax: opts.RetryWaitMax,
		Backoff:      retryablehttp.LinearJitterBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		ResponseLogHook: func(_ retryablehttp.Logger, resp *http.Response) {
			opts.Logger.Debugw("Response received",
				logger.FieldURL, resp.Request.URL.String(),
				logger.FieldStatus, resp.StatusCode,
				logger.FieldTrackingID, resp.Request.Header.Get(TrackingIDHeader),
			)
		},
	}
	return c
}

// StatusError is returned for non-2xx responses after retries.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return e.Method + " " + e.URL + ": " + http.StatusText(e.Status) + " (" + strconv.Itoa(e.Status) + ")"
}

// Request implements sync.Transport. A 204 or an empty body yields a
// Response with no Body.
func (c *Client) Request(ctx context.Context, req syncPkg.Request) (*syncPkg.Response, error) {
	if _, err := c.guard.validate(req.URI); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	var body any
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		body = raw
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, req.URI, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	trackingID := c.prefix + "_" + uuid.NewString()
	httpReq.Header.Set(TrackingIDHeader, trackingID)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, req.URI)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrapf(err, "read response of %s %s", method, req.URI)
	}

	c.logger.Debugw("Locus request",
		logger.FieldMethod, method,
		logger.FieldURL, req.URI,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldTrackingID, trackingID,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.WithDetailf(
			&StatusError{Method: method, URL: req.URI, Status: resp.StatusCode, Body: string(data)},
			"tracking id %s", trackingID,
		)
	}

	out := &syncPkg.Response{Headers: resp.Header}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 {
		out.Body = json.RawMessage(trimmed)
	}
	return out, nil
}

// GetJSON fetches uri and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, uri string, out any) error {
	resp, err := c.Request(ctx, syncPkg.Request{Method: http.MethodGet, URI: uri})
	if err != nil {
		return err
	}
	if len(resp.Body) == 0 {
		return errors.Newf("GET %s: empty response", uri)
	}
	return errors.Wrapf(json.Unmarshal(resp.Body, out), "decode %s", uri)
}

// leveledLogger adapts a zap logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	inner *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.inner.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.inner.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.inner.Warnw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.inner.Debugw(msg, kv...) }
