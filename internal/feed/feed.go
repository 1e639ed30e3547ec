// Package feed reads locus service messages from a websocket and hands them
// to a sync.Parser. Each text frame is one JSON message; it is classified
// once with sync.DecodeInbound and dispatched. The connection is re-dialed
// with exponential backoff until the context ends.
package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/logger"
	syncPkg "github.com/teranos/locussync/sync"
)

// Dispatcher is the receiving side of the feed. *sync.Parser implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in syncPkg.Inbound) error
}

// Conn is the part of a websocket connection the feed reads from.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Options configures a Feed.
type Options struct {
	URL    string
	Header http.Header

	// ReconnectMin and ReconnectMax bound the backoff between dials.
	ReconnectMin time.Duration // 1s
	ReconnectMax time.Duration // 1m
	// ReadLimit caps a single frame in bytes.
	ReadLimit int64 // 16 MiB

	// CheckURL vets URL before the first dial. A rejected URL ends Run.
	CheckURL func(url string) error
	// Dialer is used by the default Dial. Nil means a plain gorilla dialer.
	Dialer *websocket.Dialer

	Dial   DialFunc
	Clock  clockwork.Clock
	Logger *zap.SugaredLogger
}

// Feed is a reconnecting websocket reader.
type Feed struct {
	target Dispatcher
	opts   Options
	logger *zap.SugaredLogger
}

// New returns a Feed delivering to target.
func New(target Dispatcher, opts Options) *Feed {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = time.Minute
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 16 << 20
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dial == nil {
		opts.Dial = gorillaDialer(opts.Dialer, opts.ReadLimit)
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("feed")
	}
	return &Feed{
		target: target,
		opts:   opts,
		logger: opts.Logger.With(logger.FieldURL, opts.URL),
	}
}

// Run reads until ctx is done. Connection failures are retried; only ctx
// ending or a rejected URL stops it.
func (f *Feed) Run(ctx context.Context) error {
	if f.opts.URL == "" {
		return errors.New("feed URL is required")
	}
	if f.opts.CheckURL != nil {
		if err := f.opts.CheckURL(f.opts.URL); err != nil {
			return errors.Wrapf(err, "feed URL %s rejected", f.opts.URL)
		}
	}

	wait := f.opts.ReconnectMin
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			wait = f.opts.ReconnectMin
		}
		f.logger.Warnw("Feed disconnected, reconnecting",
			logger.FieldError, err,
			logger.FieldDelayMS, wait.Milliseconds(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.opts.Clock.After(wait):
		}
		wait *= 2
		if wait > f.opts.ReconnectMax {
			wait = f.opts.ReconnectMax
		}
	}
}

// session dials once and reads until the connection fails. connected
// reports whether the dial succeeded.
func (f *Feed) session(ctx context.Context) (connected bool, err error) {
	conn, err := f.opts.Dial(ctx, f.opts.URL, f.opts.Header)
	if err != nil {
		return false, errors.Wrapf(err, "dial %s", f.opts.URL)
	}
	f.logger.Infow("Feed connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	return true, f.Serve(ctx, conn)
}

// Serve reads frames from conn until it fails. Malformed messages are logged
// and skipped.
func (f *Feed) Serve(ctx context.Context, conn Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		in, err := syncPkg.DecodeInbound(data)
		if err != nil {
			f.logger.Warnw("Skipping malformed feed message", logger.FieldError, err)
			continue
		}
		if err := f.target.Dispatch(ctx, in); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warnw("Feed message rejected", logger.FieldError, err)
		}
	}
}

// gorillaConn wraps gorilla/websocket.Conn to implement Conn.
type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() (int, []byte, error) { return c.conn.ReadMessage() }
func (c *gorillaConn) Close() error                      { return c.conn.Close() }

func gorillaDialer(dialer *websocket.Dialer, readLimit int64) DialFunc {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		}
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, errors.WithDetailf(err, "handshake status %d", resp.StatusCode)
			}
			return nil, err
		}
		conn.SetReadLimit(readLimit)
		return &gorillaConn{conn: conn}, nil
	}
}

// HTTPToWS converts http(s) URLs to ws(s) URLs.
func HTTPToWS(url string) string {
	if len(url) >= 8 && url[:8] == "https://" {
		return "wss://" + url[8:]
	}
	if len(url) >= 7 && url[:7] == "http://" {
		return "ws://" + url[7:]
	}
	return url
}
