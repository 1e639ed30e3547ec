package sync

//go:generate mockgen -package=sync -destination=transport_mock.go -source=./transport.go

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Request is one call to the locus service.
type Request struct {
	Method string
	URI    string
	Body   any
}

// Response carries the raw JSON body; an empty body means no content.
type Response struct {
	Body    json.RawMessage
	Headers http.Header
}

// Transport executes requests against the locus service. Failures are
// returned as errors and are opaque to the parser.
type Transport interface {
	Request(ctx context.Context, req Request) (*Response, error)
}

// RequestFunc adapts a plain function to Transport.
type RequestFunc func(ctx context.Context, req Request) (*Response, error)

func (f RequestFunc) Request(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

func hashTreeURL(dataSetURL string) string {
	return strings.TrimSuffix(dataSetURL, "/") + "/hashtree"
}

func syncURL(dataSetURL string) string {
	return strings.TrimSuffix(dataSetURL, "/") + "/sync"
}
