package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/locussync/errors"
)

// guard is the URL policy applied to every request, redirect and dial.
// Locus URLs come from server payloads, so they are not trusted blindly.
type guard struct {
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
}

func newGuard(allowedSchemes []string, allowPrivate bool, maxRedirects int) *guard {
	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"http", "https"}
	}
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	return &guard{
		allowedSchemes: allowedSchemes,
		blockPrivateIP: !allowPrivate,
		maxRedirects:   maxRedirects,
	}
}

// validate parses and checks a request URL.
func (g *guard) validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := g.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (g *guard) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(g.allowedSchemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, g.allowedSchemes)
	}

	// http://evil.com@localhost/
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL contains @ character (credentials or host confusion)")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if g.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private IP address blocked: %s", hostname)
		}
	}
	return nil
}

func (g *guard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= g.maxRedirects {
		return errors.Newf("stopped after %d redirects", g.maxRedirects)
	}
	if err := g.validateURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	return nil
}

// transport returns an http.Transport dialing through dialContext.
func (g *guard) transport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           g.dialContext(),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// dialContext re-checks resolved addresses, so DNS cannot point a public
// name at a private address.
func (g *guard) dialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !g.blockPrivateIP {
		return dialer.DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, errors.Newf("private IP address blocked: %s", ip)
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}

// validateWebsocket checks a ws or wss URL as its http or https equivalent.
func (g *guard) validateWebsocket(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return errors.Newf("scheme %q is not a websocket scheme", u.Scheme)
	}
	return g.validateURL(u)
}

var reservedV4 = []*net.IPNet{
	mustCIDR("0.0.0.0/8"),
	mustCIDR("100.64.0.0/10"), // carrier-grade NAT
	mustCIDR("240.0.0.0/4"),
}

var documentationV6 = mustCIDR("2001:db8::/32")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// isPrivateIP reports whether ip is loopback, private, link-local,
// multicast, unspecified or reserved.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		for _, block := range reservedV4 {
			if block.Contains(ip4) {
				return true
			}
		}
		return false
	}
	// fec0::/10, deprecated site-local
	if ip[0] == 0xfe && ip[1]&0xc0 == 0xc0 {
		return true
	}
	return documentationV6.Contains(ip)
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
