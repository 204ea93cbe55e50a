// Package transport builds the HTTP round trippers used to reach the
// storefront API.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

// Options selects the transport stack.
type Options struct {
	// ChromeTLS presents a Chrome TLS fingerprint on https connections.
	ChromeTLS bool
	// Timeout bounds connection establishment.
	Timeout time.Duration
	// Tracing wraps the transport with OpenTelemetry client spans.
	Tracing bool
}

// New returns the round tripper described by opts.
func New(opts Options) http.RoundTripper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var rt http.RoundTripper
	if opts.ChromeTLS {
		rt = NewChromeTransport(opts.Timeout)
	} else {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSHandshakeTimeout = opts.Timeout
		rt = base
	}

	if opts.Tracing {
		rt = otelhttp.NewTransport(rt,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "storefront " + r.Method + " " + r.URL.Path
			}),
		)
	}
	return rt
}

// NewClient wraps New in an http.Client with the given cookie jar.
// The client-level timeout is the per-request budget.
func NewClient(opts Options, jar http.CookieJar) *http.Client {
	client := &http.Client{
		Transport: New(opts),
		Jar:       jar,
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}
	return client
}

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Go's standard TLS client has a distinctive JA3 fingerprint that some CDNs
// in front of storefront backends throttle. This transport dials with uTLS
// using HelloChrome_Auto, lets ALPN pick h2 or http/1.1, and frames h2 with
// x/net/http2.
// =============================================================================

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint. Plain http requests skip the h2 attempt.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dialTLS := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChromeTLS(ctx, dialer, network, addr)
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialTLS(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialContext:         dialer.DialContext,
			DialTLSContext:      dialTLS,
			TLSHandshakeTimeout: timeout,
			ForceAttemptHTTP2:   false,
		},
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip tries HTTP/2 for https, falling back to HTTP/1.1 when the
// server does not speak h2.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// A body already consumed by the h2 attempt cannot be replayed
	if req.Body != nil && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}
