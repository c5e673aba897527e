// Package proxy is the intercepting HTTP/HTTPS proxy that hosts the decision engine.
//
// Plain HTTP requests and, when a CA is configured, decrypted HTTPS requests are
// passed to the engine. A matched request is answered with its mock response;
// anything else is forwarded to the real server unmodified.
package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
)

const (
	// HeaderError names the response header carrying the kind of a failed decision.
	HeaderError = "X-Mockproxy-Error"

	// DefaultUpstreamTimeout bounds dialing and waiting for upstream response headers.
	DefaultUpstreamTimeout = 30 * time.Second
)

// Decider decides how to answer an intercepted request. *engine.Engine implements it.
type Decider interface {
	Decide(ctx context.Context, req engine.Request) (engine.Decision, error)
}

// Options configures proxy behavior.
type Options struct {
	// Engine decides intercepted requests. Nil forwards everything.
	Engine Decider
	// CAManager signs per-host certificates for HTTPS interception.
	// Nil tunnels CONNECT requests without looking inside.
	CAManager *CAManager
	// Filter limits which hosts are intercepted. Nil intercepts all hosts.
	Filter *Filter
	// Logger for traffic logging. Nil discards logs.
	Logger *slog.Logger
	// Transport sends forwarded requests. Nil uses a transport that does not follow
	// proxy environment variables and accepts any upstream certificate.
	Transport http.RoundTripper
	// UpstreamTimeout bounds upstream dials and response headers.
	UpstreamTimeout time.Duration
}

// Proxy is an HTTP/HTTPS MITM proxy server.
type Proxy struct {
	engine  Decider
	ca      *CAManager
	filter  *Filter
	logger  *slog.Logger
	client  *http.Client
	timeout time.Duration
}

// New creates a new Proxy with the given options.
func New(opts Options) *Proxy {
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}

	transport := opts.Transport
	if transport == nil {
		transport = newUpstreamTransport(timeout)
	}

	return &Proxy{
		engine:  opts.Engine,
		ca:      opts.CAManager,
		filter:  opts.Filter,
		logger:  logging.OrNop(opts.Logger),
		timeout: timeout,
		client: &http.Client{
			Transport: transport,
			// Redirects go back to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func newUpstreamTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:       nil,
		DialContext: dialer.DialContext,
		//nolint:gosec // G402: the proxy talks to whatever server the client asked for
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
		// Bodies pass through byte for byte.
		DisableCompression: true,
	}
}

// CAManager returns the CA manager, or nil.
func (p *Proxy) CAManager() *CAManager {
	return p.ca
}

// ServeHTTP implements http.Handler for the proxy.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}
