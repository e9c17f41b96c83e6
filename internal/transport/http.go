// Package transport builds the HTTP clients used to reach the discovery worker.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultMaxIdleConns    = 100
	defaultIdleConnTimeout = 90 * time.Second
	h2ReadIdleTimeout      = 30 * time.Second
	h2PingTimeout          = 10 * time.Second
)

// Options tunes the worker HTTP client.
type Options struct {
	// HTTP2 negotiates h2 over TLS and enables connection health pings.
	HTTP2 bool
	// MaxIdleConns caps pooled idle connections. Zero keeps the default.
	MaxIdleConns int
	// TLSConfig overrides the TLS client settings, mostly for tests.
	TLSConfig *tls.Config
}

// NewClient returns an *http.Client without a global timeout; callers bound
// each request through its context.
func NewClient(opts Options) (*http.Client, error) {
	if opts.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle conns must be >= 0, got %d", opts.MaxIdleConns)
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleConns
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAlive,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.TLSConfig != nil {
		tr.TLSClientConfig = opts.TLSConfig.Clone()
	} else {
		tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if opts.HTTP2 {
		h2, err := http2.ConfigureTransports(tr)
		if err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
		h2.ReadIdleTimeout = h2ReadIdleTimeout
		h2.PingTimeout = h2PingTimeout
	}

	return &http.Client{Transport: tr}, nil
}
