// Package workerclient is a typed, schema-checked, timeout-bounded client
// for the discovery worker.
//
// Every call follows the same pipeline: the request is validated against
// its JSON schema, posted once under a cancellation scope, and the response
// is validated before it is decoded. Failures at any stage surface as one
// of four error types (ValidationError, TimeoutError, NetworkError,
// UpstreamError); use KindOf, IsKind and Retryable to classify them.
//
// The client never retries, never logs, and keeps no state between calls.
package workerclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	discoverPath = "/discover"
	profilesPath = "/profiles/"
)

var profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Client is bound to one worker deployment. It is safe for concurrent use.
type Client struct {
	baseURL   string
	timeout   time.Duration
	profile   string
	validator *Validator
	invoker   *Invoker
}

type options struct {
	doer      Doer
	validator *Validator
	tp        trace.TracerProvider
}

// Option customizes a Client.
type Option func(*options)

// WithHTTPClient sets the transport used for worker calls.
func WithHTTPClient(doer Doer) Option {
	return func(o *options) { o.doer = doer }
}

// WithValidator overrides the schema validator.
func WithValidator(v *Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithTracerProvider sets the provider for call spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// New validates cfg, applies defaults and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse worker base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("worker base url %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("worker timeout must be > 0, got %s", timeout)
	}
	profile := cfg.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	if !profileNamePattern.MatchString(profile) {
		return nil, fmt.Errorf("invalid worker profile name %q", profile)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.validator == nil {
		v, err := defaultValidator()
		if err != nil {
			return nil, fmt.Errorf("load worker schemas: %w", err)
		}
		o.validator = v
	}
	if o.doer == nil {
		o.doer = &http.Client{}
	}

	return &Client{
		baseURL:   base,
		timeout:   timeout,
		profile:   profile,
		validator: o.validator,
		invoker:   NewInvoker(base, o.doer, cfg.MaxResponseBytes, o.tp),
	}, nil
}

// NewFromURL returns a Client for baseURL with default settings.
func NewFromURL(baseURL string) (*Client, error) {
	return New(Config{BaseURL: baseURL})
}

// BaseURL returns the normalized worker root.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Profile returns the profile used by FetchProfile.
func (c *Client) Profile() string { return c.profile }

// Discover asks the worker to discover new posts on the site at rawURL.
func (c *Client) Discover(ctx context.Context, rawURL string) (Response, error) {
	body, err := c.validator.ValidateRequest(RequestDiscover, DiscoverRequest{URL: rawURL})
	if err != nil {
		return Response{}, err
	}
	return c.call(ctx, discoverPath, body)
}

// FetchProfile runs the client's configured profile. A nil monthsBack is
// left for the worker to default.
func (c *Client) FetchProfile(ctx context.Context, monthsBack *int) (Response, error) {
	return c.FetchNamedProfile(ctx, c.profile, monthsBack)
}

// FetchNamedProfile runs the named worker profile.
func (c *Client) FetchNamedProfile(ctx context.Context, name string, monthsBack *int) (Response, error) {
	if !profileNamePattern.MatchString(name) {
		return Response{}, &ValidationError{
			Stage:  StageRequest,
			Fields: []FieldError{{Field: "profile", Message: fmt.Sprintf("invalid profile name %q", name)}},
		}
	}
	body, err := c.validator.ValidateRequest(RequestProfile, ProfileRequest{MonthsBack: monthsBack})
	if err != nil {
		return Response{}, err
	}
	return c.call(ctx, profilesPath+name, body)
}

func (c *Client) call(ctx context.Context, path string, body []byte) (Response, error) {
	raw, err := c.invoker.Post(ctx, path, body, c.timeout)
	if err != nil {
		return Response{}, err
	}
	return c.validator.ValidateResponse(raw)
}
