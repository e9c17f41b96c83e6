package workerclient

import "time"

// Default settings applied by New when the config leaves them unset.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultProfile          = "rcmp-fsj"
	DefaultMaxResponseBytes = 10 << 20
)

// Config binds a client to one worker deployment.
type Config struct {
	// BaseURL is the worker root, e.g. https://worker.example. One trailing
	// slash is dropped.
	BaseURL string
	// Timeout bounds each call. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Profile names the profile used by FetchProfile.
	Profile string
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64
}

// DiscoverRequest is the body sent to /discover.
type DiscoverRequest struct {
	URL string `json:"url"`
}

// ProfileRequest is the body sent to /profiles/{name}. A nil MonthsBack is
// omitted from the payload rather than sent as null.
type ProfileRequest struct {
	MonthsBack *int `json:"monthsBack,omitempty"`
}

// Response is one discovery result returned by the worker.
type Response struct {
	Source      string         `json:"source" yaml:"source"`
	Links       []string       `json:"links,omitempty" yaml:"links,omitempty"`
	Feeds       []string       `json:"feeds,omitempty" yaml:"feeds,omitempty"`
	Count       int            `json:"count" yaml:"count"`
	Diagnostics map[string]any `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}
