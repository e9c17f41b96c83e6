package workerclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is the coarse classification of a worker call failure.
type Kind string

// Failure kinds surfaced by the client.
const (
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindNetwork    Kind = "network"
	KindUpstream   Kind = "upstream"
)

// Stage identifies which side of the call failed validation.
type Stage string

// Validation stages.
const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// Error is implemented by every failure the client returns. The set of
// implementations is closed: ValidationError, TimeoutError, NetworkError
// and UpstreamError.
type Error interface {
	error
	Kind() Kind
	sealed()
}

// FieldError describes one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a request or response that failed its schema.
type ValidationError struct {
	Stage  Stage
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("Worker %s failed validation: %s", e.Stage, strings.Join(parts, "; "))
}

// Kind returns KindValidation.
func (*ValidationError) Kind() Kind { return KindValidation }
func (*ValidationError) sealed()    {}

// TimeoutError reports a call that did not settle within its window.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string { return "Worker request timed out" }

// Kind returns KindTimeout.
func (*TimeoutError) Kind() Kind { return KindTimeout }
func (*TimeoutError) sealed()    {}

// NetworkError reports a transport fault before any response arrived.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Worker request failed: %v", e.Err)
}

// Unwrap exposes the underlying transport fault.
func (e *NetworkError) Unwrap() error { return e.Err }

// Kind returns KindNetwork.
func (*NetworkError) Kind() Kind { return KindNetwork }
func (*NetworkError) sealed()    {}

// UpstreamError reports a non-2xx answer from the worker.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("Worker request failed: %s", status)
}

// Kind returns KindUpstream.
func (*UpstreamError) Kind() Kind { return KindUpstream }
func (*UpstreamError) sealed()    {}

// KindOf returns the kind of the first client error in err's chain, or ""
// when err did not come from this package.
func KindOf(err error) Kind {
	var ce Error
	if errors.As(err, &ce) {
		return ce.Kind()
	}
	return ""
}

// IsKind reports whether err carries a client error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the worker's HTTP status for upstream failures and 0
// for every other error.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// Retryable reports whether repeating the same call could succeed.
// Validation failures never are; upstream failures only for 5xx.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return true
	case KindUpstream:
		return StatusCode(err) >= http.StatusInternalServerError
	default:
		return false
	}
}
