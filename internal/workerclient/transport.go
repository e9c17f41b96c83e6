package workerclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/JakeFAU/sitewatcher/internal/workerclient"

// Doer is the HTTP transport the invoker drives. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Invoker performs exactly one POST per call and classifies every failure.
type Invoker struct {
	baseURL  string
	doer     Doer
	maxBytes int64
	tracer   trace.Tracer
}

// NewInvoker builds an Invoker rooted at baseURL. baseURL must already be
// normalized (no trailing slash).
func NewInvoker(baseURL string, doer Doer, maxBytes int64, tp trace.TracerProvider) *Invoker {
	if doer == nil {
		doer = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Invoker{
		baseURL:  baseURL,
		doer:     doer,
		maxBytes: maxBytes,
		tracer:   tp.Tracer(tracerName),
	}
}

// Post sends body to path and returns the raw 2xx response body. The call
// is bounded by timeout; its cancellation scope is released before Post
// returns on every path.
func (i *Invoker) Post(ctx context.Context, path string, body []byte, timeout time.Duration) (_ []byte, err error) {
	ctx, span := i.tracer.Start(ctx, "workerclient.post",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("worker.path", path)),
	)
	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("worker.error_kind", string(KindOf(err))))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, i.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := i.doer.Do(req)
	if err != nil {
		return nil, classify(ctx, callCtx, timeout, err)
	}
	defer func() {
		// Drain so the connection can be reused; errors here change nothing.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, i.maxBytes))
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes))
	if readErr != nil {
		return nil, classify(ctx, callCtx, timeout, fmt.Errorf("read response body: %w", readErr))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(payload),
		}
	}
	return payload, nil
}

// classify maps a transport fault onto Timeout or Network. The call scope
// expiring is a timeout; the caller canceling its own context is not.
func classify(parent, call context.Context, timeout time.Duration, err error) error {
	if errors.Is(call.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{Timeout: timeout}
	}
	if parentErr := parent.Err(); parentErr != nil {
		return &NetworkError{Err: parentErr}
	}
	return &NetworkError{Err: unwrapURLError(err)}
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}

// unwrapURLError strips the "Post \"url\": " wrapper net/http adds so the
// message names the fault itself.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok && ue.Err != nil {
		return ue.Err
	}
	return err
}
