package discovery

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// Caller performs the two typed worker operations.
type Caller interface {
	Discover(ctx context.Context, rawURL string) (workerclient.Response, error)
	FetchNamedProfile(ctx context.Context, name string, monthsBack *int) (workerclient.Response, error)
}

// BlobStore writes batch artifacts, returning a URI, and reads them back.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject returns storage.ErrNotFound when nothing exists at path.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes result events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for batch tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter bounds the call rate per worker host.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// ResultSink collects finished task results.
type ResultSink interface {
	Record(result Result)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch and task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
