// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitewatcher/internal/api"
	"github.com/JakeFAU/sitewatcher/internal/batch"
	"github.com/JakeFAU/sitewatcher/internal/clock/system"
	"github.com/JakeFAU/sitewatcher/internal/config"
	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/hash/sha256"
	"github.com/JakeFAU/sitewatcher/internal/id/uuid"
	"github.com/JakeFAU/sitewatcher/internal/metrics"
	"github.com/JakeFAU/sitewatcher/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/sitewatcher/internal/publisher/memory"
	pubgcp "github.com/JakeFAU/sitewatcher/internal/publisher/pubsub"
	"github.com/JakeFAU/sitewatcher/internal/storage/gcs"
	"github.com/JakeFAU/sitewatcher/internal/storage/local"
	blobmemory "github.com/JakeFAU/sitewatcher/internal/storage/memory"
	"github.com/JakeFAU/sitewatcher/internal/telemetry"
	"github.com/JakeFAU/sitewatcher/internal/transport"
	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// Options carries overrides used mostly by tests.
type Options struct {
	// PubSubOptions are passed to pubsub.NewClient.
	PubSubOptions []option.ClientOption
	// StorageOptions are passed to storage.NewClient.
	StorageOptions []option.ClientOption
	// SpanExporters replace the configured exporter when telemetry is
	// enabled.
	SpanExporters []sdktrace.SpanExporter
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the commands that need it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	client    *workerclient.Client
	service   *discovery.Service
	blobs     discovery.BlobStore
	publisher discovery.Publisher
	ids       *uuid.Generator
	clock     *system.Clock
	closers   []func() error
}

// New creates and initializes an App from cfg. It fails fast if any
// configured backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("initializing application services")
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(time.Millisecond),
	}

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Exporters:   opts.SpanExporters,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	httpClient, err := transport.NewClient(transport.Options{
		HTTP2:        cfg.Worker.HTTP2,
		MaxIdleConns: cfg.Worker.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("build worker transport: %w", err)
	}
	a.client, err = workerclient.New(workerclient.Config{
		BaseURL:          cfg.Worker.BaseURL,
		Timeout:          cfg.WorkerTimeout(),
		Profile:          cfg.Worker.Profile,
		MaxResponseBytes: cfg.Worker.MaxResponseBytes,
	},
		workerclient.WithHTTPClient(httpClient),
		workerclient.WithTracerProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build worker client: %w", err)
	}
	a.service = discovery.NewService(a.client, a.client.Profile(), logger.Named("discovery"))

	if err := a.initBlobStore(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("worker", a.client.BaseURL()),
		zap.Duration("timeout", a.client.Timeout()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

func (a *App) initBlobStore(ctx context.Context, opts Options) error {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobs = store
	case config.StorageGCS:
		client, err := storage.NewClient(ctx, opts.StorageOptions...)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	default:
		a.blobs = blobmemory.NewBlobStore()
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, opts Options) error {
	if a.cfg.PubSub.TopicName == "" {
		a.publisher = pubmemory.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, opts.PubSubOptions...)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubgcp.New(client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = pub
	// Flush topics before the client goes away.
	a.closers = append(a.closers, pub.Close, client.Close)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Client returns the worker client.
func (a *App) Client() *workerclient.Client { return a.client }

// Service returns the logging and metrics wrapper around the client.
func (a *App) Service() *discovery.Service { return a.service }

// BlobStore returns the configured report sink.
func (a *App) BlobStore() discovery.BlobStore { return a.blobs }

// Publisher returns the configured event publisher.
func (a *App) Publisher() discovery.Publisher { return a.publisher }

// NewBatchRunner assembles a batch runner from the app's services. topic
// and reportPrefix override the configured values when non-empty.
func (a *App) NewBatchRunner(topic, reportPrefix string) (*batch.Runner, error) {
	if topic == "" {
		topic = a.cfg.PubSub.TopicName
	}
	if reportPrefix == "" {
		reportPrefix = a.cfg.Batch.ReportPrefix
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Batch.RatePerSecond,
		DefaultBurst: a.cfg.Batch.Burst,
	})
	runner, err := batch.NewRunner(batch.Deps{
		Executor:  a.service,
		Limiter:   limiter,
		Publisher: a.publisher,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		IDs:       a.ids,
		Blobs:     a.blobs,
	}, batch.Config{
		Concurrency:  a.cfg.Batch.Concurrency,
		QueueDepth:   a.cfg.Batch.QueueDepth,
		Topic:        topic,
		ReportPrefix: reportPrefix,
		RateLimitKey: a.client.BaseURL(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build batch runner: %w", err)
	}
	return runner, nil
}

// NewServer builds the gateway over the app's services.
func (a *App) NewServer() *api.Server {
	return api.NewServer(a.service, a.ids, a.cfg, a.logger.Named("api"))
}

// Close gracefully shuts down all services in the App container, in
// registration order.
func (a *App) Close() {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	// Sync errors on stderr are expected on some platforms; nothing to do.
	_ = a.logger.Sync()
}
