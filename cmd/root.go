// Package cmd defines and implements the CLI commands for the sitewatcher executable.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sitewatcher/internal/api"
	"github.com/JakeFAU/sitewatcher/internal/app"
	"github.com/JakeFAU/sitewatcher/internal/batch"
	"github.com/JakeFAU/sitewatcher/internal/config"
	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/logging"
)

// Output formats accepted by --output.
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// Tests swap in their own factory through newApp.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Service() *discovery.Service
	BlobStore() discovery.BlobStore
	NewBatchRunner(topic, reportPrefix string) (*batch.Runner, error)
	NewServer() *api.Server
}

// rootOptions holds the persistent flags and the app built from them.
type rootOptions struct {
	configFile string
	output     string
	app        App
}

// closeApp shuts the app down. It runs after Execute returns, since cobra
// skips post-run hooks when a command fails.
func (o *rootOptions) closeApp() {
	if o.app != nil {
		o.app.Close()
		o.app = nil
	}
}

// newApp is the application factory. It's a variable so tests can build
// the app against a fake worker.
var newApp = func(ctx context.Context, configFile string) (App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command. Callers must call
// opts.closeApp once execution finishes.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitewatcher",
		Short: "Client, gateway and batch runner for the site discovery worker.",
		Long: `sitewatcher talks to a deployed discovery worker. It validates every
request and response against the worker's schemas, exposes the worker
behind an authenticated HTTP gateway, and runs batches of discovery
tasks with per-host rate limiting.`,
		SilenceUsage: true,

		// Build the application once and hand it to subcommands via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != outputJSON && opts.output != outputYAML {
				return fmt.Errorf("unknown output format %q (want json or yaml)", opts.output)
			}
			appInstance, err := newApp(cmd.Context(), opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputJSON, "output format: json or yaml")

	cmd.AddCommand(
		newDiscoverCmd(opts),
		newProfileCmd(opts),
		newBatchCmd(opts),
		newReportCmd(opts),
		newServeCmd(),
	)
	return cmd
}

// resolveApp returns the App stored by PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// writeOutput renders v to w in the selected format.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// Execute is the main entry point.
func Execute() {
	opts := &rootOptions{}
	err := newRootCmd(opts).Execute()
	opts.closeApp()
	if err != nil {
		// The app logger may not exist yet; fall back to a bare one.
		logger, lerr := logging.New(logging.Options{})
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
