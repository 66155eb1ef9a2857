package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/municipal-events/internal/collector"
	"github.com/pfrederiksen/municipal-events/internal/config"
	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/metrics"
	"github.com/pfrederiksen/municipal-events/internal/runner"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
	"github.com/pfrederiksen/municipal-events/internal/storage/postgres"
	"github.com/pfrederiksen/municipal-events/internal/storage/sqlite"
)

const (
	ExitSuccess    = 0
	ExitError      = 1
	ExitRunsFailed = 2
)

// ErrRunsFailed is returned by scrape commands when at least one run failed.
var ErrRunsFailed = errors.New("one or more runs failed")

// app carries the global flags and the loaded configuration through the
// command tree.
type app struct {
	configPath string
	logLevel   string
	format     string

	cfg *config.Config
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "municipal-events",
		Short: "Collect and reconcile events from municipal websites",
		Long: `A CLI tool that scrapes event calendars of municipal websites into one
store of events, venues and run records. Venues are geocoded on first
sight and queued for manual review when no coordinates are found.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	cmd.PersistentFlags().StringVar(&a.format, "format", "text", "Output format: text or json")

	cmd.AddCommand(
		a.newScrapeCmd(),
		a.newScheduleCmd(),
		a.newSourcesCmd(),
		a.newLocationsCmd(),
		a.newEventsCmd(),
		a.newStatsCmd(),
		a.newLogsCmd(),
	)
	return cmd
}

// setup loads the configuration and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if _, err := parseFormat(a.format); err != nil {
		return err
	}

	path := a.configPath
	if strings.HasPrefix(path, "~/") {
		expanded, err := storage.ExpandPath(path)
		if err != nil {
			return err
		}
		path = expanded
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.New(level, cmd.ErrOrStderr()))

	a.cfg = cfg
	return nil
}

func (a *app) outputFormat() OutputFormat {
	f, _ := parseFormat(a.format)
	return f
}

// openStore opens the configured storage backend.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, a.cfg.Database.URL)
	default:
		return sqlite.Open(ctx, a.cfg.Database.Path)
	}
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func (a *app) registry() (*collector.Registry, error) {
	return collector.NewDefaultRegistry(a.cfg.Collectors)
}

// geocoder returns the configured geocoder, or nil when neither an API key
// nor dry-run mode is configured.
func (a *app) geocoder() geocode.Geocoder {
	g := a.cfg.Geocoding
	switch {
	case g.DryRun:
		return geocode.NewDryRun()
	case g.APIKey != "":
		opts := []geocode.GoogleOption{
			geocode.WithLanguage(g.Language, g.Region),
			geocode.WithTimeout(g.Timeout),
		}
		if g.BaseURL != "" {
			opts = append(opts, geocode.WithBaseURL(g.BaseURL))
		}
		return geocode.NewGoogleClient(g.APIKey, opts...)
	default:
		logger.Warn("No geocoding API key configured, new locations without coordinates stay pending", nil)
		return nil
	}
}

func (a *app) newRunner(store storage.Store, m *metrics.Metrics, debug bool) (*runner.Runner, error) {
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}
	return runner.New(store, registry, a.geocoder(),
		runner.WithFetcherConfig(a.cfg.Scraper.FetcherConfig()),
		runner.WithMetrics(m),
		runner.WithDebug(debug),
	), nil
}

// resolveSource finds a source by collector name or numeric id.
func resolveSource(ctx context.Context, store storage.Store, ref string) (*source.Source, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.GetSource(ctx, id)
	}
	return store.GetSourceByCollector(ctx, strings.TrimSpace(ref))
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", arg)
	}
	return id, nil
}

// Execute runs the CLI
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, ErrRunsFailed) {
			return ExitRunsFailed
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitSuccess
}
