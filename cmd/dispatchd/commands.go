package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/intexuraos/code-dispatch/internal/config"
	"github.com/intexuraos/code-dispatch/internal/dispatch"
	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/mirror"
	"github.com/intexuraos/code-dispatch/internal/notify"
	"github.com/intexuraos/code-dispatch/internal/reclaim"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
	"github.com/intexuraos/code-dispatch/internal/workers"
	"github.com/intexuraos/code-dispatch/web/api"
)

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch API server and zombie reclaimer",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured listen port")
	rootCmd.AddCommand(serveCmd)

	reclaimCmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Run one zombie reclamation pass and exit",
		RunE:  runReclaim,
	}
	rootCmd.AddCommand(reclaimCmd)

	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "Probe the configured worker pool and show health",
		RunE:  runWorkers,
	}
	rootCmd.AddCommand(workersCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// buildRegistry parses the configured worker pool. Malformed entries are
// skipped with a warning unless workers.strict is set.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*workers.Registry, error) {
	pool, parseErrs := config.ParseWorkerPool(cfg.Workers.Pool)
	if len(parseErrs) > 0 {
		if cfg.Workers.Strict {
			return nil, fmt.Errorf("worker pool: %w", parseErrs[0])
		}
		for _, perr := range parseErrs {
			logger.Warn("skipping malformed worker pool entry",
				slog.String("entry", perr.Entry),
				slog.String("reason", perr.Reason))
		}
	}
	if len(pool) == 0 {
		return nil, errors.New("worker pool is empty; set workers.pool or DISPATCH_WORKER_POOL")
	}
	return workers.NewRegistry(pool), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	slog.SetDefault(logger)

	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	discovery := workers.NewDiscovery(registry, workers.NewHealthCache(workers.DefaultHealthTTL), logger)
	dispatcher := dispatch.NewWorkerDispatcher(discovery, logger)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifier = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}

	var statusMirror *mirror.Mirror
	if cfg.Mirror.BaseURL != "" {
		statusMirror = mirror.New(mirror.NewHTTPActionClient(cfg.Mirror.BaseURL, cfg.Mirror.Token), logger)
	}

	orch := dispatch.NewOrchestrator(store, dispatcher, notifier, statusMirror,
		cfg.General.WebhookBaseURL, cfg.General.SystemPromptVersion, logger)

	port := cfg.Web.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(store, orch, statusMirror, addr, logger)

	reclaimer := reclaim.New(store, statusMirror, cfg.Reclaim.Threshold(), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error {
		err := reclaimer.Start(ctx, cfg.Reclaim.Cron)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	orch.Drain()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runReclaim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()

	var statusMirror *mirror.Mirror
	if cfg.Mirror.BaseURL != "" {
		statusMirror = mirror.New(mirror.NewHTTPActionClient(cfg.Mirror.BaseURL, cfg.Mirror.Token), logger)
	}

	reclaimer := reclaim.New(store, statusMirror, cfg.Reclaim.Threshold(), logger)
	report, err := reclaimer.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("detected %d zombie task(s), interrupted %d\n", report.Detected, report.Interrupted)
	for _, rerr := range report.Errors {
		fmt.Fprintf(os.Stderr, "error: %v\n", rerr)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d task(s) could not be reclaimed", len(report.Errors))
	}
	return nil
}

func runWorkers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	discovery := workers.NewDiscovery(registry, workers.NewHealthCache(workers.DefaultHealthTTL), logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCATION\tPRIORITY\tHEALTHY\tCAPACITY")
	for _, worker := range registry.All() {
		health, err := discovery.CheckHealth(ctx, worker.Location)
		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t%s\t-\n", worker.Location, worker.Priority, probeFailure(err))
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%d\n", worker.Location, worker.Priority, health.Healthy, health.Capacity)
	}
	return w.Flush()
}

func probeFailure(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return string(derr.Code)
	}
	return "error"
}
