package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/api"
	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/scheduler"
)

const runDrainTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live view and scheduled scans",
		Long: `Serve the HTTP API in the foreground. Scans are started and cancelled over
the API, every record transition is streamed on /api/v1/ws and Prometheus
metrics are exposed on /metrics. When a schedule is configured, scans also
start on its cron expression; a tick is skipped while a scan is running.`,
		Example: `  inventorama serve
  inventorama serve --host 0.0.0.0 --port 9090
  INVENTORAMA_SCHEDULE_ENABLED=true INVENTORAMA_SCHEDULE_INPUT=10.0.0 inventorama serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.API.ListenAddr = host
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}
			return a.runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override the listen address")
	cmd.Flags().IntVar(&port, "port", 0, "override the listen port")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, cfg *config.Config) error {
	if !cfg.API.Enabled {
		return fmt.Errorf("API server is disabled in configuration\n" +
			"Enable it by setting 'api.enabled: true' in config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := metrics.NewPrometheusMetrics()
	p, err := buildPipeline(ctx, cfg, logger, pm)
	if err != nil {
		return err
	}
	defer p.Close()

	manager := scanning.NewManager(p.orch, logger)
	opts := []api.Option{api.WithMetrics(pm), api.WithVersion(version)}
	if p.database != nil {
		opts = append(opts, api.WithDatabase(p.database))
	}

	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(cfg.Schedule, p.settings, manager, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
		opts = append(opts, api.WithScheduler(sched))
	}

	server, err := api.New(cfg, manager, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	logger.Info("Starting inventorama API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", server.Address())
	fmt.Fprintf(cmd.OutOrStdout(), "API server listening on %s\n", server.Address())
	fmt.Fprintf(cmd.OutOrStdout(), "Health check: http://%s/api/v1/health\n", server.Address())

	serveErr := server.Start(ctx)
	drainRun(manager, logger)
	if serveErr != nil {
		return serveErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
	return nil
}

// drainRun cancels a run still in progress and waits for its terminal
// records to reach the sinks.
func drainRun(manager *scanning.Manager, logger *logging.Logger) {
	run, ok := manager.Current()
	if !ok || !manager.Cancel() {
		return
	}
	select {
	case <-run.Done():
		logger.Info("Active scan cancelled on shutdown", "scan_id", run.ID())
	case <-time.After(runDrainTimeout):
		logger.Warn("Active scan did not finish before shutdown", "scan_id", run.ID())
	}
}
