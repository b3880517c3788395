/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the preventive maintenance engine. Loads
  configuration, wires the stores, ledger, notifier and metrics, and runs
  one of the commands below.

COMMANDS:
  serve      Start the HTTP server (default when no command is given)
  generate   Run the daily generation once, with the same ledger the cron
             endpoint uses, and print the summary as JSON
  project    Print the calendar projection for --start/--end as JSON
  seed       Load a demo scenario

CONFIGURATION:
  Defaults, then .env, then environment (see config/config.go), then flags:
    --env       .env file to load (default .env, ignored when missing)
    --db        SQLite database path, ":memory:" for an in-memory database
    --port      HTTP port (serve)
    --dev       human-readable development logging

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Kafka writer, Redis client and database
  4. Exit

EXAMPLES:
  ./server serve --db ./data/maintenance.db
  ./server generate
  ./server project --start 2025-03-01 --end 2025-03-31
  ./server seed --scenario plant-floor

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/warp/maintenance-engine/api"
	"github.com/warp/maintenance-engine/config"
	"github.com/warp/maintenance-engine/maintenance"
	"go.uber.org/zap"
)

type globalFlags struct {
	envFile string
	dbPath  string
	dev     bool
}

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "server",
		Short:         "Preventive maintenance scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "dotenv file to load")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	root.PersistentFlags().BoolVar(&g.dev, "dev", false, "development logging")

	serve := buildServeCommand(&g)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve)
	root.AddCommand(buildGenerateCommand(&g))
	root.AddCommand(buildProjectCommand(&g))
	root.AddCommand(buildSeedCommand(&g))
	return root
}

// setup loads configuration and builds the app. reg may be nil.
func setup(ctx context.Context, g *globalFlags, reg prometheus.Registerer, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if override != nil {
		override(&cfg)
	}

	logger, err := newLogger(g.dev)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	return a, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// =============================================================================
// SERVE
// =============================================================================

func buildServeCommand(g *globalFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, g, prometheus.DefaultRegisterer, func(c *config.Config) {
				if port != "" {
					c.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	router := api.NewRouter(a.handler(), api.RouterOptions{
		AllowedOrigins: a.cfg.AllowedOrigins,
		OperatorToken:  a.cfg.OperatorToken,
		Metrics:        promhttp.Handler(),
		Health:         a.store.Ping,
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if a.cfg.OperatorToken == "" {
		a.logger.Warn("OPERATOR_TOKEN is not set; /api/admin is disabled")
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// GENERATE
// =============================================================================

func buildGenerateCommand(g *globalFlags) *cobra.Command {
	var plan string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the daily preventive-order generation once",
		Long: `Runs the same generation as GET /cron/generate-preventive-orders against
the configured database and ledger. With --plan, forces one plan instead
(the operator override).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), g, nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary maintenance.RunSummary
			if plan != "" {
				summary, err = a.generator.GeneratePlanNow(cmd.Context(), plan, time.Now(), "cli")
				if err != nil && summary.Err == nil {
					return err
				}
			} else {
				// Infrastructure errors are part of the printed summary.
				summary, _ = a.generator.RunDailyGeneration(cmd.Context(), time.Now(), "cli")
			}
			return printJSON(cmd, api.NewGenerationResponse(summary))
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "force a single plan by code")
	return cmd
}

// =============================================================================
// PROJECT
// =============================================================================

func buildProjectCommand(g *globalFlags) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Print the calendar projection for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), g, nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			loc, _ := a.cfg.Location()
			from, err := time.ParseInLocation("2006-01-02", start, loc)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := time.ParseInLocation("2006-01-02", end, loc)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			events, err := a.projector.ProjectRange(cmd.Context(), from, to.AddDate(0, 0, 1).Add(-time.Nanosecond))
			if err != nil {
				return err
			}
			dtos := make([]api.CalendarEventDTO, 0, len(events))
			for _, e := range events {
				dtos = append(dtos, api.NewCalendarEventDTO(e))
			}
			return printJSON(cmd, dtos)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// =============================================================================
// SEED
// =============================================================================

func buildSeedCommand(g *globalFlags) *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo scenario (" + strings.Join(api.ScenarioIDs(), ", ") + ")",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), g, nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.handler().SeedScenario(cmd.Context(), scenario)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %s: %d plans created\n", scenario, created)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "plant-floor", "scenario ID")
	return cmd
}

// =============================================================================
// OUTPUT
// =============================================================================

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
