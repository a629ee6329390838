// ============================================================================
// Line Planner CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   line-planner                   # Root command
//   ├── run                        # Start the planner service
//   ├── status                     # View configuration and live status
//   ├── capacity                   # Daily capacity of a model
//   │   └── --model, --date
//   ├── summary                    # Progress and projection of an order
//   │   └── --order
//   ├── export                     # Copy state into a SQL database
//   ├── import                     # Replace local state from a SQL database
//   ├── wal                        # Journal diagnostics
//   │   ├── inspect [--dump]
//   │   └── validate
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --env-file                 # Optional .env file
//
// Configuration Management:
//   YAML config file, then .env, then PLANNER_* environment variables.
//   The result is validated before anything starts.
//
// run Command:
//   1. Load config and build the logger
//   2. Create and start Controller (snapshot + WAL recovery)
//   3. Start gRPC server and Metrics HTTP server (if enabled)
//   4. Wait for SIGINT / SIGTERM
//   5. Gracefully shutdown: stop servers, final snapshot, close WAL
//
// capacity / summary / status Commands:
//   Query a running server over gRPC (--addr, default localhost:<server.port>).
//
// export Command:
//   Recovers state from the snapshot and WAL on disk and writes it to the
//   database in the store section. Do not run it against a data directory
//   that a live `run` process is using.
//
// import Command:
//   Loads the store contents, replaces the local state with them and writes a
//   fresh snapshot (the WAL is rotated). Same caveat as export.
//
// wal Commands:
//   inspect prints event counts per type, the sequence range and corrupted
//   events; --dump prints every event. validate fails on the first bad
//   checksum or out-of-order sequence.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/internal/metrics"
	"github.com/ChuLiYu/line-planner/internal/server"
	"github.com/ChuLiYu/line-planner/internal/storage/sqlstore"
	"github.com/ChuLiYu/line-planner/internal/storage/wal"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

// options 由全域旗標填入
type options struct {
	configFile string
	envFile    string
	addr       string
}

// BuildCLI builds the root command.
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "line-planner",
		Short: "Line Planner: production capacity planning and order tracking",
		Long: `Line Planner keeps a worker roster, product process definitions, a post
layout and a dated assignment calendar, and projects order completion dates from
the resulting daily capacity. State is journaled to a WAL and snapshotted.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional .env file")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "server address for queries (default localhost:<server.port>)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildCapacityCommand(opts))
	rootCmd.AddCommand(buildSummaryCommand(opts))
	rootCmd.AddCommand(buildExportCommand(opts))
	rootCmd.AddCommand(buildImportCommand(opts))
	rootCmd.AddCommand(buildWALCommand(opts))

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the planner service",
		Long:  "Recover state from snapshot and WAL, then serve gRPC and metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

// runSystem runs the service until ctx is done.
func runSystem(ctx context.Context, cfg *Config, stderr io.Writer) error {
	logger, closer := newLogger(cfg, stderr)
	defer closer.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	ctrl, err := controller.NewController(cfg.controllerConfig(logger, collector))
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		return fmt.Errorf("failed to start controller: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port))
		go func() {
			logger.Info("Starting metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.Server.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			ctrl.Stop()
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
		}
		grpcSrv = grpc.NewServer()
		server.Register(grpcSrv, server.NewServer(ctrl, logger))
		go func() {
			logger.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server failed", "error", err)
			}
		}()
	}

	logger.Info("System started successfully", "today", ctrl.Today())
	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping gracefully")

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := ctrl.Stop(); err != nil {
		return fmt.Errorf("failed to stop controller: %w", err)
	}

	logger.Info("System stopped. Goodbye!")
	return nil
}

// ============================================================================
// Queries over gRPC
// ============================================================================

func (o *options) dial() (*server.Client, error) {
	addr := o.addr
	if addr == "" {
		cfg, err := loadConfig(o.configFile, o.envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}
	return server.Dial(addr)
}

func buildStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display configuration and, when a server is reachable, live planner status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			var live *controller.Status
			if client, err := opts.dial(); err == nil {
				defer client.Close()
				ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
				defer cancel()
				if st, err := client.Status(ctx); err == nil {
					live = &st
				}
			}
			printStatus(cmd.OutOrStdout(), opts.configFile, cfg, live)
			return nil
		},
	}
}

func printStatus(w io.Writer, configFile string, cfg *Config, live *controller.Status) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           Line Planner Status                             ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  ├─ Config File:     %s\n", configFile)
	fmt.Fprintf(w, "  ├─ Workday Hours:   %g\n", cfg.Planner.WorkdayHours)
	fmt.Fprintf(w, "  ├─ Lookahead:       %d days\n", cfg.Planner.LookaheadDays)
	fmt.Fprintf(w, "  └─ Posts:           %d\n", len(cfg.Planner.Posts))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage:")
	fmt.Fprintf(w, "  ├─ WAL:             %s\n", cfg.WAL.Path)
	fmt.Fprintf(w, "  └─ Snapshot:        %s (every %ds, keep %d)\n",
		cfg.Snapshot.Path, cfg.Snapshot.IntervalSeconds, cfg.Snapshot.Backups)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Planner:")
	if live == nil {
		fmt.Fprintln(w, "  └─ Server not reachable (run 'line-planner run' to start)")
	} else {
		fmt.Fprintf(w, "  ├─ Today:           %s\n", live.Today)
		fmt.Fprintf(w, "  ├─ Uptime:          %s\n", live.Uptime)
		fmt.Fprintf(w, "  ├─ Last Seq:        %d\n", live.LastSeq)
		fmt.Fprintf(w, "  ├─ Workers:         %d\n", live.Workers)
		fmt.Fprintf(w, "  ├─ Models:          %d\n", live.Models)
		fmt.Fprintf(w, "  ├─ Posts:           %d\n", live.Posts)
		fmt.Fprintf(w, "  ├─ Assignments:     %d (from today)\n", live.Assignments)
		fmt.Fprintf(w, "  └─ Orders:          %d created, %d in progress, %d completed\n",
			live.Orders.Created, live.Orders.InProgress, live.Orders.Completed)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  └─ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "  └─ Disabled")
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}

func buildCapacityCommand(opts *options) *cobra.Command {
	var model, date string

	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Show the daily capacity of a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date)
			if err != nil {
				return err
			}
			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			b, err := client.CapacityFor(cmd.Context(), types.ModelID(model), day)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s on %s: %.2f units/day", b.Model, b.Date, b.Units)
			if b.Bottleneck != "" {
				fmt.Fprintf(w, " (bottleneck: %s)", b.Bottleneck)
			}
			fmt.Fprintln(w)
			for _, t := range []types.StageType{types.StageGeneral, types.StageSpecialist} {
				tc, ok := b.ByType[t]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "  %-10s posts=%d hours=%.1f h/unit=%.2f units=%.2f\n",
					t, tc.Posts, tc.Hours, tc.HoursPerUnit, tc.Units)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.MarkFlagRequired("model")
	return cmd
}

func buildSummaryCommand(opts *options) *cobra.Command {
	var order string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show progress and projected completion of an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := client.OrderSummary(cmd.Context(), types.OrderID(order))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Order %s (%s)\n", s.OrderID, s.Model)
			fmt.Fprintf(w, "  ├─ Status:     %s\n", s.Status)
			fmt.Fprintf(w, "  ├─ Progress:   %d / %d (%.1f%%)\n", s.TotalCompleted, s.Quantity, s.PercentComplete)
			if s.Projection.Known {
				fmt.Fprintf(w, "  └─ Completion: %s (as of %s)\n", s.Projection.Date, s.Projection.AsOf)
			} else {
				fmt.Fprintf(w, "  └─ Completion: unknown (as of %s)\n", s.Projection.AsOf)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&order, "order", "", "order id")
	cmd.MarkFlagRequired("order")
	return cmd
}

// ============================================================================
// export
// ============================================================================

func buildExportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export planner state to the SQL store",
		Long:  "Recover state from the snapshot and WAL, then replace the contents of the configured SQL store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return exportState(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// offlineController 以磁碟上的快照與 WAL 恢復一個不跑背景迴圈的控制器
func offlineController(cfg *Config, logger *slog.Logger) (*controller.Controller, error) {
	ctrlCfg := cfg.controllerConfig(logger, nil)
	ctrlCfg.SnapshotInterval = 0
	ctrlCfg.RefreshInterval = 0

	ctrl, err := controller.NewController(ctrlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		return nil, fmt.Errorf("failed to recover state: %w", err)
	}
	return ctrl, nil
}

func exportState(ctx context.Context, cfg *Config, stdout, stderr io.Writer) error {
	if cfg.Store.Driver == "" {
		return errors.New("store.driver is not configured")
	}

	logger, closer := newLogger(cfg, stderr)
	defer closer.Close()

	ctrl, err := offlineController(cfg, logger)
	if err != nil {
		return err
	}
	data := ctrl.State()
	if err := ctrl.Stop(); err != nil {
		return err
	}

	store, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Prefix)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.Save(ctx, data); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Exported %d workers, %d models, %d posts, %d assignments, %d orders (seq %d) to %s\n",
		len(data.Workers), len(data.Models), len(data.Posts), len(data.Assignments), len(data.Orders),
		data.LastSeq, cfg.Store.Driver)
	return nil
}

func buildImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Replace planner state with the contents of the SQL store",
		Long:  "Load the configured SQL store, replace the local state with it and write a new snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return importState(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func importState(ctx context.Context, cfg *Config, stdout, stderr io.Writer) error {
	if cfg.Store.Driver == "" {
		return errors.New("store.driver is not configured")
	}

	store, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Prefix)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.Load(ctx)
	if err != nil {
		return err
	}

	logger, closer := newLogger(cfg, stderr)
	defer closer.Close()

	ctrl, err := offlineController(cfg, logger)
	if err != nil {
		return err
	}
	if err := ctrl.Import(data); err != nil {
		ctrl.Stop()
		return err
	}
	if err := ctrl.Stop(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Imported %d workers, %d models, %d posts, %d assignments, %d orders (seq %d) from %s\n",
		len(data.Workers), len(data.Models), len(data.Posts), len(data.Assignments), len(data.Orders),
		data.LastSeq, cfg.Store.Driver)
	return nil
}

// ============================================================================
// wal
// ============================================================================

func buildWALCommand(opts *options) *cobra.Command {
	var file string

	walCmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect or validate the mutation journal",
	}
	walCmd.PersistentFlags().StringVarP(&file, "file", "f", "", "journal file (default wal.path from config)")

	path := func() (string, error) {
		if file != "" {
			return file, nil
		}
		cfg, err := loadConfig(opts.configFile, opts.envFile)
		if err != nil {
			return "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg.WAL.Path, nil
	}

	var dump bool
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show journal statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := path()
			if err != nil {
				return err
			}
			return inspectWAL(p, dump, cmd.OutOrStdout())
		},
	}
	inspectCmd.Flags().BoolVar(&dump, "dump", false, "print every event")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Verify checksums and sequence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := path()
			if err != nil {
				return err
			}
			if err := wal.ValidateWAL(p); err != nil {
				return fmt.Errorf("journal %s is invalid: %w", p, err)
			}
			count, err := wal.CountEvents(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d events, checksums and order OK\n", p, count)
			return nil
		},
	}

	walCmd.AddCommand(inspectCmd, validateCmd)
	return walCmd
}

func inspectWAL(path string, dump bool, w io.Writer) error {
	stats, err := wal.GetWALStats(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Journal: %s\n", path)
	fmt.Fprintf(w, "  ├─ Events:     %d\n", stats.TotalEvents)
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "  ├─ Seq Range:  %d - %d\n", stats.FirstSeq, stats.LastSeq)
		fmt.Fprintf(w, "  ├─ Time Range: %s - %s\n",
			time.UnixMilli(stats.TimeRange[0]).UTC().Format(time.RFC3339),
			time.UnixMilli(stats.TimeRange[1]).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  ├─ Corrupted:  %d\n", stats.CorruptedCount)
	fmt.Fprintln(w, "  └─ By Type:")
	eventTypes := make([]string, 0, len(stats.EventTypes))
	for t := range stats.EventTypes {
		eventTypes = append(eventTypes, string(t))
	}
	sort.Strings(eventTypes)
	for _, t := range eventTypes {
		fmt.Fprintf(w, "       %-16s %d\n", t, stats.EventTypes[wal.EventType(t)])
	}

	if dump {
		fmt.Fprintln(w)
		return wal.DumpWAL(path, w)
	}
	return nil
}

func parseDateFlag(s string) (types.Date, error) {
	if s == "" {
		return types.Today(), nil
	}
	d, err := types.ParseDate(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --date %q: %w", s, err)
	}
	return d, nil
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
