package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marmos91/filecache/internal/bytesize"
	"github.com/marmos91/filecache/internal/cli/output"
	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/config"
	"github.com/marmos91/filecache/pkg/grant"
	"github.com/marmos91/filecache/pkg/metrics"
	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/marmos91/filecache/pkg/scenario"
)

// errScenarioFailed marks a run that started but had a failing step.
var errScenarioFailed = errors.New("scenario failed")

var (
	runMetricsAddr string
	runStepTimeout time.Duration
	runHold        bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Replay a scenario against a fresh cache",
	Long: `Replay a scenario file against a fresh object cache and print the trace.

The block store, cache tuning and grant defaults come from the configuration
file. Each run starts with an empty cache; a persistent store (badger, s3)
keeps the blocks written by earlier runs.

Examples:
  # Run with the default configuration
  fcache run revoke.yaml

  # Expose Prometheus metrics while the scenario runs, then keep serving
  fcache run revoke.yaml --metrics-addr :9090 --hold

  # Emit the full report as JSON
  fcache run revoke.yaml -o json

  # Override the store through the environment
  FCACHE_STORE_TYPE=badger FCACHE_STORE_BADGER_PATH=/tmp/blocks fcache run revoke.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (enables metrics)")
	runCmd.Flags().DurationVar(&runStepTimeout, "step-timeout", scenario.DefaultStepTimeout, "Longest wait for a flush, empty or wait_safe step")
	runCmd.Flags().BoolVar(&runHold, "hold", false, "Keep serving metrics after the run until interrupted")
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = runMetricsAddr
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("block store close error", logger.Err(err))
		}
	}()
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("block store %s is not healthy: %w", cfg.Store.Type, err)
	}
	logger.Info("block store ready", "type", cfg.Store.Type)

	var reg prometheus.Registerer
	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		r := metrics.NewRegistry()
		reg = r
		srv = metrics.NewServer(cfg.Metrics.Addr, r)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}()
	}

	runner, err := scenario.NewRunner(scenario.Options{
		Store:        store,
		Cache:        cfg.ObjectCacheConfig(),
		InitialCaps:  cfg.Grant.InitialCaps,
		BreakTimeout: cfg.Grant.BreakTimeout,
		ScanInterval: cfg.Grant.ScanInterval,
		StepTimeout:  runStepTimeout,
		CloseTimeout: cfg.ShutdownTimeout,
		Registerer:   reg,
	})
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx, sc)
	if report == nil {
		return runErr
	}

	p := output.ForWriter(cmd.OutOrStdout(), format)
	if err := printReport(p, report); err != nil {
		return err
	}

	if runHold && srv != nil && ctx.Err() == nil {
		p.Warning(fmt.Sprintf("Serving metrics on %s, press Ctrl+C to exit", cfg.Metrics.Addr))
		<-ctx.Done()
	}

	if runErr != nil {
		return fmt.Errorf("%w: %s: %w", errScenarioFailed, sc.Name, runErr)
	}
	return nil
}

// initObservability starts tracing and profiling. The returned func stops
// both and never fails.
func initObservability(ctx context.Context, cfg *config.Config) (func(), error) {
	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		_ = telemetryShutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	return func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
		if err := telemetryShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}, nil
}

// printReport renders the trace followed by the cache and break summaries
// in table mode, or the whole report in a structured format.
func printReport(p *output.Printer, r *scenario.Report) error {
	if p.Structured() {
		return p.Print(r)
	}

	p.Printf("Scenario %s (run %s)\n\n", r.Name, r.ID)
	if err := p.Print(r); err != nil {
		return err
	}

	p.Heading("Object cache")
	if err := output.SimpleTable(p.Writer(), statsPairs(r.Stats)); err != nil {
		return err
	}

	if len(r.Breaks) > 0 {
		p.Heading("Grant breaks")
		if err := p.Print(breakTable(r.Breaks)); err != nil {
			return err
		}
	}

	p.Println()
	if r.Failed() {
		p.Error(fmt.Sprintf("FAILED after %s", r.Duration.Round(time.Microsecond)))
	} else {
		p.Success(fmt.Sprintf("OK in %s", r.Duration.Round(time.Microsecond)))
	}
	return nil
}

func statsPairs(s objectcache.Stats) output.KeyValues {
	u := func(n uint64) string { return strconv.FormatUint(n, 10) }
	return output.KeyValues{}.
		Add("Objects", strconv.Itoa(s.Objects)).
		Add("Blocks", strconv.Itoa(s.Blocks)).
		Add("Clean", bytesize.ByteSize(s.CleanBytes).String()).
		Add("Dirty", bytesize.ByteSize(s.DirtyBytes).String()).
		Add("Committing", bytesize.ByteSize(s.TxBytes).String()).
		Add("Read hits/misses", u(s.Hits)+"/"+u(s.Misses)).
		Add("Fetches", u(s.Fetches)).
		Add("Sync reads/writes", u(s.SyncReads)+"/"+u(s.SyncWrites)).
		Add("Buffered writes", u(s.BufferedWrites)).
		Add("Admission waits", u(s.AdmissionWaits)).
		Add("Flushes (errors)", u(s.Flushes)+" ("+u(s.FlushErrors)+")").
		Add("Flushed", u(s.BlocksFlushed)+" blocks, "+bytesize.ByteSize(s.BytesFlushed).String())
}

func breakTable(breaks []grant.Break) *output.TableData {
	t := output.NewTableData("ID", "Ino", "From", "To", "State", "Latency")
	for _, b := range breaks {
		state, latency := "pending", "-"
		switch {
		case b.Acked:
			state = "acked"
			latency = b.AckedAt.Sub(b.Started).Round(time.Microsecond).String()
		case b.Overdue:
			state = "overdue"
		}
		t.AddRow(b.ID.String()[:8], strconv.FormatUint(b.Ino, 10), b.From.String(), b.To.String(), state, latency)
	}
	return t
}
