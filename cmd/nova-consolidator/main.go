// Command nova-consolidator runs the power-aware VM consolidation planner
// over a simulated fleet. Its command tree mirrors the teacher's
// cmd/nova root-command construction: persistent flags for shared
// connection settings, one subcommand per mode of operation.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-consolidator/internal/config"
	"github.com/oriys/nova-consolidator/internal/consolidator"
	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/history"
	"github.com/oriys/nova-consolidator/internal/leaderlock"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/power"
	"github.com/oriys/nova-consolidator/internal/simfleet"
	"github.com/oriys/nova-consolidator/internal/telemetry"
	"github.com/oriys/nova-consolidator/internal/vmselect"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "nova-consolidator",
		Short: "Power-aware VM consolidation planner",
		Long:  "Detects over/under-utilized hosts in a simulated fleet and plans VM migrations to minimize power draw.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, defaults used otherwise)")

	rootCmd.AddCommand(runCmd(), serveCmd(), seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// buildConsolidator wires a Consolidator over a seeded simfleet.Fleet the
// way the teacher's daemonCmd wires an executor over a pool.
func buildConsolidator(cfg *config.Config, clock history.Clock) (*consolidator.Consolidator, *simfleet.Fleet, *history.Recorder, *telemetry.PassMetrics) {
	recorder := history.NewRecorder(clock)
	f := simfleet.NewFleet(seedHosts()...)
	view := fleet.NewView(f)

	cpuMetric := overload.CpuUtilizationMetric(view)
	ioMetric := overload.IoUtilizationMetric(view)

	var cpuPred overload.Predicate
	switch cfg.Overload.Predicate {
	case "moving_average":
		cpuPred = overload.MovingAverage(recorder, cpuMetric, cfg.Overload.MovingAvgWindow, cfg.Overload.MovingAvgFactor)
	case "iqr":
		cpuPred = overload.IQR(recorder, cpuMetric, cfg.Overload.IqrWindow, cfg.Overload.IqrK)
	default:
		cpuPred = overload.StaticThreshold(cpuMetric, cfg.Overload.StaticThreshold)
	}
	ioPred := overload.StaticThreshold(ioMetric, cfg.Overload.StaticThreshold)

	var metrics *telemetry.PassMetrics
	if cfg.Observability.Metrics.Enabled {
		metrics = telemetry.NewPassMetrics(cfg.Observability.Metrics.Namespace)
	}

	c, err := consolidator.New(consolidator.Config{
		Provider:    f,
		CpuOverload: cpuPred,
		IoOverload:  ioPred,
		CpuSelector: vmselect.NewMaxCorrelation(view, 20),
		IoSelector:  vmselect.NewIopsAware(view, cfg.Weights.Mips, cfg.Weights.Iops),
		Recorder:    recorder,
		Metrics:     metrics,
		WMips:       cfg.Weights.Mips,
		WIops:       cfg.Weights.Iops,
	})
	if err != nil {
		// ConfigInvalid here means the config file itself is malformed;
		// fail fast rather than run a planner with undefined weights.
		telemetry.Op().Error("invalid consolidator config", "error", err)
		os.Exit(1)
	}

	return c, f, recorder, metrics
}

// seedHosts builds a small fixed fleet for run/serve demonstration,
// following the teacher's habit of seeding demo resources in cmd/.
func seedHosts() []*simfleet.Host {
	linear := power.Linear{IdleWatts: 100, MaxWatts: 250}
	cubic := power.Cubic{IdleWatts: 120, MaxWatts: 300}

	hosts := []*simfleet.Host{
		simfleet.NewHost(1, 4000, map[string]string{"rack": "a"}, linear),
		simfleet.NewHost(2, 4000, map[string]string{"rack": "a"}, linear),
		simfleet.NewHost(3, 6000, map[string]string{"rack": "b"}, cubic),
		simfleet.NewHost(4, 6000, map[string]string{"rack": "b"}, cubic),
	}

	rng := rand.New(rand.NewSource(1))
	for _, h := range hosts {
		n := 2 + rng.Intn(3)
		for i := 0; i < n; i++ {
			vm := simfleet.NewVM(float64(200+rng.Intn(600)), float64(50+rng.Intn(200)))
			h.CreateVM(vm)
		}
	}
	return hosts
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single consolidation pass and print the resulting migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			telemetry.InitLogging(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			tp, err := telemetry.InitTracing(ctx, tracingEndpoint(cfg), cfg.Observability.Tracing.ServiceName)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tp.Shutdown(ctx)

			clockTick := 0.0
			c, _, _, _ := buildConsolidator(cfg, func() float64 { return clockTick })

			migrations, err := c.Optimize(ctx)
			if err != nil {
				return err
			}
			printMigrations(migrations)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run consolidation passes on a ticker, guarded by a leader lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Pass.Interval = interval
			}

			telemetry.InitLogging(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			tp, err := telemetry.InitTracing(ctx, tracingEndpoint(cfg), cfg.Observability.Tracing.ServiceName)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tp.Shutdown(ctx)

			lock := leaderlock.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LockKey, cfg.Redis.LockTTL)
			defer lock.Close()

			var clockTick float64
			c, f, _, _ := buildConsolidator(cfg, func() float64 { return clockTick })

			telemetry.Op().Info("nova-consolidator serve started", "interval", cfg.Pass.Interval.String())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(cfg.Pass.Interval)
			defer ticker.Stop()

			for {
				select {
				case <-sigCh:
					telemetry.Op().Info("shutdown signal received")
					return nil
				case <-ticker.C:
					clockTick++
					held, err := lock.Acquire(ctx)
					if err != nil {
						telemetry.Op().Error("leader lock acquire failed", "error", err)
						continue
					}
					if !held {
						telemetry.Op().Debug("not leader, skipping pass")
						continue
					}

					migrations, err := c.Optimize(ctx)
					if err != nil {
						telemetry.Op().Error("consolidation pass failed", "error", err)
						continue
					}
					telemetry.Op().Info("consolidation pass complete", "migrations", len(migrations))
					// optimize() restores the fleet to its pre-pass state
					// (I1): the plan still has to be driven onto the live
					// fleet by the caller, the role spec.md §6 assigns the
					// surrounding simulator.
					applyMigrations(f, migrations)

					if err := lock.Release(ctx); err != nil && err != leaderlock.ErrNotHeld {
						telemetry.Op().Warn("leader lock release failed", "error", err)
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "pass interval")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Print the seeded demonstration fleet's topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, h := range seedHosts() {
				fmt.Printf("host %d: total_mips=%.0f vms=%d\n", h.ID(), h.TotalMips(), len(h.VMs()))
			}
			return nil
		},
	}
}

// applyMigrations drives a MigrationMap onto the live fleet: each vm is
// moved off whichever host currently holds it onto its planned target.
func applyMigrations(f *simfleet.Fleet, migrations fleet.MigrationMap) {
	for _, p := range migrations {
		for _, h := range f.Hosts() {
			if h.ID() == p.Host.ID() {
				continue
			}
			for _, vm := range h.VMs() {
				if vm.UID() == p.VM.UID() {
					h.DestroyVM(vm)
				}
			}
		}
		p.Host.CreateVM(p.VM)
	}
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Observability.Tracing.Enabled {
		return ""
	}
	return cfg.Observability.Tracing.Endpoint
}

func printMigrations(m fleet.MigrationMap) {
	if len(m) == 0 {
		fmt.Println("no migrations")
		return
	}
	for _, p := range m {
		fmt.Printf("vm %s -> host %d\n", p.VM.UID(), p.Host.ID())
	}
}

