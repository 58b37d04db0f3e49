package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/hybridctl/internal/automation"
	"github.com/san-kum/hybridctl/internal/config"
	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/diagnostics"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/experiment"
	"github.com/san-kum/hybridctl/internal/sim"
	"github.com/san-kum/hybridctl/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile  string
	snapshotDir string
	logLevel    string
	devLog      bool

	ticks      int
	seed       int64
	controller string
	targetX    float64
	targetY    float64
	exportTo   string
	fromID     string
	workers    int
	perturb    float64

	log *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hybridctl",
		Short: "hybrid model-based controller lab",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(logLevel, devLog)
			if err != nil {
				return err
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&snapshotDir, "snapshots", "", "snapshot directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "human-readable development logging")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run the closed loop",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runClosedLoop,
	}
	addRunFlags(runCmd)
	runCmd.Flags().StringVar(&exportTo, "export", "", "store the final controller as a snapshot with this label")
	runCmd.Flags().StringVar(&fromID, "from", "", "start from a stored snapshot (id or \"latest\")")

	compareCmd := &cobra.Command{
		Use:   "compare [controller] [controller] ...",
		Short: "compare controllers on the same plant",
		RunE:  compareControllers,
	}
	addRunFlags(compareCmd)

	seedsCmd := &cobra.Command{
		Use:   "seeds [n]",
		Short: "run n seeds in parallel and summarize",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeeds,
	}
	addRunFlags(seedsCmd)
	seedsCmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (0 = all)")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = from config)")

	sweepCmd := &cobra.Command{
		Use:   "sweep [param] [min] [max] [steps]",
		Short: "sweep a true plant parameter",
		Args:  cobra.ExactArgs(4),
		RunE:  runSweep,
	}
	addRunFlags(sweepCmd)

	mcCmd := &cobra.Command{
		Use:   "montecarlo [trials]",
		Short: "perturb the initial state and count bounded runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	addRunFlags(mcCmd)
	mcCmd.Flags().Float64Var(&perturb, "perturb", 20, "max initial position/velocity perturbation")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark controller ticks per second",
		RunE:  benchController,
	}

	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "list stored snapshots",
		RunE:  listSnapshots,
	}
	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			return openStore(cfg).Delete(args[0])
		},
	}
	snapshotsCmd.AddCommand(deleteCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("presets:")
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, compareCmd, seedsCmd, scenarioCmd, sweepCmd, mcCmd, benchCmd, snapshotsCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&ticks, "ticks", 0, "control ticks (0 = from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = from config)")
	cmd.Flags().StringVar(&controller, "controller", "", "controller: hybrid, pid, lqr, none")
	cmd.Flags().Float64Var(&targetX, "target-x", 0, "target x")
	cmd.Flags().Float64Var(&targetY, "target-y", 0, "target y")
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if dev {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// loadConfig resolves preset, then config file, then flags.
func loadConfig(preset string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if snapshotDir != "" {
		cfg.Run.SnapshotDir = snapshotDir
	}
	return cfg, nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("ticks") {
		cfg.Run.Ticks = ticks
	}
	if cmd.Flags().Changed("seed") {
		cfg.Run.Seed = seed
	}
	if cmd.Flags().Changed("controller") {
		cfg.Controller.Type = controller
	}
	if cmd.Flags().Changed("target-x") {
		cfg.Run.Target[0] = targetX
	}
	if cmd.Flags().Changed("target-y") {
		cfg.Run.Target[1] = targetY
	}
	return cfg.Validate()
}

func openStore(cfg *config.Config) *storage.Store {
	return storage.New(cfg.Run.SnapshotDir)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runClosedLoop(cmd *cobra.Command, args []string) error {
	preset := ""
	if len(args) > 0 {
		preset = args[0]
	}
	cfg, err := loadConfig(preset)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	registry := experiment.NewRegistry()
	expCfg := cfg.Experiment()
	exp := experiment.New(expCfg, log)
	if err := exp.Setup(registry, registry.DefaultMetrics(expCfg)); err != nil {
		return err
	}

	hybrid, isHybrid := exp.Controller().(*control.Hybrid)
	if (fromID != "" || exportTo != "") && !isHybrid {
		return fmt.Errorf("snapshots need the hybrid controller, got %s", expCfg.Controller)
	}

	st := openStore(cfg)
	if fromID != "" {
		id := fromID
		if id == "latest" {
			if id, err = st.Latest(); err != nil {
				return err
			}
		}
		_, blob, err := st.Load(id)
		if err != nil {
			return err
		}
		if err := hybrid.LoadWeights(blob); err != nil {
			return fmt.Errorf("snapshot %s: %w", id, err)
		}
		fmt.Printf("loaded snapshot %s\n", id)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("running %s for %d ticks...\n", expCfg.Controller, expCfg.Run.Ticks)
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil && !errors.Is(err, dynamo.ErrContextCanceled) {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n", elapsed)
	printResult(result, cfg.Plant)

	if exportTo != "" {
		if err := st.Init(); err != nil {
			return err
		}
		blob, err := hybrid.ExportWeights()
		if err != nil {
			return err
		}
		meta, err := st.Save(storage.Metadata{
			Label:      exportTo,
			Controller: expCfg.Controller,
			Seed:       expCfg.Seed,
			Ticks:      result.StepsTaken,
			Params:     hybrid.Params(),
			Metrics:    result.Metrics,
		}, blob)
		if err != nil {
			return err
		}
		fmt.Printf("snapshot id: %s\n", meta.ID)
	}
	return err
}

func printResult(result *sim.Result, truth sim.PlantParams) {
	fmt.Printf("ticks: %d\n", result.StepsTaken)
	if p, ok := result.FinalParams(); ok {
		fmt.Printf("mass: %.4f (true %.4f)\n", p.Mass, truth.Mass)
		fmt.Printf("friction: %.4f (true %.4f)\n", p.Friction, truth.Friction)
	}
	if n := len(result.Uncertainties); n > 0 {
		fmt.Printf("final uncertainty: %.6f\n", result.Uncertainties[n-1])
	}
	if result.Degenerate > 0 {
		fmt.Printf("degenerate ticks: %d\n", result.Degenerate)
	}
	if len(result.Errors) > 0 {
		fmt.Printf("errors: %d (first: %v)\n", len(result.Errors), result.Errors[0])
	}

	fmt.Println("\nmetrics:")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, result.Metrics[name])
	}

	if d := result.Diagnostics; d.Ticks > 0 {
		fmt.Println("\ndiagnostics:")
		fmt.Printf("  last pattern: %s\n", d.Last.Pattern)
		sevs := make([]string, 0, len(d.Incidents))
		for sev := range d.Incidents {
			sevs = append(sevs, string(sev))
		}
		sort.Strings(sevs)
		for _, sev := range sevs {
			fmt.Printf("  %s: %d\n", sev, d.Incidents[diagnostics.Severity(sev)])
		}
	}
}

func compareControllers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = []string{"hybrid", "pid"}
	}

	ctx, cancel := signalContext()
	defer cancel()

	registry := experiment.NewRegistry()
	fmt.Printf("comparing controllers (ticks=%d, target=%v)\n\n", cfg.Run.Ticks, cfg.Run.Target)
	fmt.Printf("%-10s  %-12s  %-12s  %-10s  %-12s  %-10s\n", "controller", "tracking", "final_err", "settled", "effort", "time_ms")
	fmt.Println(strings.Repeat("-", 76))

	for _, name := range names {
		expCfg := cfg.Experiment()
		expCfg.Controller = name

		exp := experiment.New(expCfg, log)
		if err := exp.Setup(registry, registry.DefaultMetrics(expCfg)); err != nil {
			fmt.Printf("%-10s  error: %v\n", name, err)
			continue
		}

		start := time.Now()
		result, err := exp.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("%-10s  error: %v\n", name, err)
			continue
		}

		m := result.Metrics
		fmt.Printf("%-10s  %12.4f  %12.4f  %10.3f  %12.4f  %10.2f\n",
			name, m["tracking_error"], m["final_error"], m["settled"], m["control_effort"],
			float64(elapsed.Microseconds())/1000)
	}
	return nil
}

func runSeeds(cmd *cobra.Command, args []string) error {
	var n int
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 1 {
		return fmt.Errorf("seed count must be a positive integer, got %q", args[0])
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	expCfg := cfg.Experiment()
	registry := experiment.NewRegistry()
	ens := sim.NewEnsemble(registry.Factory(expCfg, log), n, expCfg.Seed).WithWorkers(workers)

	fmt.Printf("running %d seeds of %s...\n", n, expCfg.Controller)
	start := time.Now()
	results, err := ens.Run(ctx, expCfg.InitState, expCfg.Target, expCfg.Run)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEED\tTRACKING\tFINAL\tMASS\tFRICTION")
	for _, r := range results {
		p, _ := r.FinalParams()
		fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%.4f\n",
			r.Seed, r.Metrics["tracking_error"], r.Metrics["final_error"], p.Mass, p.Friction)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats := sim.Summarize(results)
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tMEAN\tSTD\tMIN\tMAX")
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\n", name, s.Mean, s.Std, s.Min, s.Max)
	}
	return w.Flush()
}

func runScenario(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Run.Seed = seed
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("scenario %s: %s\n", scenario.Name, scenario.Description)
	result, err := automation.RunScenario(ctx, scenario, cfg.Experiment(), experiment.NewRegistry(), log)
	if err != nil {
		return err
	}
	printResult(result, cfg.Plant)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	var lo, hi float64
	var steps int
	if _, err := fmt.Sscanf(args[1]+" "+args[2]+" "+args[3], "%g %g %d", &lo, &hi, &steps); err != nil {
		return fmt.Errorf("expected: param min max steps: %w", err)
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sweep := &automation.ParameterSweep{ParamName: args[0], ParamMin: lo, ParamMax: hi, NumSteps: steps}
	results, err := automation.RunSweep(ctx, sweep, cfg.Experiment(), experiment.NewRegistry(), log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tTRACKING\tPRED_ERR\tMASS_EST\tFRICTION_EST\n", strings.ToUpper(args[0]))
	for _, r := range results {
		fmt.Fprintf(w, "%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
			r.ParamValue, r.TrackingError, r.MeanPredError, r.FinalParams.Mass, r.FinalParams.Friction)
	}
	return w.Flush()
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	var n int
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 1 {
		return fmt.Errorf("trial count must be a positive integer, got %q", args[0])
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mc := &automation.MonteCarloConfig{
		BaseState:    cfg.GetInitState(),
		Perturbation: perturb,
		NumTrials:    n,
		Seed:         cfg.Run.Seed,
	}
	results, err := automation.RunMonteCarlo(ctx, mc, cfg.Experiment(), experiment.NewRegistry(), log)
	if err != nil {
		return err
	}

	stable, unstable := automation.MonteCarloStats(results)
	fmt.Printf("trials: %d  stable: %d  unstable: %d\n", len(results), stable, unstable)
	return nil
}

func benchController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	samples := []int{32, 64, 128, 256}
	const benchTicks = 60

	fmt.Println("benchmarking hybrid controller")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SAMPLES\tHORIZON\tITERS\tTICKS\tTIME\tTICKS/SEC")

	for _, n := range samples {
		hc := cfg.Controller.Hybrid
		hc.Optimizer.Samples = n
		if hc.Optimizer.Elites > n {
			hc.Optimizer.Elites = n
		}
		h, err := control.New(hc, control.WithLogger(log))
		if err != nil {
			return err
		}

		var x dynamo.State
		var u dynamo.Control
		start := time.Now()
		for i := 0; i < benchTicks; i++ {
			u = h.Step(x, u).Action
			x[dynamo.PosX] += 0.1
		}
		elapsed := time.Since(start)

		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%v\t%.1f\n",
			n, hc.Optimizer.Horizon, hc.Optimizer.Iterations, benchTicks, elapsed,
			float64(benchTicks)/elapsed.Seconds())
	}
	return w.Flush()
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	snaps, err := openStore(cfg).List()
	if err != nil {
		return err
	}

	if len(snaps) == 0 {
		fmt.Println("no snapshots found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tTIME\tCTRL\tTICKS\tMASS\tFRICTION\tSIZE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4f\t%.4f\t%d\n",
			s.ID,
			s.Label,
			s.Timestamp.Format("2006-01-02 15:04:05"),
			s.Controller,
			s.Ticks,
			s.Params.Mass,
			s.Params.Friction,
			s.Size,
		)
	}
	return w.Flush()
}
