package cmd

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
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/envir"
	"github.com/desim/envir/sim/kernel"
	"github.com/desim/envir/sim/lifecycle"
	"github.com/desim/envir/sim/netlib"
	"github.com/desim/envir/sim/output"
)

var (
	logLevel   string   // Log verbosity level
	configPath string   // Run configuration file (.yaml or .cue)
	batchPath  string   // Batch file naming configuration, runs and overrides
	settings   []string // key=value overrides
	runsSpec   string   // Run numbers, e.g. "0..3,7"
	snapshotAt string   // Snapshot label taken at simulation end; empty disables
)

// Exit codes of the run and fingerprint commands.
const (
	exitOK        = 0
	exitError     = 1
	exitTimeLimit = 2
	exitCancelled = 3
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "envir",
	Short: "Discrete-event simulation runner",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// runCmd executes one or more runs of the configured network
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured simulation",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(execute(cmd.Context(), cmd.OutOrStdout(), false))
	},
}

// fingerprintCmd runs and prints only the computed fingerprints
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Run the configured simulation and print its fingerprint",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(execute(cmd.Context(), cmd.OutOrStdout(), true))
	},
}

// optionsCmd lists every declared configuration option
var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the configuration options",
	Run: func(cmd *cobra.Command, args []string) {
		printOptions(cmd.OutOrStdout(), envir.NewRegistry())
	},
}

// networksCmd lists the built-in networks
var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the networks that can be run",
	Run: func(cmd *cobra.Command, args []string) {
		reg := netlib.DefaultRegistry()
		for _, name := range reg.Names() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, reg[name].Description())
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitError)
	}
}

// execute loads the configuration, runs the batch and reports the results.
// It returns the process exit code.
func execute(ctx context.Context, w io.Writer, fingerprintOnly bool) int {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := resolveJob()
	if err != nil {
		logrus.Errorf("%v", err)
		return exitError
	}
	cfg, err := loadConfig(job.Config, job.Settings)
	if err != nil {
		logrus.Errorf("%v", err)
		return exitError
	}
	runs, err := parseRuns(job.Runs)
	if err != nil {
		logrus.Errorf("%v", err)
		return exitError
	}

	params := runParams(cfg)
	params.SnapshotAtEnd = snapshotAt
	logrus.Infof("Starting %d run(s) of %s", len(runs), describe(cfg))

	results, err := envir.RunBatch(ctx, params, runs)
	for _, res := range results {
		if fingerprintOnly {
			fmt.Fprintf(w, "run #%d: %s\n", res.RunNumber, res.Fingerprint)
			continue
		}
		res.Print(w)
	}
	if err != nil {
		logrus.Errorf("%v", err)
	}
	return exitCode(results, err)
}

// resolveJob merges the batch file, if any, with the command line flags.
// Flags given on the command line win over the batch file.
func resolveJob() (BatchFile, error) {
	job := BatchFile{Runs: "0"}
	if batchPath != "" {
		b, err := LoadBatchFile(batchPath)
		if err != nil {
			return job, err
		}
		job = b
	}
	if configPath != "" {
		job.Config = configPath
	}
	if runsSpec != "" {
		job.Runs = runsSpec
	}
	job.Settings = append(job.Settings, settings...)
	if job.Runs == "" {
		job.Runs = "0"
	}
	return job, nil
}

// loadConfig reads the configuration file, or starts empty when none is
// named, then applies key=value overrides in order.
func loadConfig(path string, overrides []string) (*config.Store, error) {
	cfg := config.NewStore(".")
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", kv)
		}
		cfg.Override(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return cfg, nil
}

// parseRuns expands a comma-separated list of run numbers and inclusive
// ranges such as "0..3,7".
func parseRuns(spec string) ([]int, error) {
	var runs []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "..")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 0 {
			return nil, fmt.Errorf("invalid run number %q", part)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || last < first {
				return nil, fmt.Errorf("invalid run range %q", part)
			}
		}
		for n := first; n <= last; n++ {
			runs = append(runs, n)
		}
	}
	if len(runs) == 0 {
		return nil, errors.New("no runs selected")
	}
	return runs, nil
}

func runParams(cfg config.Configuration) envir.Params {
	return envir.Params{
		Config:   cfg,
		Networks: netlib.DefaultRegistry(),
		Kernels: func(o envir.Options) (sim.Kernel, error) {
			if o.TotalStack > 0 {
				logrus.Debugf("total-stack=%s has no effect on goroutine-free kernels", humanize.IBytes(o.TotalStack))
			}
			return kernel.NewKernel(o.SchedulerClass, kernel.Params{RealtimeScaling: o.RealtimeScaling})
		},
		Outputs: output.DefaultClasses(),
	}
}

func describe(cfg config.Configuration) string {
	if name, ok := cfg.ConfigValue("network"); ok && name != "" {
		return name
	}
	return "the configured network"
}

// exitCode maps the batch outcome to the process exit code. Errors win over
// cancellation, which wins over a time limit stop.
func exitCode(results []*envir.RunResult, err error) int {
	code := exitOK
	for _, res := range results {
		switch res.Outcome {
		case lifecycle.Error:
			return exitError
		case lifecycle.Cancelled:
			code = exitCancelled
		case lifecycle.TimeLimitStop:
			if code == exitOK {
				code = exitTimeLimit
			}
		}
	}
	switch {
	case err == nil:
		return code
	case errors.Is(err, envir.ErrCancelled):
		return exitCancelled
	case code == exitOK:
		return exitError
	}
	return code
}

func printOptions(w io.Writer, reg *config.Registry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDEFAULT\tDESCRIPTION")
	for _, opt := range reg.Options() {
		name := opt.Name
		if opt.PerObject {
			name = "**." + name
		}
		typ := opt.Type.String()
		if opt.Unit != "" {
			typ += " (" + opt.Unit + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, typ, opt.Default, opt.Description)
	}
	_ = tw.Flush()
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	for _, c := range []*cobra.Command{runCmd, fingerprintCmd} {
		c.Flags().StringVarP(&configPath, "config", "c", "", "Run configuration file (.yaml or .cue)")
		c.Flags().StringVar(&batchPath, "batch", "", "Batch file naming the configuration, runs and overrides")
		c.Flags().StringArrayVarP(&settings, "set", "s", nil, "Override a configuration option (key=value, repeatable)")
		c.Flags().StringVarP(&runsSpec, "runs", "r", "", "Run numbers to execute, e.g. 0..3,7 (default 0)")
	}
	runCmd.Flags().StringVar(&snapshotAt, "snapshot", "", "Take a snapshot with this label when the simulation ends")

	rootCmd.AddCommand(runCmd, fingerprintCmd, optionsCmd, networksCmd)
}
