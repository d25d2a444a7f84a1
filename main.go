// main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"ompt_exporter/internal/config"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/maps"
	"ompt_exporter/internal/simrt"
)

var (
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ompt_exporter",
	Short: "Profile OpenMP programs through the OMPT tool interface",
	Long: `ompt_exporter attaches an OMPT tool to a runtime, turns its callbacks
into timed intervals and samples, and exports them as Prometheus metrics and
optionally a Chrome trace file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

type runFlags struct {
	configPath    string
	workload      string
	threads       int
	iterations    int
	size          int
	listenAddress string
	tracePath     string
	trace         bool
	linger        bool
}

func newRunCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload on the simulated runtime with the tool attached",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExporter(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (optional).")
	flags.StringVarP(&f.workload, "workload", "w", "", "Workload to run (see 'workloads').")
	flags.IntVarP(&f.threads, "threads", "t", 0, "Team size; 0 uses the processor count.")
	flags.IntVar(&f.iterations, "iterations", 0, "Repetitions of the workload's main region.")
	flags.IntVar(&f.size, "size", 0, "Problem size.")
	flags.StringVar(&f.listenAddress, "web.listen-address", "", "Address to listen on for telemetry.")
	flags.BoolVar(&f.trace, "trace", false, "Write a Chrome trace file on finalize.")
	flags.StringVar(&f.tracePath, "trace.path", "", "Trace file path.")
	flags.BoolVar(&f.linger, "linger", false, "Keep serving metrics after the workload finished.")
	return cmd
}

// applyFlags overrides configuration values with the flags that were set.
func applyFlags(cmd *cobra.Command, f *runFlags, cfg *config.AppConfig) {
	flags := cmd.Flags()
	if flags.Changed("workload") {
		cfg.Workload.Name = f.workload
	}
	if flags.Changed("threads") {
		cfg.Workload.Threads = f.threads
	}
	if flags.Changed("iterations") {
		cfg.Workload.Iterations = f.iterations
	}
	if flags.Changed("size") {
		cfg.Workload.Size = f.size
	}
	if flags.Changed("web.listen-address") {
		cfg.Server.ListenAddress = f.listenAddress
	}
	if flags.Changed("trace") {
		cfg.Trace.Enabled = f.trace
	}
	if flags.Changed("trace.path") {
		cfg.Trace.Enabled = true
		cfg.Trace.Path = f.tracePath
	}
	if flags.Changed("linger") {
		cfg.Server.Linger = f.linger
	}
}

func runExporter(cmd *cobra.Command, f *runFlags) error {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, f, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Configure loggers based on configuration
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		return fmt.Errorf("failed to configure loggers: %w", err)
	}
	if err := maps.SetImplementation(cfg.Adapter.MapImplementation); err != nil {
		return err
	}
	log.Debug().Str("map", maps.Implementation()).Msg("- Concurrent map selected")

	exporter, err := NewOMPTExporter(cfg)
	if err != nil {
		return err
	}
	// Engines are finalized before the process exits, however it exits.
	atexit.Register(exporter.Shutdown)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return exporter.Run(ctx)
}

func newGenerateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config [path]",
		Short: "Write an example configuration file with every default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "ompt_exporter.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateExampleConfig(path); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", path)
			return nil
		},
	}
}

func newWorkloadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List the built-in workloads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, wl := range simrt.Workloads() {
				fmt.Fprintf(w, "%s\t%s\n", wl.Name, wl.Description)
			}
			w.Flush()
		},
	}
}

func main() {
	rootCmd.AddCommand(newRunCmd(&runFlags{}), newGenerateConfigCmd(), newWorkloadsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
