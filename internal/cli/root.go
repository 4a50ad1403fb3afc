// Package cli is the command line driver of the learning rate searches.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpsearch"
	"github.com/thalesfsp/hpsearch/internal/artifact"
	"github.com/thalesfsp/hpsearch/internal/config"
	"github.com/thalesfsp/hpsearch/internal/host"
	"github.com/thalesfsp/hpsearch/internal/report"
	"github.com/thalesfsp/hpsearch/internal/trainer"
)

// options holds the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	reportPath string
	shutdown   bool

	// Trainer.
	trainerBinary     string
	workDir           string
	iterationsPerUnit float64

	// Fixed architecture.
	depth    int
	channels int
	heads    int

	// Artifacts.
	bucket string
	group  string
}

// override copies v into dst when the flag name was set on the command line.
func override[T any](cmd *cobra.Command, name string, dst *T, v T) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}
	defaults := config.Default()

	rootCmd := &cobra.Command{
		Use:          "hpsearch",
		Short:        "Learning rate search driver for a fixed-architecture trainer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)

			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.StringVar(&opts.reportPath, "report", defaults.Report, "Write a YAML search report to this path")
	flags.BoolVar(&opts.shutdown, "shutdown", defaults.ShutdownOnComplete, "Power off the host once the search completes")

	flags.StringVar(&opts.trainerBinary, "trainer", defaults.Trainer.Binary, "Training binary")
	flags.StringVar(&opts.workDir, "workdir", defaults.Trainer.WorkDir, "Directory the trainer runs in")
	flags.Float64Var(&opts.iterationsPerUnit, "iters-per-unit", defaults.Trainer.IterationsPerUnit, "Training iterations per unit of resource")

	flags.IntVar(&opts.depth, "depth", defaults.Architecture.Depth, "Model depth")
	flags.IntVar(&opts.channels, "channels", defaults.Architecture.Channels, "Model channels")
	flags.IntVar(&opts.heads, "heads", defaults.Architecture.Heads, "Model attention heads")

	flags.StringVar(&opts.bucket, "bucket", defaults.Artifacts.Bucket, "Bucket to upload log artifacts to; empty disables uploads")
	flags.StringVar(&opts.group, "group", defaults.Artifacts.Group, "Experiment group label used for artifact naming and upload")

	rootCmd.AddCommand(newBinaryCmd(opts), newHalvingCmd(opts), newHyperbandCmd(opts))

	return rootCmd
}

// load reads the configuration file and applies the shared flags on top.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}

	override(cmd, "report", &cfg.Report, o.reportPath)
	override(cmd, "shutdown", &cfg.ShutdownOnComplete, o.shutdown)
	override(cmd, "trainer", &cfg.Trainer.Binary, o.trainerBinary)
	override(cmd, "workdir", &cfg.Trainer.WorkDir, o.workDir)
	override(cmd, "iters-per-unit", &cfg.Trainer.IterationsPerUnit, o.iterationsPerUnit)
	override(cmd, "depth", &cfg.Architecture.Depth, o.depth)
	override(cmd, "channels", &cfg.Architecture.Channels, o.channels)
	override(cmd, "heads", &cfg.Architecture.Heads, o.heads)
	override(cmd, "bucket", &cfg.Artifacts.Bucket, o.bucket)
	override(cmd, "group", &cfg.Artifacts.Group, o.group)

	return cfg, nil
}

// session holds what a subcommand needs to drive one search.
type session struct {
	cfg    config.Config
	runner *trainer.Command
	sink   hpsearch.ArtifactSink
	report *report.Report
}

func newSession(cfg config.Config, strategy string) *session {
	runner := trainer.New(cfg.Trainer.Binary)
	runner.WorkDir = cfg.Trainer.WorkDir
	runner.LogFile = cfg.Trainer.LogFile
	runner.IterationsPerUnit = cfg.Trainer.IterationsPerUnit
	runner.Stdout = os.Stdout
	runner.Stderr = os.Stderr

	s := &session{
		cfg:    cfg,
		runner: runner,
		report: report.New(strategy, cfg.Artifacts.Group),
	}

	if cfg.Artifacts.Bucket != "" {
		group := cfg.Artifacts.Group
		if group == "" {
			group = "exp_" + strategy + "_" + s.report.RunID
			s.report.Group = group
		}

		uploader := artifact.New(cfg.Artifacts.Bucket, group)
		uploader.Interpreter = cfg.Artifacts.Interpreter
		uploader.Script = cfg.Artifacts.Script
		uploader.Dir = cfg.Trainer.WorkDir

		s.sink = uploader
	}

	return s
}

// passIterationsThrough makes the trainer take run budgets as raw iteration
// counts. A configured unit conversion does not apply and is reported.
func (s *session) passIterationsThrough(strategy string) {
	if s.runner.IterationsPerUnit != 1 {
		logrus.Warnf("%s search budgets are iteration counts, ignoring iterations per unit %v",
			strategy, s.runner.IterationsPerUnit)
	}

	s.runner.IterationsPerUnit = 1
}

// watch streams progress updates into the report, rewriting the report file
// after each one. The returned function closes the channel and waits.
func (s *session) watch() (chan<- hpsearch.ProgressUpdate, func()) {
	progress := make(chan hpsearch.ProgressUpdate, 256)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for update := range progress {
			s.report.Observe(update)
			s.writeReport()
		}
	}()

	return progress, func() {
		close(progress)
		<-done
	}
}

func (s *session) writeReport() {
	if s.cfg.Report == "" {
		return
	}

	if err := s.report.WriteFile(s.cfg.Report); err != nil {
		logrus.Warnf("writing report: %v", err)
	}
}

// finish writes the final report and, when configured, powers off the host.
func (s *session) finish(ctx context.Context) {
	s.report.Finish()
	s.writeReport()

	if s.cfg.ShutdownOnComplete {
		host.PowerOff(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
