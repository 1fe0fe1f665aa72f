package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nemanja-m/logmr/examples/grep"
	"github.com/nemanja-m/logmr/internal/shared/config"
	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/pkg/core"
	"github.com/nemanja-m/logmr/pkg/jobs"
	"github.com/nemanja-m/logmr/pkg/local"

	_ "github.com/nemanja-m/logmr/examples/admetrics"
	_ "github.com/nemanja-m/logmr/examples/wordcount"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet("logmr", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: logmr [flags] <input> <output>\n\nJobs: %s\n\nFlags:\n", strings.Join(append(jobs.List(), grep.Name), ", "))
		flags.PrintDefaults()
	}

	flags.String("config", "", "path to a YAML config file (default: logmr.yaml in ./config or .)")
	flags.String("job", config.DefaultJob, "registered job to run")
	flags.Int("reducers", config.DefaultReducers, "number of reduce groups")
	flags.Int("workers", runtime.NumCPU(), "number of worker goroutines")
	flags.Int("max-attempts", config.DefaultMaxMapAttempts, "attempts per map task before the job fails")
	flags.Int("max-reduce-attempts", config.DefaultMaxReduceAttempts, "attempts per reduce task before the job fails")
	flags.Duration("task-timeout", config.DefaultTaskTimeout, "how long an attempt may run without progress")
	flags.Int64("split-size", config.DefaultSplitSize, "maximum input bytes per map task")
	flags.String("shuffle-dir", "", "parent directory for intermediate runs (default: system temp dir)")
	flags.String("status-addr", "", "REST status API listen address, empty to disable")
	flags.String("grpc-addr", "", "gRPC health service listen address, empty to disable")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", config.DefaultLogFormat, "log format: json or text")
	flags.Bool("overwrite", true, "delete the output location before running")
	flags.String("pattern", "", "regular expression for the grep job")
	flags.Bool("ignore-case", false, "match the grep pattern case-insensitively")
	return flags
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := newFlagSet(stderr)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return exitUsage
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.LoadJob(configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "logmr: %v\n", err)
		return exitUsage
	}

	logger, err := logging.NewLogger(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(stderr, "logmr: %v\n", err)
		return exitUsage
	}

	job, err := resolveJob(cfg.Job, flags)
	if err != nil {
		logger.Error("Cannot build job", "job", cfg.Job, "error", err)
		return exitUsage
	}

	if overwrite, _ := flags.GetBool("overwrite"); overwrite {
		if err := local.ClearOutput(cfg.Output, cfg.Input); err != nil {
			logger.Error("Failed to clear output", "output", cfg.Output, "error", err)
			return exitUsage
		}
	}

	logger.Info(
		"Starting job",
		"job", cfg.Job,
		"input", cfg.Input,
		"output", cfg.Output,
		"reducers", cfg.Reducers,
		"workers", cfg.Workers,
	)

	result, err := local.NewEngine(local.FromJobConfig(cfg, job, logger)).Run(ctx)

	var cfgErr *core.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		logger.Error("Invalid configuration", "field", cfgErr.Field, "reason", cfgErr.Reason)
		return exitUsage
	case err != nil:
		logger.Error("Job failed", "error", err)
		return exitFailed
	}

	logger.Info(
		"Job completed successfully",
		append([]any{
			"job_id", result.JobID.String(),
			"duration", result.Duration.String(),
			"parts", len(result.Parts),
		}, result.Counters.LogArgs()...)...,
	)
	fmt.Fprintln(stdout, result.Output)
	return exitOK
}

func resolveJob(name string, flags *pflag.FlagSet) (jobs.Job, error) {
	if name == grep.Name {
		pattern, _ := flags.GetString("pattern")
		ignoreCase, _ := flags.GetBool("ignore-case")
		return grep.New(pattern, ignoreCase)
	}
	return jobs.Get(name)
}
