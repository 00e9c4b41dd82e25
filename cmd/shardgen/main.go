package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"shardgen/internal/cli"
	"shardgen/internal/config"
	"shardgen/internal/dispatch"
	"shardgen/internal/worker"
)

var (
	// Global flags
	verbose    bool
	configFile string

	// Dispatch flags (merged over defaults and the optional config file)
	flagModel            string
	flagInput            string
	flagOutput           string
	flagMaxNumExamples   int
	flagMaxGenerationLen int
	flagBatchSize        int
	flagFewshot          int
	flagNumShards        int
	flagDebug            bool
	flagBuildIndex       bool
	flagCredentials      string
	flagEndpoint         string
	flagReport           string

	// Worker flags
	workerOpts worker.Options

	// build-index flags
	flagIndexInput string

	logger *zap.Logger

	// commandRan distinguishes execution failures from invocation errors
	// (unknown command, bad or missing flags) for the exit-code mapping.
	commandRan bool
)

var rootCmd = &cobra.Command{
	Use:   "shardgen",
	Short: "Sharded batch-generation dispatcher",
	Long: `shardgen partitions a JSONL example set into shards, runs one worker
process per shard (one credential each) against a generation backend, and
merges the per-shard outputs into one ordered result file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Partition the input, run one worker per shard, merge the results",
	Long: `Runs the full job: optional index build, N concurrent worker
processes (N = effective shard count), join-all, then merge of the shard
artifacts {output}.0 .. {output}.{N-1} in ascending shard-id order.

With --debug a single bounded sample worker runs instead and writes to the
fixed debug output path; no merge happens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		cfg, err := assembleConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cli.Dispatch(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process a single shard (launched by dispatch)",
	Long: `Processes one shard of the input: loads the capped example set,
slices the shard range, streams batched completion requests to the backend,
and writes one JSON line per example to --output.

The credential is read from the environment variable set by the dispatcher;
it is never accepted as a flag.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		return cli.Worker(cmd.Context(), logger, workerOpts)
	},
}

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Build the index artifact for an input file",
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		if flagIndexInput == "" {
			return fmt.Errorf("--input is required")
		}
		return cli.BuildIndex(logger, flagIndexInput)
	},
}

// assembleConfig layers flag values over the optional config file over
// defaults. Flags that were not set on the command line do not override the
// file.
func assembleConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		if err := config.LoadFile(&cfg, configFile); err != nil {
			return config.Config{}, &dispatch.ConfigError{Err: err}
		}
	}
	cfg.ApplyEnvOverrides()

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("model", func() { cfg.Model = flagModel })
	set("input", func() { cfg.Input = flagInput })
	set("output", func() { cfg.Output = flagOutput })
	set("max_num_examples", func() { cfg.MaxNumExamples = flagMaxNumExamples })
	set("max_generation_len", func() { cfg.MaxGenerationLen = flagMaxGenerationLen })
	set("batch_size", func() { cfg.BatchSize = flagBatchSize })
	set("fewshot", func() { cfg.Fewshot = flagFewshot })
	set("num_shards", func() { cfg.NumShards = flagNumShards })
	set("debug", func() { cfg.Debug = flagDebug })
	set("build-index", func() { cfg.BuildIndex = flagBuildIndex })
	set("credentials", func() { cfg.CredentialsFile = flagCredentials })
	set("endpoint", func() { cfg.Endpoint = flagEndpoint })
	set("report", func() { cfg.Report = flagReport })
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	df := dispatchCmd.Flags()
	df.StringVar(&flagModel, "model", "", "generation model id")
	df.StringVar(&flagInput, "input", "", "JSONL input file")
	df.StringVar(&flagOutput, "output", "", "merged output path")
	df.IntVar(&flagMaxNumExamples, "max_num_examples", 0, "number of examples to process")
	df.IntVar(&flagMaxGenerationLen, "max_generation_len", 0, "maximum generation length in tokens")
	df.IntVar(&flagBatchSize, "batch_size", 0, "prompts per completion request")
	df.IntVar(&flagFewshot, "fewshot", 0, "fewshot demonstration count")
	df.IntVar(&flagNumShards, "num_shards", 0, "shard count (effective only for shardable backends)")
	df.BoolVar(&flagDebug, "debug", false, "bounded single-shard debug run")
	df.BoolVar(&flagBuildIndex, "build-index", false, "ensure the index artifact before dispatching")
	df.StringVar(&flagCredentials, "credentials", "", "ordered credentials file, one per line")
	df.StringVar(&flagEndpoint, "endpoint", "", "generation service endpoint override")
	df.StringVar(&flagReport, "report", "", "write a run report to this path")

	wf := workerCmd.Flags()
	wf.StringVar(&workerOpts.Model, "model", "", "generation model id")
	wf.StringVar(&workerOpts.Input, "input", "", "JSONL input file")
	wf.StringVar(&workerOpts.Output, "output", "", "shard output path")
	wf.IntVar(&workerOpts.MaxNumExamples, "max_num_examples", 0, "number of examples to process")
	wf.IntVar(&workerOpts.MaxGenerationLen, "max_generation_len", 128, "maximum generation length in tokens")
	wf.IntVar(&workerOpts.BatchSize, "batch_size", 8, "prompts per completion request")
	wf.IntVar(&workerOpts.Fewshot, "fewshot", 0, "fewshot demonstration count")
	wf.IntVar(&workerOpts.NumShards, "num_shards", 1, "total shard count")
	wf.IntVar(&workerOpts.ShardID, "shard_id", 0, "this worker's shard id")
	for _, required := range []string{"model", "input", "output"} {
		_ = workerCmd.MarkFlagRequired(required)
	}

	buildIndexCmd.Flags().StringVar(&flagIndexInput, "input", "", "JSONL input file")
	_ = buildIndexCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(dispatchCmd, workerCmd, buildIndexCmd)
}

// exitStatus maps an execution error to the process exit code. Errors raised
// before any command body ran (unknown command, bad or missing flags) are
// invalid invocations; everything else gets the stage-specific code.
func exitStatus(err error) int {
	if !commandRan {
		return cli.ExitInvalidInvocation
	}
	return cli.ExitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shardgen:", err)
		os.Exit(exitStatus(err))
	}
}
