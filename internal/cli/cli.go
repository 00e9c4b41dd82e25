// Package cli maps canonical invocations onto dispatcher, worker, and index
// execution, and owns the translation from typed failures to semantic exit
// codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"shardgen/internal/backend"
	"shardgen/internal/config"
	"shardgen/internal/credentials"
	"shardgen/internal/dispatch"
	"shardgen/internal/index"
	"shardgen/internal/worker"
)

// Semantic exit codes. The process exit status is the primary machine
// interface of the dispatcher: it must identify which stage failed.
const (
	ExitSuccess           = 0
	ExitWorkerFailure     = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitIndexBuildError   = 4
	ExitMergeError        = 5
	ExitInternalError     = 6
)

// ExitCode maps an execution error to its semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var (
		confErr  *dispatch.ConfigError
		idxErr   *dispatch.IndexBuildError
		workErr  *dispatch.WorkerFailure
		mergeErr *dispatch.MergeError
	)
	switch {
	case errors.As(err, &confErr):
		return ExitConfigError
	case errors.As(err, &idxErr):
		return ExitIndexBuildError
	case errors.As(err, &workErr):
		return ExitWorkerFailure
	case errors.As(err, &mergeErr):
		return ExitMergeError
	default:
		return ExitInternalError
	}
}

// Dispatch runs a full (or debug) dispatch for the given configuration and
// returns the path of the produced output file.
func Dispatch(ctx context.Context, logger *zap.Logger, cfg config.Config) (string, error) {
	if !backend.Known(cfg.Model) {
		logger.Warn("model id not in the capability table, backend treated as non-shardable",
			zap.String("model", cfg.Model))
	}

	creds, err := credentials.Load(cfg.CredentialsFile)
	if err != nil {
		return "", &dispatch.ConfigError{Err: err}
	}

	workerBin, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving worker binary: %w", err)
	}

	d := &dispatch.Dispatcher{
		Logger:    logger,
		Launcher:  &dispatch.ProcessLauncher{},
		WorkerBin: workerBin,
	}

	if cfg.Debug {
		return d.Debug(ctx, cfg, creds)
	}
	return d.Run(ctx, cfg, creds)
}

// Worker runs one shard inside the current process. The credential and the
// optional endpoint override are read from the environment the dispatcher
// set for this invocation.
func Worker(ctx context.Context, logger *zap.Logger, opts worker.Options) error {
	cred := os.Getenv(backend.CredentialEnvVar)
	if cred == "" {
		return fmt.Errorf("missing credential: %s is not set", backend.CredentialEnvVar)
	}
	endpoint := os.Getenv(backend.EndpointEnvVar)

	client := backend.NewClient(endpoint, cred, backend.Resolve(opts.Model))
	return worker.Run(ctx, logger, opts, client)
}

// BuildIndex builds the index artifact for an input file.
func BuildIndex(logger *zap.Logger, input string) error {
	h, err := index.Build(input)
	if err != nil {
		return err
	}
	logger.Info("index built",
		zap.String("index", h.Dir),
		zap.Int("elements", h.Elements),
	)
	return nil
}
