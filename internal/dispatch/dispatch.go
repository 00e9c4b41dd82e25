// Package dispatch turns one logical batch-generation job into N independent
// worker processes and deterministically reassembles their results.
//
// Control flow: validate configuration, ensure the index artifact (once, with
// a single credential), launch one worker per shard, join ALL workers, then
// either merge shard artifacts in ascending shard-id order (every worker
// succeeded) or surface the aggregated failures and leave shard artifacts in
// place for inspection. There are no automatic retries at any level; recovery
// is manual re-invocation.
package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardgen/internal/backend"
	"shardgen/internal/config"
	"shardgen/internal/credentials"
	"shardgen/internal/dataset"
	"shardgen/internal/index"
	"shardgen/internal/shard"
)

// Dispatcher coordinates one dispatch run.
type Dispatcher struct {
	Logger   *zap.Logger
	Launcher Launcher

	// WorkerBin is the binary workers are launched from, normally the
	// dispatcher's own executable.
	WorkerBin string
}

// shardOutcome is one worker's terminal state, recorded at the join barrier.
type shardOutcome struct {
	result Result
	err    error
}

// Run executes a full dispatch and returns the merged output path.
//
// A worker failure does not cancel sibling workers: the join barrier always
// waits for every launched worker, and the returned WorkerFailure names every
// failed shard.
func (d *Dispatcher) Run(ctx context.Context, cfg config.Config, creds credentials.Set) (string, error) {
	plan, err := d.prepare(&cfg, creds)
	if err != nil {
		return "", err
	}
	numShards := len(plan)
	runID := uuid.NewString()

	log := d.Logger.With(zap.String("run_id", runID))
	log.Info("dispatching",
		zap.String("model", cfg.Model),
		zap.Int("num_shards", numShards),
		zap.String("output", cfg.Output),
	)

	if cfg.BuildIndex {
		if err := d.ensureIndex(ctx, cfg, creds[0], log); err != nil {
			return "", err
		}
	}

	outcomes := make([]shardOutcome, numShards)
	var g errgroup.Group
	for i := 0; i < numShards; i++ {
		i := i
		g.Go(func() error {
			inv := d.workerInvocation(cfg, i, numShards, creds[i], ShardArtifact(cfg.Output, i))
			res, err := d.Launcher.Launch(ctx, inv)
			outcomes[i] = shardOutcome{result: res, err: err}
			// Failures are aggregated after the join barrier; returning nil
			// keeps the group from abandoning sibling shards.
			return nil
		})
	}
	_ = g.Wait()

	report := RunReport{
		RunID:     runID,
		Model:     cfg.Model,
		Input:     cfg.Input,
		Output:    cfg.Output,
		NumShards: numShards,
	}
	for i, s := range plan {
		sr := ShardReport{
			ID:       s.ID,
			Start:    s.Range.Start,
			End:      s.Range.End,
			Artifact: ShardArtifact(cfg.Output, s.ID),
			ExitCode: outcomes[i].result.ExitCode,
		}
		if outcomes[i].err != nil {
			sr.Error = outcomes[i].err.Error()
		}
		report.Shards = append(report.Shards, sr)
	}

	failure := collectFailures(outcomes)
	if failure != nil {
		report.Status = "failed"
		report.Stage = string(StageWorker)
		d.writeReport(cfg, &report, log)
		log.Error("dispatch failed", zap.Ints("failed_shards", failure.FailedShardIDs()))
		return "", failure
	}

	if err := mergeShards(cfg.Output, numShards); err != nil {
		report.Status = "failed"
		report.Stage = string(StageMerge)
		d.writeReport(cfg, &report, log)
		return "", err
	}

	report.Status = "succeeded"
	d.writeReport(cfg, &report, log)
	log.Info("dispatch complete", zap.String("output", cfg.Output))
	return cfg.Output, nil
}

// Debug runs the bounded single-shard variant: one worker, credentials[0], a
// sample of config.DebugMaxExamples examples, written directly to the fixed
// debug output path. No shard artifacts, no merge.
func (d *Dispatcher) Debug(ctx context.Context, cfg config.Config, creds credentials.Set) (string, error) {
	cfg.MaxNumExamples = config.DebugMaxExamples
	cfg.NumShards = 1

	if _, err := d.prepare(&cfg, creds); err != nil {
		return "", err
	}

	debugOut := cfg.DebugOutput()
	d.Logger.Info("debug dispatch",
		zap.String("model", cfg.Model),
		zap.Int("max_num_examples", cfg.MaxNumExamples),
		zap.String("output", debugOut),
	)

	inv := d.workerInvocation(cfg, 0, 1, creds[0], debugOut)
	res, err := d.Launcher.Launch(ctx, inv)
	if err != nil {
		return "", &WorkerFailure{NumShards: 1, Failures: []ShardFailure{{ShardID: 0, Err: err}}}
	}
	if res.ExitCode != 0 {
		return "", &WorkerFailure{NumShards: 1, Failures: []ShardFailure{{ShardID: 0, ExitCode: res.ExitCode}}}
	}
	return debugOut, nil
}

// prepare validates the run and computes the shard plan. All violations here
// are configuration errors: they fire before any worker launches.
func (d *Dispatcher) prepare(cfg *config.Config, creds credentials.Set) ([]shard.Shard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if len(creds) == 0 {
		return nil, &ConfigError{Err: fmt.Errorf("credential set is empty")}
	}

	numShards := cfg.EffectiveNumShards()
	if numShards > len(creds) {
		return nil, &ConfigError{Err: fmt.Errorf(
			"num_shards %d exceeds credential count %d", numShards, len(creds))}
	}
	if numShards < cfg.NumShards {
		d.Logger.Warn("backend does not support sharding, forcing a single worker",
			zap.String("model", cfg.Model),
			zap.Int("requested_shards", cfg.NumShards),
		)
	}

	examples, err := dataset.Load(cfg.Input)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	total := len(dataset.Cap(examples, cfg.MaxNumExamples))

	plan, err := shard.Plan(total, numShards)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return plan, nil
}

// ensureIndex builds the index artifact for the input unless a build for the
// current input content already exists. The build runs through the same
// process contract as workers, authorized by a single credential, and any
// failure is fatal before sharding begins.
func (d *Dispatcher) ensureIndex(ctx context.Context, cfg config.Config, cred string, log *zap.Logger) error {
	upToDate, err := index.UpToDate(cfg.Input)
	if err != nil {
		return &IndexBuildError{Input: cfg.Input, Err: err}
	}
	if upToDate {
		log.Info("index artifact up to date", zap.String("index", index.Dir(cfg.Input)))
		return nil
	}

	log.Info("building index artifact", zap.String("index", index.Dir(cfg.Input)))
	inv := Invocation{
		Binary: d.WorkerBin,
		Args:   []string{"build-index", "--input", cfg.Input},
		Env:    d.workerEnv(cfg, cred),
	}
	res, err := d.Launcher.Launch(ctx, inv)
	if err != nil {
		return &IndexBuildError{Input: cfg.Input, Err: err}
	}
	if res.ExitCode != 0 {
		return &IndexBuildError{Input: cfg.Input, Err: fmt.Errorf("index builder exit status %d", res.ExitCode)}
	}
	return nil
}

// workerInvocation assembles the per-shard process contract: the worker CLI
// flags plus the allowlisted environment carrying this shard's credential.
func (d *Dispatcher) workerInvocation(cfg config.Config, shardID, numShards int, cred, output string) Invocation {
	args := []string{
		"worker",
		"--model", cfg.Model,
		"--input", cfg.Input,
		"--output", output,
		"--max_num_examples", strconv.Itoa(cfg.MaxNumExamples),
		"--max_generation_len", strconv.Itoa(cfg.MaxGenerationLen),
		"--batch_size", strconv.Itoa(cfg.BatchSize),
		"--fewshot", strconv.Itoa(cfg.Fewshot),
		"--num_shards", strconv.Itoa(numShards),
		"--shard_id", strconv.Itoa(shardID),
	}
	return Invocation{Binary: d.WorkerBin, Args: args, Env: d.workerEnv(cfg, cred)}
}

func (d *Dispatcher) workerEnv(cfg config.Config, cred string) map[string]string {
	env := map[string]string{backend.CredentialEnvVar: cred}
	if cfg.Endpoint != "" {
		env[backend.EndpointEnvVar] = cfg.Endpoint
	}
	return env
}

func collectFailures(outcomes []shardOutcome) *WorkerFailure {
	var failures []ShardFailure
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			failures = append(failures, ShardFailure{ShardID: i, Err: o.err})
		case o.result.ExitCode != 0:
			failures = append(failures, ShardFailure{ShardID: i, ExitCode: o.result.ExitCode})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &WorkerFailure{NumShards: len(outcomes), Failures: failures}
}

func (d *Dispatcher) writeReport(cfg config.Config, report *RunReport, log *zap.Logger) {
	if cfg.Report == "" {
		return
	}
	if err := report.Write(cfg.Report); err != nil {
		log.Warn("run report not written", zap.Error(err))
	}
}
