// Package worker processes a single shard end to end: it loads the capped
// example set, slices out its shard range, streams batched completion
// requests to the generation backend, and writes one JSON line per example to
// its shard artifact, preserving original example order.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"shardgen/internal/backend"
	"shardgen/internal/dataset"
	"shardgen/internal/shard"
)

// Options configures one worker invocation. It mirrors the worker CLI
// contract; the credential is deliberately absent — it reaches the worker
// only through the environment set by the dispatcher.
type Options struct {
	Model  string
	Input  string
	Output string

	MaxNumExamples   int
	MaxGenerationLen int
	BatchSize        int
	Fewshot          int

	NumShards int
	ShardID   int
}

// Completer is the minimal generation interface a worker needs. *backend.Client
// implements it; tests substitute a local fake.
type Completer interface {
	Complete(ctx context.Context, req backend.CompletionRequest) ([]backend.Completion, error)
}

// Record is one output line. Fields appear in original example order within
// the shard artifact.
type Record struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	Answer       string `json:"answer,omitempty"`
	Output       string `json:"output"`
	FinishReason string `json:"finish_reason"`
}

// Run executes the worker loop and writes the shard artifact at opts.Output.
// The artifact is owned exclusively by this invocation while it runs.
func Run(ctx context.Context, logger *zap.Logger, opts Options, client Completer) error {
	if opts.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", opts.BatchSize)
	}

	examples, err := dataset.Load(opts.Input)
	if err != nil {
		return err
	}
	examples = dataset.Cap(examples, opts.MaxNumExamples)

	rng, err := shard.Slice(len(examples), opts.NumShards, opts.ShardID)
	if err != nil {
		return err
	}
	mine := examples[rng.Start:rng.End]

	logger.Info("worker starting",
		zap.String("model", opts.Model),
		zap.Int("shard_id", opts.ShardID),
		zap.Int("num_shards", opts.NumShards),
		zap.Stringer("range", rng),
		zap.Int("examples", len(mine)),
	)

	out, err := os.Create(opts.Output)
	if err != nil {
		return fmt.Errorf("creating shard output: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	prompts := dataset.NewPromptBuilder(opts.Fewshot)

	for start := 0; start < len(mine); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(mine) {
			end = len(mine)
		}
		batch := mine[start:end]

		req := backend.CompletionRequest{
			Model:     opts.Model,
			MaxTokens: opts.MaxGenerationLen,
			Stop:      []string{dataset.StopSequence},
		}
		for _, ex := range batch {
			req.Prompts = append(req.Prompts, prompts.Render(ex))
		}

		completions, err := client.Complete(ctx, req)
		if err != nil {
			return fmt.Errorf("shard %d batch at %d: %w", opts.ShardID, rng.Start+start, err)
		}
		if len(completions) != len(batch) {
			return fmt.Errorf("shard %d batch at %d: got %d completions for %d prompts",
				opts.ShardID, rng.Start+start, len(completions), len(batch))
		}

		for i, ex := range batch {
			rec := Record{
				ID:           ex.ID,
				Question:     ex.Question,
				Answer:       ex.Answer,
				Output:       completions[i].Text,
				FinishReason: completions[i].FinishReason,
			}
			line, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", ex.ID, err)
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("writing shard output: %w", err)
			}
		}

		logger.Debug("batch done",
			zap.Int("shard_id", opts.ShardID),
			zap.Int("done", rng.Start+end),
		)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing shard output: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("syncing shard output: %w", err)
	}

	logger.Info("worker finished", zap.Int("shard_id", opts.ShardID), zap.Int("examples", len(mine)))
	return nil
}
