package dispatch

import (
	"fmt"
	"sort"
	"strings"
)

// Stage identifies which phase of a dispatch run failed. Every fatal error
// surfaced by this package carries exactly one stage.
type Stage string

const (
	StageConfig Stage = "config"
	StageIndex  Stage = "index"
	StageWorker Stage = "dispatch"
	StageMerge  Stage = "merge"
)

// ConfigError is an invalid or missing option, detected before any worker
// launches.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) Stage() Stage  { return StageConfig }

// IndexBuildError is a failed external index construction. No workers were
// launched.
type IndexBuildError struct {
	Input string
	Err   error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("index: building index for %s: %v", e.Input, e.Err)
}
func (e *IndexBuildError) Unwrap() error { return e.Err }
func (e *IndexBuildError) Stage() Stage  { return StageIndex }

// ShardFailure records one worker that exited non-zero or crashed.
type ShardFailure struct {
	ShardID  int
	ExitCode int
	Err      error
}

func (f ShardFailure) String() string {
	if f.Err != nil {
		return fmt.Sprintf("shard %d: %v", f.ShardID, f.Err)
	}
	return fmt.Sprintf("shard %d: exit status %d", f.ShardID, f.ExitCode)
}

// WorkerFailure aggregates every failed shard of a run. It is surfaced only
// after the join barrier, so it always describes the complete set of
// failures, not just the first. Shard artifacts of succeeded shards are left
// in place for inspection.
type WorkerFailure struct {
	// NumShards is the number of workers launched; Failures holds the subset
	// that did not succeed.
	NumShards int
	Failures  []ShardFailure
}

func (e *WorkerFailure) Error() string {
	sorted := make([]ShardFailure, len(e.Failures))
	copy(sorted, e.Failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ShardID < sorted[j].ShardID })

	parts := make([]string, len(sorted))
	for i, f := range sorted {
		parts[i] = f.String()
	}
	return fmt.Sprintf("dispatch: %d of %d launched shard(s) failed: %s",
		len(sorted), e.NumShards, strings.Join(parts, "; "))
}

func (e *WorkerFailure) Stage() Stage { return StageWorker }

// FailedShardIDs returns the failed shard ids in ascending order.
func (e *WorkerFailure) FailedShardIDs() []int {
	ids := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ShardID)
	}
	sort.Ints(ids)
	return ids
}

// MergeError is an I/O failure while concatenating shard artifacts or
// cleaning them up. Shard artifacts are retained.
type MergeError struct {
	Output string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge: assembling %s: %v", e.Output, e.Err)
}
func (e *MergeError) Unwrap() error { return e.Err }
func (e *MergeError) Stage() Stage  { return StageMerge }
