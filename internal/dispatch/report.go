package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// RunReport is the machine-readable record of one dispatch run, written next
// to the retained artifacts.
//
// Determinism constraints:
//   - shards are sorted ascending by id
//   - no timestamps or other runtime-dependent values beyond the run id
//
// The report is observational only: it is written after the outcome is
// decided and never affects execution behavior.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Model     string        `json:"model"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	NumShards int           `json:"num_shards"`
	Status    string        `json:"status"` // "succeeded" or "failed"
	Stage     string        `json:"stage,omitempty"`
	Shards    []ShardReport `json:"shards"`
}

// ShardReport records one shard's slice of the run.
type ShardReport struct {
	ID       int    `json:"id"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Artifact string `json:"artifact"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Canonicalize sorts shards ascending by id.
func (r *RunReport) Canonicalize() {
	sort.Slice(r.Shards, func(i, j int) bool { return r.Shards[i].ID < r.Shards[j].ID })
}

// Write canonicalizes and writes the report. Report writing is best-effort
// diagnosis output; it must never mask the run's own outcome, so callers log
// the returned error instead of propagating it.
func (r *RunReport) Write(path string) error {
	r.Canonicalize()
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}
	return nil
}
