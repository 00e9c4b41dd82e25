// Package dataset loads JSONL example files and renders the prompts a worker
// sends to the generation backend.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Example is one input record. Question is required; Answer, when present, is
// the gold answer and is carried through to the output for later scoring.
type Example struct {
	ID       string `json:"id,omitempty"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// Load reads every example from a JSONL file, one JSON object per line.
// Blank lines are skipped. Records without a question are rejected: silently
// dropping them would shift shard boundaries between runs.
func Load(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	var examples []Example
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("input line %d: %w", line, err)
		}
		if ex.Question == "" {
			return nil, fmt.Errorf("input line %d: missing question", line)
		}
		if ex.ID == "" {
			ex.ID = strconv.Itoa(line)
		}
		examples = append(examples, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return examples, nil
}

// Cap limits examples to the first max entries. The cap is applied before
// sharding so that every worker sees the same capped view of the input.
func Cap(examples []Example, max int) []Example {
	if max > 0 && len(examples) > max {
		return examples[:max]
	}
	return examples
}
