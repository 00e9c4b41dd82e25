package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shardgen/internal/backend"
)

// echoCompleter answers every prompt with a completion derived from the
// prompt's final question line, recording batch sizes as it goes.
type echoCompleter struct {
	batches []int
	fail    error
}

func (e *echoCompleter) Complete(_ context.Context, req backend.CompletionRequest) ([]backend.Completion, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	e.batches = append(e.batches, len(req.Prompts))
	out := make([]backend.Completion, len(req.Prompts))
	for i, p := range req.Prompts {
		lines := strings.Split(p, "\n")
		question := strings.TrimPrefix(lines[len(lines)-2], "Question: ")
		out[i] = backend.Completion{Text: " echo " + question, FinishReason: "stop"}
	}
	return out, nil
}

func writeExamples(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"id":"e%d","question":"question %d?"}`+"\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func baseOptions(t *testing.T, input string) Options {
	return Options{
		Model:            "code-davinci-002",
		Input:            input,
		Output:           filepath.Join(t.TempDir(), "out.jsonl"),
		MaxNumExamples:   1000,
		MaxGenerationLen: 32,
		BatchSize:        4,
		NumShards:        1,
		ShardID:          0,
	}
}

func TestRun_WritesOneRecordPerExampleInOrder(t *testing.T) {
	input := writeExamples(t, 10)
	opts := baseOptions(t, input)

	c := &echoCompleter{}
	require.NoError(t, Run(context.Background(), zap.NewNop(), opts, c))

	recs := readRecords(t, opts.Output)
	require.Len(t, recs, 10)
	for i, r := range recs {
		assert.Equal(t, fmt.Sprintf("e%d", i), r.ID)
		assert.Equal(t, fmt.Sprintf(" echo question %d?", i), r.Output)
		assert.Equal(t, "stop", r.FinishReason)
	}
	// 10 examples at batch size 4 => 4,4,2.
	assert.Equal(t, []int{4, 4, 2}, c.batches)
}

func TestRun_ProcessesOnlyItsShardRange(t *testing.T) {
	input := writeExamples(t, 10)

	opts := baseOptions(t, input)
	opts.NumShards = 2
	opts.ShardID = 1

	require.NoError(t, Run(context.Background(), zap.NewNop(), opts, &echoCompleter{}))

	recs := readRecords(t, opts.Output)
	require.Len(t, recs, 5)
	assert.Equal(t, "e5", recs[0].ID)
	assert.Equal(t, "e9", recs[4].ID)
}

func TestRun_CapsExamplesBeforeSharding(t *testing.T) {
	input := writeExamples(t, 10)

	opts := baseOptions(t, input)
	opts.MaxNumExamples = 6
	opts.NumShards = 2
	opts.ShardID = 1

	require.NoError(t, Run(context.Background(), zap.NewNop(), opts, &echoCompleter{}))

	// Capped view is e0..e5; shard 1 of 2 owns e3..e5.
	recs := readRecords(t, opts.Output)
	require.Len(t, recs, 3)
	assert.Equal(t, "e3", recs[0].ID)
	assert.Equal(t, "e5", recs[2].ID)
}

func TestRun_EmptyShardWritesEmptyArtifact(t *testing.T) {
	input := writeExamples(t, 5)

	opts := baseOptions(t, input)
	opts.NumShards = 4
	opts.ShardID = 3 // size ceil(5/4)=2 => shard 3 owns [5,5), empty

	require.NoError(t, Run(context.Background(), zap.NewNop(), opts, &echoCompleter{}))

	info, err := os.Stat(opts.Output)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRun_BackendFailureIsFatal(t *testing.T) {
	input := writeExamples(t, 3)
	opts := baseOptions(t, input)

	err := Run(context.Background(), zap.NewNop(), opts, &echoCompleter{fail: errors.New("backend down")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestRun_AgainstHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt []string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp struct {
			Choices []struct {
				Index        int    `json:"index"`
				Text         string `json:"text"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		for i := range req.Prompt {
			resp.Choices = append(resp.Choices, struct {
				Index        int    `json:"index"`
				Text         string `json:"text"`
				FinishReason string `json:"finish_reason"`
			}{Index: i, Text: " generated", FinishReason: "stop"})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	input := writeExamples(t, 3)
	opts := baseOptions(t, input)

	client := backend.NewClient(srv.URL, "sk-test", backend.Capabilities{RequestsPerMinute: 100000})
	require.NoError(t, Run(context.Background(), zap.NewNop(), opts, client))

	recs := readRecords(t, opts.Output)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, " generated", r.Output)
	}
}

func TestRun_RejectsOutOfRangeShard(t *testing.T) {
	input := writeExamples(t, 3)
	opts := baseOptions(t, input)
	opts.NumShards = 2
	opts.ShardID = 5

	assert.Error(t, Run(context.Background(), zap.NewNop(), opts, &echoCompleter{}))
}
