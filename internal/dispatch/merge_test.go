package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeShards_AscendingShardIDOrder(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.jsonl")

	// Write artifacts in a scrambled order; the merge must still follow ids.
	for _, id := range []int{2, 0, 1} {
		content := fmt.Sprintf("line-a-%d\nline-b-%d\n", id, id)
		require.NoError(t, os.WriteFile(ShardArtifact(output, id), []byte(content), 0o644))
	}

	require.NoError(t, mergeShards(output, 3))

	merged, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t,
		"line-a-0\nline-b-0\nline-a-1\nline-b-1\nline-a-2\nline-b-2\n",
		string(merged))

	for i := 0; i < 3; i++ {
		_, err := os.Stat(ShardArtifact(output, i))
		assert.True(t, os.IsNotExist(err), "artifact %d should be removed", i)
	}
}

func TestMergeShards_MissingArtifactIsMergeError(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(ShardArtifact(output, 0), []byte("a\n"), 0o644))
	// shard 1 artifact is missing

	err := mergeShards(output, 2)
	var me *MergeError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, StageMerge, me.Stage())

	// The surviving artifact is retained.
	_, statErr := os.Stat(ShardArtifact(output, 0))
	assert.NoError(t, statErr)
}

func TestMergeShards_EmptyShardArtifactsAllowed(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(ShardArtifact(output, 0), []byte("only\n"), 0o644))
	require.NoError(t, os.WriteFile(ShardArtifact(output, 1), nil, 0o644))

	require.NoError(t, mergeShards(output, 2))

	merged, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "only\n", string(merged))
}
