package dispatch

import (
	"fmt"
	"io"
	"os"
)

// ShardArtifact returns the path of shard i's output file.
func ShardArtifact(output string, shardID int) string {
	return fmt.Sprintf("%s.%d", output, shardID)
}

// mergeShards concatenates the shard artifacts {output}.0 .. {output}.{n-1}
// in ascending shard-id order into {output}, then deletes them.
//
// Runs strictly after the join barrier and only when every worker succeeded.
// Any I/O failure, including cleanup, retains all remaining shard artifacts
// so a failed merge can be re-driven or inspected by hand.
func mergeShards(output string, numShards int) error {
	merged, err := os.Create(output)
	if err != nil {
		return &MergeError{Output: output, Err: err}
	}

	for i := 0; i < numShards; i++ {
		part, err := os.Open(ShardArtifact(output, i))
		if err != nil {
			merged.Close()
			return &MergeError{Output: output, Err: err}
		}
		_, err = io.Copy(merged, part)
		part.Close()
		if err != nil {
			merged.Close()
			return &MergeError{Output: output, Err: fmt.Errorf("copying shard %d: %w", i, err)}
		}
	}
	if err := merged.Close(); err != nil {
		return &MergeError{Output: output, Err: err}
	}

	for i := 0; i < numShards; i++ {
		if err := os.Remove(ShardArtifact(output, i)); err != nil {
			return &MergeError{Output: output, Err: fmt.Errorf("removing shard %d artifact: %w", i, err)}
		}
	}
	return nil
}
