// Package shard defines the deterministic partition of an example index space.
//
// The partition rule is contiguous blocks of size ceil(E/N): shard i owns the
// half-open range [i*size, min((i+1)*size, E)). The rule is a pure function of
// (E, N), so repeated runs over the same input always produce the same
// partition. Trailing shards may be empty when N does not divide E.
package shard

import "fmt"

// Range is a half-open interval [Start, End) over example indices.
type Range struct {
	Start int
	End   int
}

// Len returns the number of examples in the range.
func (r Range) Len() int { return r.End - r.Start }

// Empty reports whether the range contains no examples.
func (r Range) Empty() bool { return r.Len() <= 0 }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Shard identifies one partition of the example index space.
type Shard struct {
	ID        int
	NumShards int
	Range     Range
}

// Plan computes the full partition of total examples into numShards shards.
//
// Invariants:
//   - every index in [0, total) belongs to exactly one shard (no gaps, no overlaps)
//   - shards are returned in ascending ID order
//   - identical (total, numShards) always yields an identical plan
func Plan(total, numShards int) ([]Shard, error) {
	if total < 0 {
		return nil, fmt.Errorf("shard: negative example count %d", total)
	}
	if numShards < 1 {
		return nil, fmt.Errorf("shard: num_shards must be >= 1, got %d", numShards)
	}

	size := ceilDiv(total, numShards)
	shards := make([]Shard, numShards)
	for i := 0; i < numShards; i++ {
		start := i * size
		end := start + size
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		shards[i] = Shard{ID: i, NumShards: numShards, Range: Range{Start: start, End: end}}
	}
	return shards, nil
}

// Slice computes the range owned by a single (shardID, numShards) pair.
// It is the per-worker view of Plan: Slice(total, n, i) == Plan(total, n)[i].Range.
func Slice(total, numShards, shardID int) (Range, error) {
	if shardID < 0 || shardID >= numShards {
		return Range{}, fmt.Errorf("shard: shard_id %d out of range [0,%d)", shardID, numShards)
	}
	shards, err := Plan(total, numShards)
	if err != nil {
		return Range{}, err
	}
	return shards[shardID].Range, nil
}

func ceilDiv(a, b int) int {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}
