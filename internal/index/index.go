// Package index manages the retrieval index artifact consumed by workers.
//
// The artifact is keyed by the input path: it lives in the sibling directory
// {input}.index and records the SHA-256 digest of the input it was built from
// plus the element count. The digest makes the build idempotent per distinct
// input: rebuilding is skipped while the stored digest matches the current
// file. Workers treat the artifact as read-only.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"shardgen/internal/dataset"
)

const metaFile = "meta.json"

// Handle describes a built index artifact. The element count is the only
// content-level observable; the rest of the structure is opaque to callers.
type Handle struct {
	Dir      string `json:"-"`
	Digest   string `json:"digest"`
	Elements int    `json:"elements"`
}

// Dir returns the artifact directory for an input path.
func Dir(input string) string { return input + ".index" }

// Build constructs the index artifact for the input file, overwriting any
// previous artifact for the same input. The input must be a well-formed
// example file; a malformed input fails the build before anything is written.
func Build(input string) (Handle, error) {
	examples, err := dataset.Load(input)
	if err != nil {
		return Handle{}, fmt.Errorf("indexing %s: %w", input, err)
	}
	digest, err := fileDigest(input)
	if err != nil {
		return Handle{}, err
	}

	h := Handle{Dir: Dir(input), Digest: digest, Elements: len(examples)}
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("creating index dir: %w", err)
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return Handle{}, err
	}
	// Write-then-rename so a crashed build never leaves a readable half meta.
	tmp := filepath.Join(h.Dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return Handle{}, fmt.Errorf("writing index meta: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(h.Dir, metaFile)); err != nil {
		return Handle{}, fmt.Errorf("finalizing index meta: %w", err)
	}
	return h, nil
}

// Load reads the artifact for an input path. The second return is false when
// no artifact exists.
func Load(input string) (Handle, bool, error) {
	raw, err := os.ReadFile(filepath.Join(Dir(input), metaFile))
	if os.IsNotExist(err) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("reading index meta: %w", err)
	}
	var h Handle
	if err := json.Unmarshal(raw, &h); err != nil {
		return Handle{}, false, fmt.Errorf("parsing index meta: %w", err)
	}
	h.Dir = Dir(input)
	return h, true, nil
}

// UpToDate reports whether a valid artifact already exists for the current
// content of the input file.
func UpToDate(input string) (bool, error) {
	h, ok, err := Load(input)
	if err != nil || !ok {
		return false, err
	}
	digest, err := fileDigest(input)
	if err != nil {
		return false, err
	}
	return h.Digest == digest, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
