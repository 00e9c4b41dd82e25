// Package credentials loads the ordered credential set used to authorize
// worker invocations, one credential per shard when sharding is active.
package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"shardgen/internal/backend"
)

// Set is an ordered sequence of opaque credential strings. Order is
// significant: shard i is always authorized by Set[i].
type Set []string

// LoadFile reads credentials from a file, one per line. Blank lines and
// lines starting with '#' are ignored. Order in the file is preserved.
func LoadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	var set Set
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set = append(set, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("credentials file %s contains no credentials", path)
	}
	return set, nil
}

// FromEnv builds a single-credential set from the process environment.
// Used when no credentials file is configured.
func FromEnv() (Set, error) {
	if v := os.Getenv(backend.CredentialEnvVar); v != "" {
		return Set{v}, nil
	}
	return nil, fmt.Errorf("no credentials: set %s or configure a credentials file", backend.CredentialEnvVar)
}

// Load resolves the credential set: the file when configured, otherwise the
// environment fallback.
func Load(file string) (Set, error) {
	if file != "" {
		return LoadFile(file)
	}
	return FromEnv()
}
