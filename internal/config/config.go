// Package config holds the immutable run configuration of the dispatcher.
//
// A Config is assembled once at startup from defaults, an optional YAML file,
// environment overrides, and finally command-line flags (highest precedence),
// then validated. After validation it is read-only.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"shardgen/internal/backend"
)

// DebugMaxExamples is the bounded sample size used by debug runs.
const DebugMaxExamples = 32

// DebugOutputSuffix is appended to the configured output path to form the
// fixed debug output path.
const DebugOutputSuffix = ".debug"

// Config is the recognized option set for one dispatch run.
type Config struct {
	// Model selects the generation backend. Whether sharding is allowed is a
	// capability of the model, resolved from the backend table.
	Model string `yaml:"model"`

	// Input is the JSONL example file. Output is the merged result path;
	// shard artifacts live at {output}.{shard_id} while workers run.
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	MaxNumExamples   int `yaml:"max_num_examples"`
	MaxGenerationLen int `yaml:"max_generation_len"`
	BatchSize        int `yaml:"batch_size"`
	Fewshot          int `yaml:"fewshot"`
	NumShards        int `yaml:"num_shards"`

	// Debug selects the bounded single-shard variant writing to the fixed
	// debug output path.
	Debug bool `yaml:"debug"`

	// BuildIndex makes the dispatcher ensure the index artifact for Input
	// exists before any worker launches.
	BuildIndex bool `yaml:"build_index"`

	// CredentialsFile holds the ordered credential set, one per line.
	CredentialsFile string `yaml:"credentials_file"`

	// Endpoint overrides the generation service endpoint (e.g. a local test
	// backend). Empty selects the backend default.
	Endpoint string `yaml:"endpoint"`

	// Report, when set, is where the run report is written.
	Report string `yaml:"report"`
}

// Default returns the configuration baseline before file/env/flag merging.
func Default() Config {
	return Config{
		Model:            "code-davinci-002",
		BatchSize:        8,
		Fewshot:          6,
		MaxGenerationLen: 128,
		NumShards:        1,
	}
}

// LoadFile merges a YAML config file over cfg. Unknown keys are rejected so a
// typo cannot silently drop an option.
func LoadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides applies environment-derived settings that are not part of
// the worker credential contract: only the endpoint override participates
// here. Worker credentials are always passed explicitly per invocation, never
// read ambiently by the dispatcher.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(backend.EndpointEnvVar); v != "" && c.Endpoint == "" {
		c.Endpoint = v
	}
}

// Validate checks the option set before any worker launches. Violations are
// configuration errors and fatal immediately.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Input == "" {
		return fmt.Errorf("input is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	if c.MaxNumExamples <= 0 {
		return fmt.Errorf("max_num_examples must be > 0, got %d", c.MaxNumExamples)
	}
	if c.MaxGenerationLen <= 0 {
		return fmt.Errorf("max_generation_len must be > 0, got %d", c.MaxGenerationLen)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.Fewshot < 0 {
		return fmt.Errorf("fewshot must be >= 0, got %d", c.Fewshot)
	}
	if c.NumShards < 1 {
		return fmt.Errorf("num_shards must be >= 1, got %d", c.NumShards)
	}
	if dir := filepath.Dir(c.Output); dir != "." {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("output directory %s does not exist: %v", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("output directory %s is not a directory", dir)
		}
	}
	return nil
}

// EffectiveNumShards resolves the worker count for the configured model: the
// configured shard count when the backend supports sharding, otherwise 1.
func (c *Config) EffectiveNumShards() int {
	if backend.Resolve(c.Model).SupportsSharding {
		return c.NumShards
	}
	return 1
}

// DebugOutput is the fixed path debug runs write to.
func (c *Config) DebugOutput() string {
	return c.Output + DebugOutputSuffix
}
