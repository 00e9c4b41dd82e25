// Package backend models the generation backends a worker can talk to.
//
// Backend capabilities are resolved once from an explicit table keyed by model
// id. In particular, whether a model family supports credential-per-shard
// parallelism is a static capability flag here, never a runtime match on the
// model name.
package backend

// Capabilities describes what a backend model family supports.
type Capabilities struct {
	// SupportsSharding reports whether the backend tolerates one concurrent
	// request stream per credential. When false the dispatcher always runs a
	// single worker regardless of the configured shard count.
	SupportsSharding bool

	// RequestsPerMinute is the per-credential request budget. The client
	// enforces a minimum interval of 60s/RequestsPerMinute between calls.
	RequestsPerMinute int
}

// CredentialEnvVar is the environment variable a worker reads its credential
// from. The dispatcher sets it per worker invocation; it is the only channel
// by which a credential reaches a worker.
const CredentialEnvVar = "OPENAI_API_KEY"

// EndpointEnvVar optionally overrides the service endpoint, e.g. to point a
// worker at a local test backend.
const EndpointEnvVar = "OPENAI_API_BASE"

// DefaultEndpoint is the completion service used when EndpointEnvVar is unset.
const DefaultEndpoint = "https://api.openai.com/v1"

// defaultCaps applies to model ids absent from the table: a conservative
// non-shardable profile, so unknown backends degrade to one worker.
var defaultCaps = Capabilities{
	SupportsSharding:  false,
	RequestsPerMinute: 10,
}

var capsByModel = map[string]Capabilities{
	"code-davinci-002": {SupportsSharding: true, RequestsPerMinute: 10},
	"text-davinci-002": {SupportsSharding: false, RequestsPerMinute: 10},
	"text-davinci-003": {SupportsSharding: false, RequestsPerMinute: 10},
	"opt-iml-max-175b": {SupportsSharding: false, RequestsPerMinute: 10},
}

// Resolve returns the capabilities for a model id, falling back to the
// non-shardable default for unknown ids.
func Resolve(model string) Capabilities {
	if caps, ok := capsByModel[model]; ok {
		return caps
	}
	return defaultCaps
}

// Known reports whether the model id is present in the capability table.
func Known(model string) bool {
	_, ok := capsByModel[model]
	return ok
}
