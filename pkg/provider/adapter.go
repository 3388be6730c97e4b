package provider

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Adapter isolates one provider family's protocol: endpoint layout, auth
// header shape, parameter mapping, request body construction, and response
// decoding. The generic Client drives HTTP and retries and delegates the
// protocol specifics here.
type Adapter interface {
	// Name returns the stable registry identifier (e.g. "openai-compat").
	Name() string

	// ChatPath returns the chat completion endpoint path.
	ChatPath() string

	// ModelsPath returns the model discovery endpoint path.
	ModelsPath() string

	// AuthHeader returns the header name and value carrying the API key.
	// An empty name disables the header.
	AuthHeader(apiKey string) (name, value string)

	// MapParameters renames/normalizes merged parameter overrides into the
	// provider's wire names. The input map must not be mutated.
	MapParameters(params map[string]any) map[string]any

	// BuildRequestBody assembles the full request body: hidden fields
	// (model, messages, stream flag), mapped parameters, and the tool
	// payload when the request carries tools.
	BuildRequestBody(req *Request, params map[string]any, stream bool) (any, error)

	// ParseResponse decodes a complete non-streaming response body into
	// normalized events ending with a terminal event.
	ParseResponse(body []byte) ([]ProviderEvent, error)

	// ParseModels decodes the model discovery response body.
	ParseModels(body []byte) ([]ModelInfo, error)

	// NewChunkDecoder returns a fresh per-stream chunk handler. Chunk
	// decoders are stateful (tool-call argument aggregation) and must not
	// be shared across streams.
	NewChunkDecoder() ChunkDecoder

	// Capabilities returns the feature flags for this provider family.
	Capabilities() Capabilities
}

// ChunkDecoder turns parsed stream chunks into normalized events.
type ChunkDecoder interface {
	// Decode handles one parsed JSON chunk and returns zero or one event.
	Decode(raw json.RawMessage) (*ProviderEvent, error)

	// Finalize is called after the connection closes and may emit trailing
	// events, e.g. flushing aggregated tool-call state.
	Finalize() []ProviderEvent
}

// Registry maps stable identifiers to adapters. The zero value is ready
// to use; Register and Get are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// Register adds an adapter under its Name. Registering a duplicate name
// panics: adapter registration happens at startup and a collision is a
// programming error.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		panic(fmt.Sprintf("provider: adapter %q registered twice", name))
	}
	r.adapters[name] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// defaultRegistry backs the package-level Register/Lookup helpers.
var defaultRegistry Registry

// Register adds an adapter to the default registry.
func Register(a Adapter) {
	defaultRegistry.Register(a)
}

// Lookup returns an adapter from the default registry.
func Lookup(name string) (Adapter, bool) {
	return defaultRegistry.Get(name)
}
