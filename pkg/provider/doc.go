// Package provider implements the upstream LLM provider client: request
// construction, streaming and non-streaming response decoding, retry with
// identical-error loop detection, and translation of transport failures
// into the domain error taxonomy.
//
// Per-provider protocol differences are isolated behind the Adapter
// interface; adapters are selected through a string-keyed Registry.
package provider
