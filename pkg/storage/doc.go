// Package storage defines the persistence contracts consumed by the
// ensemble orchestrator (saving assistant messages, recording per-call
// usage) plus helpers shared by the adapter implementations.
//
// Adapters live in subpackages: memory (testing and lightweight
// deployments) and postgres (production).
package storage
