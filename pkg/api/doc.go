// Package api defines the domain types shared across the turn engine:
// chat messages, outbound stream events, usage metadata, and the
// structured error taxonomy used by the provider client and the
// outbound encoder.
package api
