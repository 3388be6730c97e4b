// Package transport bridges the ensemble orchestrator and external clients.
//
// The outbound wire protocol is newline-delimited push frames of the form
// "data: <json>\n\n", one per event, terminated unconditionally by
// "data: [DONE]\n\n". The Encoder produces this protocol from any event
// Source, isolating serialization failures per event so one bad event never
// tears down the stream, and sanitizing error messages before they reach
// the client.
//
// The HTTP layer exposes the turn endpoint (POST /v1/turns), a cancellation
// endpoint (DELETE /v1/turns/{id}), and health/metrics routes. Middleware
// provides panic recovery, request ID assignment (X-Request-ID), and
// structured logging via log/slog.
package transport
