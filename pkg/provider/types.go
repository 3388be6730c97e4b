package provider

import (
	"context"
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
)

// Capabilities declares what features a provider/model combination supports.
// Used by the orchestrator to decide between Stream and Complete, and to
// gate tool payload injection.
type Capabilities struct {
	// Streaming indicates whether the provider supports streaming responses.
	Streaming bool

	// ToolCalling indicates whether the provider supports function/tool calls.
	ToolCalling bool

	// Vision indicates whether the provider supports image inputs.
	Vision bool

	// Reasoning indicates whether the provider emits a separate reasoning channel.
	Reasoning bool
}

// Request is the provider-facing call payload. It contains only what the
// provider needs: the rendered conversation, the target model, and the
// per-request parameter overrides.
type Request struct {
	Model        string
	Messages     []api.Message
	SystemPrompt string

	// Params holds per-request parameter overrides. They are merged over
	// the client's stored configuration overrides: request scalars win,
	// object values shallow-merge, array values concatenate.
	Params map[string]any

	// Tools are the callable tools advertised to the model. Injected into
	// the request body only when non-empty.
	Tools []Tool

	// Timeout is the caller-requested read timeout. For streaming calls the
	// effective idle timeout never drops below the configured floor.
	Timeout time.Duration
}

// Tool pairs a tool definition with its invocation function. The client
// executes tool calls itself and folds the results into follow-up messages
// carried on the ToolCall event.
type Tool struct {
	api.ToolDefinition

	// Invoke runs the tool with the model-supplied JSON arguments and
	// returns the output text fed back to the model.
	Invoke func(ctx context.Context, arguments string) (string, error)
}

// ProviderEventType classifies an event produced by a provider call.
type ProviderEventType int

const (
	ProviderEventContentDelta   ProviderEventType = iota // Incremental final-channel text
	ProviderEventReasoningDelta                          // Incremental reasoning/thinking text
	ProviderEventToolCall                                // Tool round: re-invoke with follow-up messages
	ProviderEventFinal                                   // Terminal result of one call attempt
	ProviderEventError                                   // Terminal failure of one call attempt
)

// ProviderEvent is a single normalized event from a provider call. Exactly
// one of Final or Error terminates a call attempt; delta events may occur
// zero or more times before it.
type ProviderEvent struct {
	// Type indicates what kind of event this is.
	Type ProviderEventType

	// Text contains incremental content for delta events.
	Text string

	// Narration is optional assistant text accompanying a tool round.
	Narration string

	// Calls holds the raw tool invocations requested by the model
	// (populated by the adapter on ToolCall events).
	Calls []api.ToolCall

	// Followup lists the messages to append to the working conversation
	// before the next call iteration (populated by the client after tool
	// execution).
	Followup []api.Message

	// Content is the complete final text (Final events).
	Content string

	// Meta carries usage/timing/model info on Final events.
	Meta *api.FinalMeta

	// Err is the classified failure on Error events.
	Err *api.Error
}

// Terminal reports whether the event ends a call attempt.
func (e ProviderEvent) Terminal() bool {
	return e.Type == ProviderEventFinal || e.Type == ProviderEventError
}

// ModelInfo holds information about a model served by a provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ChatProvider abstracts one upstream inference backend for the ensemble
// orchestrator. Implementations must be safe for concurrent use by
// multiple goroutines.
type ChatProvider interface {
	// Name returns the provider configuration identifier.
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// Complete performs non-streaming inference. The returned slice always
	// ends with exactly one Final event; failures are returned as an error.
	Complete(ctx context.Context, req *Request) ([]ProviderEvent, error)

	// Stream performs streaming inference. The returned channel is closed
	// after a terminal event; in-stream failures surface as an Error event.
	Stream(ctx context.Context, req *Request) (<-chan ProviderEvent, error)
}
