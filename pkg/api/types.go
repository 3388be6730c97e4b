package api

import "encoding/json"

// Message roles in provider conversation format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the rendered conversation context sent to a
// provider, in Chat Completions format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and raw JSON arguments of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage reports token consumption for one provider call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// FinalMeta carries usage, timing, and model information attached to the
// terminal event of a provider call.
type FinalMeta struct {
	Model          string `json:"model,omitempty"`
	Usage          *Usage `json:"usage,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	FinishReason   string `json:"finish_reason,omitempty"`
}

// SourceRef identifies a retrieval source used while assembling a prompt.
// It travels with the variant so the reference resolver can reconcile
// citations in the final content.
type SourceRef struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id,omitempty"`
	Title           string         `json:"title,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
