package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

// AdapterName is the registry identifier for this provider family.
const AdapterName = "openai-compat"

func init() {
	provider.Register(New())
}

// Adapter speaks the Chat Completions protocol. The zero paths target the
// standard /v1 endpoint layout; gateways with non-standard layouts can be
// configured via NewWithPaths.
type Adapter struct {
	chatPath   string
	modelsPath string
}

var _ provider.Adapter = (*Adapter)(nil)

// New returns the adapter with the standard /v1 endpoint layout.
func New() *Adapter {
	return NewWithPaths("/v1/chat/completions", "/v1/models")
}

// NewWithPaths returns an adapter with custom endpoint paths.
func NewWithPaths(chatPath, modelsPath string) *Adapter {
	return &Adapter{chatPath: chatPath, modelsPath: modelsPath}
}

func (a *Adapter) Name() string       { return AdapterName }
func (a *Adapter) ChatPath() string   { return a.chatPath }
func (a *Adapter) ModelsPath() string { return a.modelsPath }

// AuthHeader uses bearer auth; an empty key sends no header, which local
// backends like vLLM and Ollama accept.
func (a *Adapter) AuthHeader(apiKey string) (string, string) {
	if apiKey == "" {
		return "", ""
	}
	return "Authorization", "Bearer " + apiKey
}

// Capabilities reflects what the Chat Completions protocol itself supports;
// per-model restrictions are applied by configuration overrides.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Streaming:   true,
		ToolCalling: true,
		Vision:      true,
		Reasoning:   true,
	}
}

// MapParameters renames generic parameter keys to their Chat Completions
// wire names. Unknown keys pass through untouched so provider-specific
// extensions keep working.
func (a *Adapter) MapParameters(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	mapped := make(map[string]any, len(params))
	for k, v := range params {
		switch k {
		case "max_output_tokens":
			mapped["max_tokens"] = v
		case "stop_sequences":
			mapped["stop"] = v
		default:
			mapped[k] = v
		}
	}
	return mapped
}

// BuildRequestBody assembles the full request body: protocol fields first,
// then the mapped parameters. Parameters cannot override the protocol
// fields (model, messages, stream, tools).
func (a *Adapter) BuildRequestBody(req *provider.Request, params map[string]any, stream bool) (any, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("request has no model")
	}

	body := make(map[string]any, len(params)+6)
	for k, v := range params {
		body[k] = v
	}

	body["model"] = req.Model
	body["messages"] = buildMessages(req)
	body["stream"] = stream
	if stream {
		body["stream_options"] = chatStreamOptions{IncludeUsage: true}
	} else {
		delete(body, "stream_options")
	}

	if len(req.Tools) > 0 {
		tools := make([]chatTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, chatTool{
				Type: "function",
				Function: chatFunctionDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	} else {
		delete(body, "tools")
	}

	return body, nil
}

// buildMessages renders the conversation, prepending the system prompt when
// the request carries one.
func buildMessages(req *provider.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: api.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: chatFunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, cm)
	}
	return messages
}

// ParseResponse decodes a complete non-streaming response. The returned
// events end with a Final; a tool round additionally yields a ToolCall
// event before it.
func (a *Adapter) ParseResponse(body []byte) ([]provider.ProviderEvent, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		// A 200 with no choices carries no terminal; the client maps this
		// to a no-final-message failure.
		return nil, nil
	}

	choice := resp.Choices[0]
	var events []provider.ProviderEvent

	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	if choice.Message.ReasoningContent != nil && *choice.Message.ReasoningContent != "" {
		events = append(events, provider.ProviderEvent{
			Type: provider.ProviderEventReasoningDelta,
			Text: *choice.Message.ReasoningContent,
		})
	}

	if len(choice.Message.ToolCalls) > 0 {
		events = append(events, provider.ProviderEvent{
			Type:      provider.ProviderEventToolCall,
			Narration: content,
			Calls:     convertToolCalls(choice.Message.ToolCalls),
		})
	}

	final := provider.ProviderEvent{
		Type:    provider.ProviderEventFinal,
		Content: content,
		Meta: &api.FinalMeta{
			Model:        resp.Model,
			FinishReason: choice.FinishReason,
		},
	}
	if resp.Usage != nil {
		final.Meta.Usage = convertUsage(resp.Usage)
	}
	events = append(events, final)

	return events, nil
}

// ParseModels decodes the model discovery listing.
func (a *Adapter) ParseModels(body []byte) ([]provider.ModelInfo, error) {
	var resp chatModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid models response: %w", err)
	}
	models := make([]provider.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, provider.ModelInfo{
			ID:      m.ID,
			Object:  m.Object,
			OwnedBy: m.OwnedBy,
		})
	}
	return models, nil
}

// NewChunkDecoder returns a fresh stateful stream decoder.
func (a *Adapter) NewChunkDecoder() provider.ChunkDecoder {
	return newChunkDecoder()
}

func convertToolCalls(calls []chatToolCall) []api.ToolCall {
	out := make([]api.ToolCall, 0, len(calls))
	for _, tc := range calls {
		callType := tc.Type
		if callType == "" {
			callType = "function"
		}
		out = append(out, api.ToolCall{
			ID:   tc.ID,
			Type: callType,
			Function: api.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func convertUsage(u *chatUsage) *api.Usage {
	return &api.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}
