package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

func TestAuthHeader(t *testing.T) {
	a := New()

	name, value := a.AuthHeader("sk-test")
	if name != "Authorization" || value != "Bearer sk-test" {
		t.Errorf("AuthHeader = %q: %q", name, value)
	}

	name, _ = a.AuthHeader("")
	if name != "" {
		t.Errorf("empty key should disable the header, got %q", name)
	}
}

func TestMapParametersRenames(t *testing.T) {
	a := New()
	mapped := a.MapParameters(map[string]any{
		"max_output_tokens": 512,
		"stop_sequences":    []any{"###"},
		"temperature":       0.7,
	})

	if mapped["max_tokens"] != 512 {
		t.Errorf("max_tokens = %v", mapped["max_tokens"])
	}
	if _, ok := mapped["max_output_tokens"]; ok {
		t.Error("generic key should be renamed, not duplicated")
	}
	if _, ok := mapped["stop"]; !ok {
		t.Error("stop_sequences should map to stop")
	}
	if mapped["temperature"] != 0.7 {
		t.Errorf("unknown keys must pass through, temperature = %v", mapped["temperature"])
	}
}

func TestBuildRequestBody(t *testing.T) {
	a := New()
	req := &provider.Request{
		Model:        "gpt-test",
		SystemPrompt: "You are terse.",
		Messages: []api.Message{
			{Role: api.RoleUser, Content: "hi"},
		},
		Tools: []provider.Tool{{
			ToolDefinition: api.ToolDefinition{
				Name:        "get_weather",
				Description: "Current weather",
				Parameters:  json.RawMessage(`{"type": "object"}`),
			},
		}},
	}

	body, err := a.BuildRequestBody(req, map[string]any{"temperature": 0.2, "model": "injected"}, true)
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}
	m := body.(map[string]any)

	if m["model"] != "gpt-test" {
		t.Errorf("parameters must not override the model, got %v", m["model"])
	}
	if m["stream"] != true {
		t.Errorf("stream = %v", m["stream"])
	}
	if m["temperature"] != 0.2 {
		t.Errorf("temperature = %v", m["temperature"])
	}
	if _, ok := m["stream_options"]; !ok {
		t.Error("streaming requests should ask for usage in the stream")
	}

	messages := m["messages"].([]chatMessage)
	if len(messages) != 2 || messages[0].Role != api.RoleSystem || messages[0].Content != "You are terse." {
		t.Errorf("messages = %+v, want system prompt first", messages)
	}

	tools := m["tools"].([]chatTool)
	if len(tools) != 1 || tools[0].Function.Name != "get_weather" || tools[0].Type != "function" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestBuildRequestBodyRequiresModel(t *testing.T) {
	a := New()
	if _, err := a.BuildRequestBody(&provider.Request{}, nil, false); err == nil {
		t.Error("expected an error for a request without a model")
	}
}

func TestBuildRequestBodyOmitsToolsWhenEmpty(t *testing.T) {
	a := New()
	req := &provider.Request{
		Model:    "gpt-test",
		Messages: []api.Message{{Role: api.RoleUser, Content: "hi"}},
	}
	body, err := a.BuildRequestBody(req, map[string]any{"tools": "junk"}, false)
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}
	m := body.(map[string]any)
	if _, ok := m["tools"]; ok {
		t.Error("tools must be absent when the request carries none")
	}
	if _, ok := m["stream_options"]; ok {
		t.Error("stream_options must be absent on non-streaming requests")
	}
}

func TestParseResponseText(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
	}`)

	events, err := New().ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	final := events[0]
	if final.Type != provider.ProviderEventFinal || final.Content != "Hello!" {
		t.Errorf("final = %+v", final)
	}
	if final.Meta.FinishReason != "stop" || final.Meta.Model != "gpt-test" {
		t.Errorf("meta = %+v", final.Meta)
	}
	if final.Meta.Usage == nil || final.Meta.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", final.Meta.Usage)
	}
}

func TestParseResponseToolCalls(t *testing.T) {
	body := []byte(`{
		"model": "gpt-test",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "Let me check that.",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\": \"Oslo\"}"}}]
			},
			"finish_reason": "tool_calls"
		}]
	}`)

	events, err := New().ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want ToolCall + Final", len(events))
	}
	if events[0].Type != provider.ProviderEventToolCall {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[0].Narration != "Let me check that." {
		t.Errorf("narration = %q", events[0].Narration)
	}
	if len(events[0].Calls) != 1 || events[0].Calls[0].Function.Name != "get_weather" {
		t.Errorf("calls = %+v", events[0].Calls)
	}
	if events[1].Type != provider.ProviderEventFinal || events[1].Meta.FinishReason != "tool_calls" {
		t.Errorf("final = %+v", events[1])
	}
}

func TestParseResponseNullContent(t *testing.T) {
	body := []byte(`{
		"model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": null}, "finish_reason": "stop"}]
	}`)

	events, err := New().ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(events) != 1 || events[0].Content != "" {
		t.Errorf("events = %+v, want single empty final", events)
	}
}

func TestParseResponseNoChoices(t *testing.T) {
	events, err := New().ParseResponse([]byte(`{"model": "gpt-test", "choices": []}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none so the caller reports no final message", events)
	}
}

func TestParseModels(t *testing.T) {
	body := []byte(`{"object": "list", "data": [
		{"id": "gpt-test", "object": "model", "owned_by": "org"},
		{"id": "gpt-mini"}
	]}`)

	models, err := New().ParseModels(body)
	if err != nil {
		t.Fatalf("ParseModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-test" || models[0].OwnedBy != "org" {
		t.Errorf("models = %+v", models)
	}
}

func TestAdapterIsRegistered(t *testing.T) {
	a, ok := provider.Lookup(AdapterName)
	if !ok {
		t.Fatal("openai-compat adapter not registered")
	}
	if a.Name() != AdapterName {
		t.Errorf("Name = %q", a.Name())
	}
}
