package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

func decode(t *testing.T, d provider.ChunkDecoder, payload string) *provider.ProviderEvent {
	t.Helper()
	ev, err := d.Decode(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Decode(%s): %v", payload, err)
	}
	return ev
}

func TestChunkDecoderContentDeltas(t *testing.T) {
	d := newChunkDecoder()

	if ev := decode(t, d, `{"model": "gpt-test", "choices": [{"index": 0, "delta": {"role": "assistant"}, "finish_reason": null}]}`); ev != nil {
		t.Errorf("role-only chunk produced %+v", ev)
	}

	ev := decode(t, d, `{"choices": [{"index": 0, "delta": {"content": "Hel"}, "finish_reason": null}]}`)
	if ev == nil || ev.Type != provider.ProviderEventContentDelta || ev.Text != "Hel" {
		t.Fatalf("delta = %+v", ev)
	}
	decode(t, d, `{"choices": [{"index": 0, "delta": {"content": "lo"}, "finish_reason": null}]}`)

	final := decode(t, d, `{"choices": [{"index": 0, "delta": {}, "finish_reason": "stop"}]}`)
	if final == nil || final.Type != provider.ProviderEventFinal {
		t.Fatalf("final = %+v", final)
	}
	if final.Content != "Hello" {
		t.Errorf("accumulated content = %q, want Hello", final.Content)
	}
	if final.Meta.Model != "gpt-test" || final.Meta.FinishReason != "stop" {
		t.Errorf("meta = %+v", final.Meta)
	}
	if trailing := d.Finalize(); len(trailing) != 0 {
		t.Errorf("Finalize = %+v, want none without tool calls", trailing)
	}
}

func TestChunkDecoderReasoningDeltas(t *testing.T) {
	d := newChunkDecoder()

	ev := decode(t, d, `{"choices": [{"index": 0, "delta": {"reasoning_content": "thinking..."}, "finish_reason": null}]}`)
	if ev == nil || ev.Type != provider.ProviderEventReasoningDelta || ev.Text != "thinking..." {
		t.Fatalf("reasoning delta = %+v", ev)
	}

	final := decode(t, d, `{"choices": [{"index": 0, "delta": {"content": "42"}, "finish_reason": "stop"}]}`)
	if final.Content != "42" {
		t.Errorf("reasoning text must not leak into final content, got %q", final.Content)
	}
}

func TestChunkDecoderTrailingUsageUpdatesFinal(t *testing.T) {
	d := newChunkDecoder()

	decode(t, d, `{"choices": [{"index": 0, "delta": {"content": "ok"}, "finish_reason": null}]}`)
	first := decode(t, d, `{"choices": [{"index": 0, "delta": {}, "finish_reason": "stop"}]}`)
	if first.Meta.Usage != nil {
		t.Errorf("usage arrived early: %+v", first.Meta.Usage)
	}

	// stream_options.include_usage sends a final usage-only chunk.
	updated := decode(t, d, `{"choices": [], "usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}}`)
	if updated == nil || updated.Type != provider.ProviderEventFinal {
		t.Fatalf("usage chunk = %+v, want re-issued final", updated)
	}
	if updated.Meta.Usage == nil || updated.Meta.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", updated.Meta.Usage)
	}
	if updated.Content != "ok" {
		t.Errorf("content = %q", updated.Content)
	}
}

func TestChunkDecoderUsageBeforeFinishIsBuffered(t *testing.T) {
	d := newChunkDecoder()

	if ev := decode(t, d, `{"choices": [], "usage": {"total_tokens": 3}}`); ev != nil {
		t.Errorf("usage before finish produced %+v", ev)
	}
	final := decode(t, d, `{"choices": [{"index": 0, "delta": {}, "finish_reason": "stop"}]}`)
	if final.Meta.Usage == nil || final.Meta.Usage.TotalTokens != 3 {
		t.Errorf("buffered usage lost: %+v", final.Meta.Usage)
	}
}

func TestChunkDecoderAssemblesToolCalls(t *testing.T) {
	d := newChunkDecoder()

	// Fragmented arguments across chunks, two interleaved calls.
	chunks := []string{
		`{"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "id": "call_a", "type": "function", "function": {"name": "get_weather", "arguments": ""}}]}, "finish_reason": null}]}`,
		`{"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "function": {"arguments": "{\"city\": "}}]}, "finish_reason": null}]}`,
		`{"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 1, "id": "call_b", "function": {"name": "get_time", "arguments": "{}"}}]}, "finish_reason": null}]}`,
		`{"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "function": {"arguments": "\"Oslo\"}"}}]}, "finish_reason": null}]}`,
	}
	for _, chunk := range chunks {
		if ev := decode(t, d, chunk); ev != nil {
			t.Errorf("tool fragments must be buffered silently, got %+v", ev)
		}
	}

	final := decode(t, d, `{"choices": [{"index": 0, "delta": {}, "finish_reason": "tool_calls"}]}`)
	if final == nil || final.Type != provider.ProviderEventFinal {
		t.Fatalf("final = %+v", final)
	}

	trailing := d.Finalize()
	if len(trailing) != 1 || trailing[0].Type != provider.ProviderEventToolCall {
		t.Fatalf("Finalize = %+v, want one ToolCall event", trailing)
	}
	calls := trailing[0].Calls
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want 2", calls)
	}
	if calls[0].ID != "call_a" || calls[0].Function.Name != "get_weather" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[0].Function.Arguments != `{"city": "Oslo"}` {
		t.Errorf("arguments = %q, want fragments joined in order", calls[0].Function.Arguments)
	}
	if calls[1].ID != "call_b" || calls[1].Function.Name != "get_time" {
		t.Errorf("calls[1] = %+v", calls[1])
	}

	if again := d.Finalize(); len(again) != 0 {
		t.Errorf("second Finalize = %+v, want buffers cleared", again)
	}
}

func TestChunkDecoderToolNarration(t *testing.T) {
	d := newChunkDecoder()

	decode(t, d, `{"choices": [{"index": 0, "delta": {"content": "Checking the weather."}, "finish_reason": null}]}`)
	decode(t, d, `{"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "id": "call_1", "function": {"name": "get_weather", "arguments": "{}"}}]}, "finish_reason": null}]}`)
	decode(t, d, `{"choices": [{"index": 0, "delta": {}, "finish_reason": "tool_calls"}]}`)

	trailing := d.Finalize()
	if len(trailing) != 1 || trailing[0].Narration != "Checking the weather." {
		t.Errorf("Finalize = %+v, want narration carried on the tool event", trailing)
	}
}

func TestChunkDecoderRejectsGarbage(t *testing.T) {
	d := newChunkDecoder()
	if _, err := d.Decode(json.RawMessage(`{"choices": "not an array"}`)); err == nil {
		t.Error("expected an error for a structurally invalid chunk")
	}
}
